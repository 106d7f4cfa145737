// Package metrics exposes Prometheus instrumentation for the acquisition
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Acquisition metrics
	BytesReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_serial_bytes_read_total",
			Help: "Total number of bytes read from the serial link",
		},
	)

	FramesDecodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_frames_decoded_total",
			Help: "Total number of wire frames decoded into sample batches",
		},
	)

	ResidualDiscardedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_residual_discarded_bytes_total",
			Help: "Undecoded bytes discarded after a link error",
		},
	)

	ConnectFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_serial_connect_failures_total",
			Help: "Total number of failed serial open attempts",
		},
	)

	LinkErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_serial_link_errors_total",
			Help: "Total number of mid-stream serial I/O errors",
		},
	)

	AcquisitionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "miniscope_acquisition_state",
			Help: "Current acquisition state (0 idle, 1 connecting, 2 streaming, 3 error, 4 stopped)",
		},
	)

	// Hand-off queue metrics
	QueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_handoff_dropped_total",
			Help: "Batches evicted from the hand-off queue to admit newer ones",
		},
	)

	QueueSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_handoff_skipped_total",
			Help: "Queued batches discarded when the consumer drained to the newest",
		},
	)

	// Consumer metrics
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_ticks_total",
			Help: "Total number of display ticks executed",
		},
	)

	TicksSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_ticks_suppressed_total",
			Help: "Ticks that held the previous frame in NORMAL trigger mode",
		},
	)

	TriggerFoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "miniscope_trigger_found_total",
			Help: "Ticks on which a qualified trigger was found",
		},
		[]string{"channel"},
	)

	TickDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "miniscope_tick_duration_seconds",
			Help:    "Time spent in one trigger, window, scale and measurement pass",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
	)

	// Audio metrics
	AudioCallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_audio_callbacks_total",
			Help: "Total number of audio device pulls",
		},
	)

	AudioSilentCallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "miniscope_audio_silent_callbacks_total",
			Help: "Audio pulls answered with silence for lack of waveform data",
		},
	)
)
