// Package engine runs the display pipeline: it drains the newest samples,
// keeps per-channel history, triggers, windows, scales and measures, then
// publishes an immutable Frame for frontends, export and audio.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"miniscope/internal/autoscale"
	"miniscope/internal/config"
	"miniscope/internal/display"
	"miniscope/internal/frame"
	"miniscope/internal/logging"
	"miniscope/internal/measure"
	"miniscope/internal/metrics"
	"miniscope/internal/ringbuf"
	"miniscope/internal/trigger"
)

// Source yields the newest sample batch, if any arrived since the last call.
type Source interface {
	Latest() (frame.SampleBatch, bool)
}

// SettingsHook observes every settings change.
type SettingsHook func(Settings)

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSettingsHook registers an observer called after each settings update.
func WithSettingsHook(fn SettingsHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, fn) }
}

// Engine owns the ring buffers, trigger settings and scale state. Tick and
// Run must be driven from a single goroutine; Settings, UpdateSettings,
// Latest and AudioWindow are safe from any goroutine and never block.
type Engine struct {
	src        Source
	sampleRate float64
	divisions  int
	tick       time.Duration
	adcMax     float64
	vref       float64
	hw1, hw2   float64

	buf1, buf2 *ringbuf.Buffer
	scaler     *autoscale.Scaler

	settings atomic.Pointer[Settings]
	latest   atomic.Pointer[Frame]
	seq      uint64

	now    func() time.Time
	hooks  []SettingsHook
	logger zerolog.Logger
}

// New creates an engine reading from src.
func New(cfg *config.Config, src Source, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	if src == nil {
		return nil, fmt.Errorf("engine source cannot be nil")
	}
	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build settings: %w", err)
	}

	e := &Engine{
		src:        src,
		sampleRate: cfg.Acquisition.SampleRate,
		divisions:  cfg.Display.Divisions,
		tick:       cfg.Display.TickInterval,
		adcMax:     cfg.Display.ADCMax,
		vref:       cfg.Display.VRef,
		hw1:        cfg.Channels.CH1.HardwareMultiplier,
		hw2:        cfg.Channels.CH2.HardwareMultiplier,
		buf1:       ringbuf.NewFilled(cfg.Acquisition.BufferSize, 0),
		buf2:       ringbuf.NewFilled(cfg.Acquisition.BufferSize, 0),
		now:        time.Now,
		logger:     logging.Component(logger, "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.scaler = autoscale.New(scaleConfig(cfg), e.now())
	e.scaler.SetEnabled(settings.AutoScale)
	e.settings.Store(&settings)

	return e, nil
}

// scaleConfig starts from the stock auto-ranging parameters and applies
// any configured overrides. Zero values keep the stock value.
func scaleConfig(cfg *config.Config) autoscale.Config {
	sc := autoscale.DefaultConfig(cfg.Acquisition.SampleRate)
	a := cfg.AutoScale
	if a.Timeout > 0 {
		sc.Timeout = a.Timeout
	}
	if a.MarginFraction > 0 {
		sc.MarginFraction = a.MarginFraction
	}
	if a.MinMargin > 0 {
		sc.MinMargin = a.MinMargin
	}
	if a.PaddingFraction > 0 {
		sc.PaddingFraction = a.PaddingFraction
	}
	return sc
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	return *e.settings.Load()
}

// UpdateSettings applies fn to a copy of the current settings and publishes
// the clamped result. fn may run more than once under contention.
func (e *Engine) UpdateSettings(fn func(*Settings)) Settings {
	for {
		old := e.settings.Load()
		next := *old
		fn(&next)
		next = next.normalize(e.adcMax)
		if e.settings.CompareAndSwap(old, &next) {
			for _, hook := range e.hooks {
				hook(next)
			}
			return next
		}
	}
}

// ApplyPatch merges a partial update into the settings.
func (e *Engine) ApplyPatch(p Patch) (Settings, error) {
	if err := p.Validate(); err != nil {
		return e.Settings(), err
	}
	return e.UpdateSettings(func(s *Settings) {
		*s, _ = p.Apply(*s)
	}), nil
}

// Latest returns the most recently published frame, or nil before the first.
func (e *Engine) Latest() *Frame {
	return e.latest.Load()
}

// AudioWindow returns the channel 1 volts of the latest frame.
func (e *Engine) AudioWindow() []float64 {
	f := e.latest.Load()
	if f == nil {
		return nil
	}
	return f.Ch1.Volts
}

// TriggerVolts converts a trigger level in counts to the volts drawn on the
// display for a channel. Offsets are not applied.
func (e *Engine) TriggerVolts(level, hw, mult float64) float64 {
	return level * e.vref / e.adcMax * hw * mult
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	e.logger.Info().Dur("tick", e.tick).Msg("display pipeline started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Uint64("frames", e.seq).Msg("display pipeline stopped")
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			e.Tick()
			metrics.TickDurationSeconds.Observe(time.Since(start).Seconds())
		}
	}
}

// Tick runs one pipeline pass. It reports whether a new frame was published.
// Nothing happens while frozen or when no new batch is available; in NORMAL
// mode a tick without a trigger on both channels leaves the previous frame.
func (e *Engine) Tick() bool {
	metrics.TicksTotal.Inc()
	s := e.settings.Load()
	if s.Frozen {
		return false
	}

	batch, ok := e.src.Latest()
	if !ok {
		return false
	}
	e.buf1.Ingest(batch.Ch1)
	e.buf2.Ingest(batch.Ch2)

	raw1 := e.buf1.Snapshot()
	raw2 := e.buf2.Snapshot()
	n := display.SamplesToShow(s.TimePerDiv, e.sampleRate, e.divisions, len(raw1))

	res1 := trigger.Detector{Config: s.Ch1.trigger()}.Detect(raw1)
	res2 := trigger.Detector{Config: s.Ch2.trigger()}.Detect(raw2)
	if len(res1.Indices) > 0 {
		metrics.TriggerFoundTotal.WithLabelValues("ch1").Inc()
	}
	if len(res2.Indices) > 0 {
		metrics.TriggerFoundTotal.WithLabelValues("ch2").Inc()
	}

	w1, w2, ok := display.SelectPair(raw1, raw2, res1, res2, n, s.Mode)
	if !ok {
		metrics.TicksSuppressedTotal.Inc()
		return false
	}

	now := e.now()
	e.seq++
	f := &Frame{
		Seq:        e.seq,
		Time:       now,
		SampleRate: e.sampleRate,
		Mode:       s.Mode,
		Ch1: ChannelFrame{
			Enabled:      s.Ch1.Enabled,
			Triggered:    len(res1.Indices) > 0,
			TriggerVolts: e.TriggerVolts(s.Ch1.TriggerLevel, e.hw1, s.Ch1.Multiplier),
			Volts:        e.toVolts(w1, s.Ch1, e.hw1),
		},
		Ch2: ChannelFrame{
			Enabled:      s.Ch2.Enabled,
			Triggered:    len(res2.Indices) > 0,
			TriggerVolts: e.TriggerVolts(s.Ch2.TriggerLevel, e.hw2, s.Ch2.Multiplier),
			Volts:        e.toVolts(w2, s.Ch2, e.hw2),
		},
	}

	if s.FFT {
		f.Scale = e.scaler.State()
		f.Spectrum = spectrum(f.Ch1.Volts, f.Ch2.Volts, e.sampleRate)
	} else {
		e.scaler.SetEnabled(s.AutoScale)
		f.Scale = e.scale(f.Ch1.Volts, f.Ch2.Volts, now)
		f.Ch1.Measurement = e.measure(f.Ch1)
		f.Ch2.Measurement = e.measure(f.Ch2)
	}

	e.latest.Store(f)
	return true
}

// toVolts converts counts to displayed volts: (counts·vref/adcMax + offset)
// scaled by the hardware and user multipliers.
func (e *Engine) toVolts(counts []uint16, ch ChannelSettings, hw float64) []float64 {
	scale := e.vref / e.adcMax
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = (float64(c)*scale + ch.Offset) * hw * ch.Multiplier
	}
	return out
}

func (e *Engine) scale(v1, v2 []float64, now time.Time) autoscale.State {
	if len(v1)+len(v2) == 0 {
		return e.scaler.State()
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, vs := range [][]float64{v1, v2} {
		for _, v := range vs {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	return e.scaler.Update(lo, hi, max(len(v1), len(v2)), now)
}

func (e *Engine) measure(ch ChannelFrame) *measure.Measurement {
	if !ch.Enabled || len(ch.Volts) == 0 {
		return nil
	}
	m, ok := measure.Compute(ch.Volts, e.sampleRate)
	if !ok {
		return nil
	}
	return &m
}

func spectrum(v1, v2 []float64, fs float64) *Spectrum {
	freqs, m1, ok := measure.Spectrum(v1, fs)
	if !ok {
		return nil
	}
	sp := &Spectrum{Freqs: freqs, Ch1: m1}
	if _, m2, ok := measure.Spectrum(v2, fs); ok {
		sp.Ch2 = m2
	}
	return sp
}
