// Package audio turns the live channel 1 window into a monitor tone.
//
// The Resampler is pulled by the sound device on its own goroutine. It never
// blocks and never fails: whenever no usable waveform is available it
// produces silence.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"miniscope/internal/metrics"
)

// ErrAudioUnavailable is returned by OpenDevice when no sound output can be
// used. Callers disable audio and carry on.
var ErrAudioUnavailable = errors.New("audio output unavailable")

// MinInputSamples is the shortest window that is played; anything shorter
// is treated as no data.
const MinInputSamples = 10

// WaveSource supplies the most recent channel 1 window in volts. The
// returned slice must not be mutated by either side.
type WaveSource interface {
	AudioWindow() []float64
}

// WaveSourceFunc adapts a function to WaveSource.
type WaveSourceFunc func() []float64

func (f WaveSourceFunc) AudioWindow() []float64 { return f() }

// Config holds resampler parameters.
type Config struct {
	OutputRate float64 // device rate in Hz
	InputRate  float64 // acquisition rate in Hz
	Reference  float64 // volts mapped to zero output
	Volume     float64 // initial gain in [0,1]
}

// Resampler converts waveform windows to normalized device samples.
type Resampler struct {
	cfg    Config
	src    WaveSource
	volume atomic.Uint64 // math.Float64bits
}

// NewResampler creates a resampler pulling windows from src. The
// reference must be positive since output is normalized by it.
func NewResampler(cfg Config, src WaveSource) (*Resampler, error) {
	if !(cfg.Reference > 0) {
		return nil, fmt.Errorf("audio reference must be positive, got %v", cfg.Reference)
	}
	r := &Resampler{cfg: cfg, src: src}
	r.SetVolume(cfg.Volume)
	return r, nil
}

// SetVolume sets the gain, clamped to [0,1]. Safe to call while the device
// is pulling.
func (r *Resampler) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))
	r.volume.Store(math.Float64bits(v))
}

// Volume returns the current gain.
func (r *Resampler) Volume() float64 {
	return math.Float64frombits(r.volume.Load())
}

// Fill writes exactly len(out) samples in [-1,1].
func (r *Resampler) Fill(out []float32) {
	metrics.AudioCallbacksTotal.Inc()
	frames := len(out)
	if frames == 0 {
		return
	}

	var volts []float64
	if r.src != nil {
		volts = r.src.AudioWindow()
	}
	if len(volts) < MinInputSamples || r.cfg.InputRate <= 0 || r.cfg.OutputRate <= 0 {
		metrics.AudioSilentCallbacksTotal.Inc()
		clear(out)
		return
	}

	ratio := r.cfg.OutputRate / r.cfg.InputRate
	need := int(math.Ceil(float64(frames)/ratio)) + 2
	input := tail(volts, need)

	ref := r.cfg.Reference
	gain := r.Volume()
	last := float64(len(input) - 1)
	for i := range out {
		// Evenly spaced positions from 0 to len(input)-1 inclusive
		x := 0.0
		if frames > 1 {
			x = last * float64(i) / float64(frames-1)
		}
		v := interpolate(input, x)
		n := (v - ref) / ref * gain
		if math.IsNaN(n) {
			n = 0
		}
		out[i] = float32(math.Max(-1, math.Min(1, n)))
	}
}

// tail returns the newest need samples of volts, repeating the whole window
// cyclically when it is too short.
func tail(volts []float64, need int) []float64 {
	if len(volts) >= need {
		return volts[len(volts)-need:]
	}
	out := make([]float64, need)
	for i := range out {
		out[i] = volts[i%len(volts)]
	}
	return out
}

func interpolate(s []float64, x float64) float64 {
	i := int(x)
	if i >= len(s)-1 {
		return s[len(s)-1]
	}
	frac := x - float64(i)
	return s[i] + (s[i+1]-s[i])*frac
}

// Stream exposes a Resampler as an io.Reader of mono float32 little-endian
// PCM for pull-based players.
type Stream struct {
	r   *Resampler
	buf []float32
}

// NewStream wraps r.
func NewStream(r *Resampler) *Stream {
	return &Stream{r: r}
}

// Read fills p with whole samples. It never returns an error.
func (s *Stream) Read(p []byte) (int, error) {
	frames := len(p) / 4
	if frames == 0 {
		return 0, nil
	}
	if cap(s.buf) < frames {
		s.buf = make([]float32, frames)
	}
	buf := s.buf[:frames]
	s.r.Fill(buf)
	for i, v := range buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	return frames * 4, nil
}
