// Package autoscale keeps the viewport ranges following the live waveform.
//
// The X range tracks the window length on every update. The Y range expands
// as soon as data leaves it but only contracts after a quiet period, so a
// waveform with intermittent peaks does not make the axis jitter.
package autoscale

import (
	"sync/atomic"
	"time"
)

// State is the current viewport. X is in seconds, Y in volts.
type State struct {
	XMin          float64   `json:"x_min"`
	XMax          float64   `json:"x_max"`
	YMin          float64   `json:"y_min"`
	YMax          float64   `json:"y_max"`
	LastExpansion time.Time `json:"last_expansion"`
}

// Config holds the auto-ranging parameters.
type Config struct {
	SampleRate      float64
	Timeout         time.Duration // quiet period before the Y range may contract
	MarginFraction  float64       // Y margin as a fraction of the data span
	MinMargin       float64       // Y margin in volts when the data is flat
	PaddingFraction float64       // X padding as a fraction of the window length
}

// DefaultConfig returns the stock parameters for sampleRate.
func DefaultConfig(sampleRate float64) Config {
	return Config{
		SampleRate:      sampleRate,
		Timeout:         5 * time.Second,
		MarginFraction:  0.1,
		MinMargin:       0.1,
		PaddingFraction: 0.02,
	}
}

// Scaler applies the hysteresis policy. Update must be called from a single
// goroutine; Enabled may be toggled from anywhere.
type Scaler struct {
	cfg     Config
	state   State
	enabled atomic.Bool
}

// New returns an enabled scaler with the initial viewport y=[0,3.3],
// x=[0,100] and the expansion clock started at now.
func New(cfg Config, now time.Time) *Scaler {
	s := &Scaler{
		cfg: cfg,
		state: State{
			XMin:          0,
			XMax:          100,
			YMin:          0,
			YMax:          3.3,
			LastExpansion: now,
		},
	}
	s.enabled.Store(true)
	return s
}

// SetEnabled turns auto-ranging on or off. While off, Update leaves the
// ranges where they are.
func (s *Scaler) SetEnabled(on bool) { s.enabled.Store(on) }

// Enabled reports whether auto-ranging is on.
func (s *Scaler) Enabled() bool { return s.enabled.Load() }

// State returns the current viewport.
func (s *Scaler) State() State { return s.state }

// Update folds one tick's data extent into the viewport. minV and maxV span
// both channels; n is the longer window length. An empty window (n == 0)
// changes nothing.
func (s *Scaler) Update(minV, maxV float64, n int, now time.Time) State {
	if !s.Enabled() || n <= 0 {
		return s.state
	}

	pad := int(float64(n) * s.cfg.PaddingFraction)
	s.state.XMin = -float64(pad) / s.cfg.SampleRate
	s.state.XMax = float64(n+pad) / s.cfg.SampleRate

	margin := s.cfg.MinMargin
	if span := maxV - minV; span > 0 {
		margin = span * s.cfg.MarginFraction
	}
	targetMin := minV - margin
	targetMax := maxV + margin

	expanded := false
	if targetMin < s.state.YMin {
		s.state.YMin = targetMin
		expanded = true
	}
	if targetMax > s.state.YMax {
		s.state.YMax = targetMax
		expanded = true
	}

	switch {
	case expanded:
		s.state.LastExpansion = now
	case now.Sub(s.state.LastExpansion) > s.cfg.Timeout:
		s.state.YMin = targetMin
		s.state.YMax = targetMax
		s.state.LastExpansion = now
	}
	return s.state
}
