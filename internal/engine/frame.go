package engine

import (
	"math"
	"time"

	"miniscope/internal/autoscale"
	"miniscope/internal/display"
	"miniscope/internal/measure"
)

// Frame is one published display update. A Frame is never modified after
// it is published, so readers may hold on to it freely.
type Frame struct {
	Seq        uint64          `json:"seq"`
	Time       time.Time       `json:"time"`
	SampleRate float64         `json:"sample_rate"`
	Mode       display.Mode    `json:"mode"`
	Ch1        ChannelFrame    `json:"ch1"`
	Ch2        ChannelFrame    `json:"ch2"`
	Scale      autoscale.State `json:"scale"`
	Spectrum   *Spectrum       `json:"spectrum,omitempty"`
}

// ChannelFrame is one channel's part of a Frame.
type ChannelFrame struct {
	Enabled      bool                 `json:"enabled"`
	Triggered    bool                 `json:"triggered"`
	TriggerVolts float64              `json:"trigger_volts"`
	Volts        []float64            `json:"volts"`
	Measurement  *measure.Measurement `json:"measurement,omitempty"`
}

// Spectrum holds magnitude spectra for the FFT view.
type Spectrum struct {
	Freqs []float64 `json:"freqs"`
	Ch1   []float64 `json:"ch1"`
	Ch2   []float64 `json:"ch2"`
}

// Duration returns the time span covered by the longer channel window.
func (f *Frame) Duration() time.Duration {
	n := max(len(f.Ch1.Volts), len(f.Ch2.Volts))
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(n) / f.SampleRate * float64(time.Second)))
}
