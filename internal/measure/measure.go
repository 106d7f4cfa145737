// Package measure computes waveform statistics, dominant frequency and
// spectra from a display window in volts.
package measure

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// MinSamples is the shortest window Compute accepts.
	MinSamples = 10
	// MinSpectrumSamples is the shortest window Spectrum accepts.
	MinSpectrumSamples = 16

	// A spectral peak must exceed this multiple of the mean bin magnitude
	// to count as a distinct frequency.
	peakFactor = 3.0
)

// Measurement describes one channel's window.
type Measurement struct {
	VPP  float64  `json:"vpp"`
	VAvg float64  `json:"vavg"`
	VMin float64  `json:"vmin"`
	VMax float64  `json:"vmax"`
	Freq *float64 `json:"freq,omitempty"` // nil when no distinct peak was found
}

// Compute measures volts sampled at fs. It returns false when fewer than
// MinSamples samples are given.
func Compute(volts []float64, fs float64) (Measurement, bool) {
	n := len(volts)
	if n < MinSamples {
		return Measurement{}, false
	}

	m := Measurement{
		VMin: floats.Min(volts),
		VMax: floats.Max(volts),
		VAvg: stat.Mean(volts, nil),
	}
	m.VPP = m.VMax - m.VMin

	ac := make([]float64, n)
	for i, v := range volts {
		ac[i] = v - m.VAvg
	}
	window.Hann(ac)

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, ac)
	mags := magnitudes(coeffs)

	// Bin 0 is DC and is never a candidate
	idx := 1
	for i := 2; i < len(mags); i++ {
		if mags[i] > mags[idx] {
			idx = i
		}
	}
	if idx < len(mags) && mags[idx] > peakFactor*stat.Mean(mags, nil) {
		f := fft.Freq(idx) * fs
		m.Freq = &f
	}
	return m, true
}

// Spectrum returns the plain real-FFT magnitude of volts and the matching
// bin frequencies in Hz. It returns false for windows shorter than
// MinSpectrumSamples.
func Spectrum(volts []float64, fs float64) (freqs, mags []float64, ok bool) {
	n := len(volts)
	if n < MinSpectrumSamples {
		return nil, nil, false
	}

	fft := fourier.NewFFT(n)
	mags = magnitudes(fft.Coefficients(nil, volts))
	freqs = make([]float64, len(mags))
	for i := range freqs {
		freqs[i] = fft.Freq(i) * fs
	}
	return freqs, mags, true
}

func magnitudes(coeffs []complex128) []float64 {
	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = cmplx.Abs(c)
	}
	return out
}

// TimeReadout is the result of a pair of vertical (time) cursors placed on
// channel 1.
type TimeReadout struct {
	T1 float64 `json:"t1"` // cursor positions in seconds
	T2 float64 `json:"t2"`
	I1 int     `json:"i1"` // sample indices under the cursors
	I2 int     `json:"i2"`
	V1 float64 `json:"v1"` // volts at those samples
	V2 float64 `json:"v2"`
	DV float64 `json:"dv"` // V2 - V1
	DT float64 `json:"dt"` // |T2 - T1|
}

// TimeCursors reads volts under two time cursors. Positions outside the
// window snap to its ends. It returns false for an empty window.
func TimeCursors(volts []float64, fs, t1, t2 float64) (TimeReadout, bool) {
	if len(volts) == 0 {
		return TimeReadout{}, false
	}
	i1 := cursorIndex(t1, fs, len(volts))
	i2 := cursorIndex(t2, fs, len(volts))
	r := TimeReadout{
		T1: t1, T2: t2,
		I1: i1, I2: i2,
		V1: volts[i1], V2: volts[i2],
		DT: math.Abs(t2 - t1),
	}
	r.DV = r.V2 - r.V1
	return r, true
}

func cursorIndex(t, fs float64, n int) int {
	x := math.Max(0, math.Min(float64(n-1), t*fs))
	return int(x)
}

// VoltageReadout is the result of a pair of horizontal (voltage) cursors.
type VoltageReadout struct {
	Y1 float64 `json:"y1"`
	Y2 float64 `json:"y2"`
	DV float64 `json:"dv"` // |Y2 - Y1|
}

// VoltageCursors reports the separation of two voltage cursors.
func VoltageCursors(y1, y2 float64) VoltageReadout {
	return VoltageReadout{Y1: y1, Y2: y2, DV: math.Abs(y2 - y1)}
}
