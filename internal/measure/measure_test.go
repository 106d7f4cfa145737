package measure

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, f, fs, amp, offset float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = offset + amp*math.Sin(2*math.Pi*f*float64(i)/fs)
	}
	return out
}

func TestComputeSinusoidFrequencyWithinOneBin(t *testing.T) {
	const fs = 50000.0
	tests := []struct {
		n int
		f float64
	}{
		{64, 2000},
		{500, 800},
		{500, 1200},
		{1000, 3333},
		{4096, 150},
	}
	for _, tt := range tests {
		m, ok := Compute(sine(tt.n, tt.f, fs, 1, 1.65), fs)
		require.True(t, ok)
		require.NotNil(t, m.Freq, "n=%d f=%.0f", tt.n, tt.f)
		assert.InDelta(t, tt.f, *m.Freq, fs/float64(tt.n), "n=%d f=%.0f", tt.n, tt.f)
	}
}

func TestComputeStatistics(t *testing.T) {
	m, ok := Compute(sine(1000, 500, 50000, 2, 1), 50000)
	require.True(t, ok)

	assert.InDelta(t, 3.0, m.VMax, 1e-3)
	assert.InDelta(t, -1.0, m.VMin, 1e-3)
	assert.InDelta(t, 4.0, m.VPP, 2e-3)
	assert.InDelta(t, 1.0, m.VAvg, 1e-9)
}

func TestComputeTooShort(t *testing.T) {
	_, ok := Compute([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1000)
	assert.False(t, ok)

	_, ok = Compute(nil, 1000)
	assert.False(t, ok)
}

func TestComputeFlatSignalHasNoFrequency(t *testing.T) {
	flat := make([]float64, 256)
	for i := range flat {
		flat[i] = 0.5
	}

	m, ok := Compute(flat, 50000)
	require.True(t, ok)
	assert.Nil(t, m.Freq)
	assert.Equal(t, 0.0, m.VPP)
	assert.Equal(t, 0.5, m.VAvg)
}

func TestSpectrum(t *testing.T) {
	const fs, n = 1000.0, 100
	freqs, mags, ok := Spectrum(sine(n, 100, fs, 1, 0), fs)
	require.True(t, ok)
	require.Len(t, freqs, n/2+1)
	require.Len(t, mags, n/2+1)

	assert.Equal(t, 0.0, freqs[0])
	assert.InDelta(t, 10.0, freqs[1], 1e-9)

	peak := 0
	for i := range mags {
		if mags[i] > mags[peak] {
			peak = i
		}
	}
	assert.Equal(t, 10, peak)
	assert.InDelta(t, n/2.0, mags[peak], 1e-6)
}

func TestSpectrumTooShort(t *testing.T) {
	_, _, ok := Spectrum(make([]float64, 15), 1000)
	assert.False(t, ok)
}

func TestTimeCursors(t *testing.T) {
	volts := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	r, ok := TimeCursors(volts, 10, 0.2, 0.55)
	require.True(t, ok)
	assert.Equal(t, 2, r.I1)
	assert.Equal(t, 5, r.I2)
	assert.Equal(t, 3.0, r.DV)
	assert.InDelta(t, 0.35, r.DT, 1e-12)

	r, _ = TimeCursors(volts, 10, -1, 100)
	assert.Equal(t, 0, r.I1)
	assert.Equal(t, 9, r.I2)

	_, ok = TimeCursors(nil, 10, 0, 1)
	assert.False(t, ok)
}

func TestVoltageCursors(t *testing.T) {
	r := VoltageCursors(2.5, 1.0)
	assert.Equal(t, 1.5, r.DV)
}
