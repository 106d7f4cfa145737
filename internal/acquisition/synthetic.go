package acquisition

import (
	"math"
	"math/rand"

	"miniscope/internal/frame"
)

// Tone is one synthetic sine component in ADC counts.
type Tone struct {
	Freq      float64 // Hz
	Amplitude float64 // counts
}

// Synthetic generates demo waveforms with the same batch shape and units as
// the serial path: two channels of 12-bit counts around mid-scale, with a
// little noise and occasional single-sample glitches to exercise the trigger
// hold-off. It is not safe for concurrent use; the display consumer is its
// only caller.
type Synthetic struct {
	Ch1, Ch2   Tone
	Noise      int     // uniform noise amplitude in counts
	GlitchProb float64 // per-sample probability of a spike
	GlitchSize float64 // spike height in counts
	Center     float64 // mid-scale count
	ADCMax     float64 // full-scale count

	rate  float64
	batch int
	t     float64
	rng   *rand.Rand
}

// NewSynthetic creates a generator producing batch samples per pull at
// sampleRate. The seed makes runs reproducible.
func NewSynthetic(sampleRate float64, batch int, seed int64) *Synthetic {
	return &Synthetic{
		Ch1:        Tone{Freq: 800, Amplitude: 700},
		Ch2:        Tone{Freq: 1200, Amplitude: 500},
		Noise:      15,
		GlitchProb: 0.01,
		GlitchSize: 1000,
		Center:     2048,
		ADCMax:     4095,
		rate:       sampleRate,
		batch:      batch,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Latest generates the next batch. It always succeeds.
func (s *Synthetic) Latest() (frame.SampleBatch, bool) {
	b := frame.SampleBatch{
		Ch1: make([]uint16, s.batch),
		Ch2: make([]uint16, s.batch),
	}
	dt := 1 / s.rate
	for i := 0; i < s.batch; i++ {
		b.Ch1[i] = s.sample(s.Ch1)
		b.Ch2[i] = s.sample(s.Ch2)
		s.t += dt
	}
	return b, true
}

func (s *Synthetic) sample(tone Tone) uint16 {
	v := s.Center + tone.Amplitude*math.Sin(2*math.Pi*tone.Freq*s.t)
	if s.Noise > 0 {
		v += float64(s.rng.Intn(2*s.Noise+1) - s.Noise)
	}
	if s.rng.Float64() < s.GlitchProb {
		if s.rng.Intn(2) == 0 {
			v -= s.GlitchSize
		} else {
			v += s.GlitchSize
		}
	}
	v = math.Max(0, math.Min(s.ADCMax, math.Trunc(v)))
	return uint16(v)
}
