package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miniscope/internal/acquisition"
	"miniscope/internal/config"
	"miniscope/internal/display"
	"miniscope/internal/frame"
)

type queueSource struct {
	batches []frame.SampleBatch
	calls   int
}

func (q *queueSource) Latest() (frame.SampleBatch, bool) {
	q.calls++
	if len(q.batches) == 0 {
		return frame.SampleBatch{}, false
	}
	b := q.batches[0]
	q.batches = q.batches[1:]
	return b, true
}

func (q *queueSource) push(b frame.SampleBatch) { q.batches = append(q.batches, b) }

func flat(n int, v uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func step(n int, lo, hi uint16) []uint16 {
	out := flat(n, lo)
	for i := n / 2; i < n; i++ {
		out[i] = hi
	}
	return out
}

func smallConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Acquisition.BufferSize = 200
	cfg.Channels.CH1.FilterEnabled = false
	cfg.Channels.CH2.FilterEnabled = false
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config, src Source, opts ...Option) *Engine {
	t.Helper()
	e, err := New(cfg, src, zerolog.Nop(), opts...)
	require.NoError(t, err)
	return e
}

func TestTickWithSyntheticSource(t *testing.T) {
	cfg := config.DefaultConfig()
	e := newEngine(t, cfg, acquisition.NewSynthetic(cfg.Acquisition.SampleRate, 60, 1))

	// Fill the zero-initialized history with signal
	for i := 0; i < 150; i++ {
		require.True(t, e.Tick())
	}

	f := e.Latest()
	require.NotNil(t, f)
	assert.Equal(t, uint64(150), f.Seq)
	assert.Len(t, f.Ch1.Volts, 500)
	assert.Len(t, f.Ch2.Volts, 500)
	assert.True(t, f.Ch1.Triggered)

	require.NotNil(t, f.Ch1.Measurement)
	require.NotNil(t, f.Ch1.Measurement.Freq)
	assert.InDelta(t, 800, *f.Ch1.Measurement.Freq, 100)
	require.NotNil(t, f.Ch2.Measurement)
	require.NotNil(t, f.Ch2.Measurement.Freq)
	assert.InDelta(t, 1200, *f.Ch2.Measurement.Freq, 100)
	assert.Nil(t, f.Spectrum)
}

func TestNormalModeHoldsPreviousFrame(t *testing.T) {
	cfg := smallConfig()
	cfg.Trigger.Mode = "NORMAL"
	src := &queueSource{}
	e := newEngine(t, cfg, src)

	src.push(frame.SampleBatch{Ch1: step(200, 1000, 3000), Ch2: step(200, 1000, 3000)})
	require.True(t, e.Tick())
	first := e.Latest()
	require.NotNil(t, first)
	assert.Len(t, first.Ch1.Volts, 200)

	// Neither channel triggers
	src.push(frame.SampleBatch{Ch1: flat(200, 1000), Ch2: flat(200, 1000)})
	assert.False(t, e.Tick())
	assert.Same(t, first, e.Latest())

	// Only one channel triggers
	src.push(frame.SampleBatch{Ch1: step(200, 1000, 3000), Ch2: flat(200, 1000)})
	assert.False(t, e.Tick())
	assert.Same(t, first, e.Latest())
	assert.Equal(t, uint64(1), e.Latest().Seq)
}

func TestChannelsTriggerOnTheirOwnEdges(t *testing.T) {
	cfg := smallConfig()
	cfg.Trigger.Mode = "NORMAL"
	cfg.Channels.CH2.Rising = false
	src := &queueSource{}
	e := newEngine(t, cfg, src)

	rise, fall := step(200, 1000, 3000), step(200, 3000, 1000)

	src.push(frame.SampleBatch{Ch1: rise, Ch2: fall})
	require.True(t, e.Tick())
	f := e.Latest()
	assert.True(t, f.Ch1.Triggered)
	assert.True(t, f.Ch2.Triggered)

	// Switching ch2 back to rising leaves it without a crossing
	rising := true
	_, err := e.ApplyPatch(Patch{Ch2: &ChannelPatch{Rising: &rising}})
	require.NoError(t, err)
	assert.True(t, e.Settings().Ch1.Rising)

	src.push(frame.SampleBatch{Ch1: rise, Ch2: fall})
	assert.False(t, e.Tick())
	assert.Same(t, f, e.Latest())
}

func TestChannelFilterSettingsAreIndependent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Channels.CH2.FilterEnabled = false
	cfg.Channels.CH2.MinWidth = 0
	e := newEngine(t, cfg, &queueSource{})

	s := e.Settings()
	c1, c2 := s.Ch1.trigger(), s.Ch2.trigger()
	assert.True(t, c1.FilterEnabled)
	assert.Equal(t, 5, c1.FilterWindow)
	assert.Equal(t, 3, c1.MinWidth)
	assert.False(t, c2.FilterEnabled)
	assert.Equal(t, 0, c2.MinWidth)
}

func TestAutoModeShowsNewestWithoutTrigger(t *testing.T) {
	src := &queueSource{}
	e := newEngine(t, smallConfig(), src)

	src.push(frame.SampleBatch{Ch1: flat(200, 1000), Ch2: flat(200, 1000)})
	require.True(t, e.Tick())

	f := e.Latest()
	assert.False(t, f.Ch1.Triggered)
	assert.Len(t, f.Ch1.Volts, 200)
	assert.Equal(t, display.Auto, f.Mode)
}

func TestTickWithoutBatch(t *testing.T) {
	e := newEngine(t, smallConfig(), &queueSource{})

	assert.False(t, e.Tick())
	assert.Nil(t, e.Latest())
	assert.Nil(t, e.AudioWindow())
}

func TestFrozenSkipsTick(t *testing.T) {
	src := &queueSource{}
	e := newEngine(t, smallConfig(), src)
	e.UpdateSettings(func(s *Settings) { s.Frozen = true })

	src.push(frame.SampleBatch{Ch1: flat(200, 1000), Ch2: flat(200, 1000)})
	assert.False(t, e.Tick())
	assert.Equal(t, 0, src.calls)

	e.UpdateSettings(func(s *Settings) { s.Frozen = false })
	assert.True(t, e.Tick())
}

func TestUnitConversion(t *testing.T) {
	cfg := smallConfig()
	cfg.Channels.CH1.Offset = 0.1
	cfg.Channels.CH1.Multiplier = 2
	src := &queueSource{}
	e := newEngine(t, cfg, src)

	src.push(frame.SampleBatch{Ch1: flat(200, 4095), Ch2: flat(200, 0)})
	require.True(t, e.Tick())
	f := e.Latest()

	assert.InDelta(t, (3.3+0.1)*9.0*2, f.Ch1.Volts[0], 1e-9)
	assert.Equal(t, 0.0, f.Ch2.Volts[0])
	assert.InDelta(t, 2048*3.3/4095*9.0*2, f.Ch1.TriggerVolts, 1e-9)
	assert.InDelta(t, 2048*3.3/4095*9.25, f.Ch2.TriggerVolts, 1e-9)
}

func TestAudioWindowFollowsChannelOne(t *testing.T) {
	src := &queueSource{}
	e := newEngine(t, smallConfig(), src)

	src.push(frame.SampleBatch{Ch1: flat(200, 2048), Ch2: flat(200, 0)})
	require.True(t, e.Tick())

	assert.Equal(t, e.Latest().Ch1.Volts, e.AudioWindow())
}

func TestDisabledChannelHasNoMeasurement(t *testing.T) {
	cfg := smallConfig()
	cfg.Channels.CH2.Enabled = false
	src := &queueSource{}
	e := newEngine(t, cfg, src)

	src.push(frame.SampleBatch{Ch1: step(200, 1000, 3000), Ch2: step(200, 1000, 3000)})
	require.True(t, e.Tick())
	f := e.Latest()

	assert.NotNil(t, f.Ch1.Measurement)
	assert.Nil(t, f.Ch2.Measurement)
	assert.False(t, f.Ch2.Enabled)
}

func TestFFTModePublishesSpectrum(t *testing.T) {
	cfg := smallConfig()
	cfg.Display.FFT = true
	src := &queueSource{}
	e := newEngine(t, cfg, src)

	src.push(frame.SampleBatch{Ch1: step(200, 1000, 3000), Ch2: flat(200, 1000)})
	require.True(t, e.Tick())
	f := e.Latest()

	require.NotNil(t, f.Spectrum)
	assert.Len(t, f.Spectrum.Freqs, 101)
	assert.Len(t, f.Spectrum.Ch1, 101)
	assert.Len(t, f.Spectrum.Ch2, 101)
	assert.Nil(t, f.Ch1.Measurement)
}

func TestAutoScaleTracksFrames(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &queueSource{}
	e := newEngine(t, smallConfig(), src, WithClock(func() time.Time { return now }))

	src.push(frame.SampleBatch{Ch1: flat(200, 4095), Ch2: flat(200, 0)})
	require.True(t, e.Tick())
	f := e.Latest()

	// ch1 sits at 29.7 V and ch2 at 0 V, so the margin is 2.97 V
	assert.InDelta(t, 32.67, f.Scale.YMax, 1e-9)
	assert.InDelta(t, -2.97, f.Scale.YMin, 1e-9)
	assert.Equal(t, now, f.Scale.LastExpansion)
	assert.InDelta(t, 204.0/50000, f.Scale.XMax, 1e-12)
}

func TestUpdateSettingsClampsAndNotifies(t *testing.T) {
	var seen []Settings
	e := newEngine(t, smallConfig(), &queueSource{}, WithSettingsHook(func(s Settings) { seen = append(seen, s) }))

	s := e.UpdateSettings(func(s *Settings) {
		s.TimePerDiv = time.Second
		s.Ch1.Multiplier = 5000
		s.Ch2.TriggerLevel = -5
		s.Volume = 2
	})

	assert.Equal(t, MaxTimePerDiv, s.TimePerDiv)
	assert.Equal(t, MaxMultiplier, s.Ch1.Multiplier)
	assert.Equal(t, 0.0, s.Ch2.TriggerLevel)
	assert.Equal(t, 1.0, s.Volume)
	require.Len(t, seen, 1)
	assert.Equal(t, s, seen[0])
	assert.Equal(t, s, e.Settings())
}

func TestApplyPatch(t *testing.T) {
	e := newEngine(t, smallConfig(), &queueSource{})

	mode := "normal"
	level := 1000.0
	perDiv := 0.5
	s, err := e.ApplyPatch(Patch{
		Mode:         &mode,
		TimePerDivMs: &perDiv,
		Ch2:          &ChannelPatch{TriggerLevel: &level},
	})
	require.NoError(t, err)
	assert.Equal(t, display.Normal, s.Mode)
	assert.Equal(t, 500*time.Microsecond, s.TimePerDiv)
	assert.Equal(t, 1000.0, s.Ch2.TriggerLevel)
	assert.Equal(t, 2048.0, s.Ch1.TriggerLevel)

	bad := "single"
	_, err = e.ApplyPatch(Patch{Mode: &bad, TimePerDivMs: &perDiv})
	assert.Error(t, err)
	assert.Equal(t, display.Normal, e.Settings().Mode)
}

func TestSettingsJSONUsesMilliseconds(t *testing.T) {
	e := newEngine(t, smallConfig(), &queueSource{})
	s := e.Settings()

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"time_per_div_ms":1`)
	assert.NotContains(t, string(data), `"time_per_div":`)

	var back Settings
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s, back)

	// The value read back is accepted unchanged by a patch
	var doc struct {
		TimePerDivMs float64 `json:"time_per_div_ms"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	doc.TimePerDivMs /= 4
	got, err := e.ApplyPatch(Patch{TimePerDivMs: &doc.TimePerDivMs})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Microsecond, got.TimePerDiv)
}

func TestFrameDuration(t *testing.T) {
	f := &Frame{SampleRate: 50000}
	f.Ch1.Volts = make([]float64, 500)
	f.Ch2.Volts = make([]float64, 250)
	assert.Equal(t, 10*time.Millisecond, f.Duration())

	assert.Zero(t, (&Frame{}).Duration())
}

func TestScaleConfigKeepsStockValuesForZeroes(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AutoScale.Timeout = 0
	cfg.AutoScale.MinMargin = 0.25

	sc := scaleConfig(cfg)
	assert.Equal(t, 5*time.Second, sc.Timeout)
	assert.Equal(t, 0.25, sc.MinMargin)
	assert.Equal(t, 0.02, sc.PaddingFraction)
	assert.Equal(t, cfg.Acquisition.SampleRate, sc.SampleRate)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Display.TickInterval = time.Millisecond
	e := newEngine(t, cfg, acquisition.NewSynthetic(cfg.Acquisition.SampleRate, 60, 2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return e.Latest() != nil }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRejectsBadMode(t *testing.T) {
	cfg := smallConfig()
	cfg.Trigger.Mode = "SINGLE"

	_, err := New(cfg, &queueSource{}, zerolog.Nop())
	assert.Error(t, err)
}
