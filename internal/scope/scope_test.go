package scope

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miniscope/internal/acquisition"
	"miniscope/internal/config"
	"miniscope/internal/export"
	"miniscope/internal/frame"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Acquisition.Duration = 150 * time.Millisecond
	cfg.Display.TickInterval = 2 * time.Millisecond
	cfg.Export.OutputDir = filepath.Join(t.TempDir(), "captures")
	return cfg
}

func TestSyntheticSessionAndSave(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Format = "bin"

	s := NewScope(cfg, zerolog.Nop())
	require.NoError(t, s.Initialize())
	defer s.Close()

	require.NoError(t, s.Run(context.Background()))

	f := s.Engine().Latest()
	require.NotNil(t, f)
	assert.NotEmpty(t, f.Ch1.Volts)

	filename, err := s.Save()
	require.NoError(t, err)
	md, channels, err := export.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "synthetic 50000 Hz", md.DeviceInfo)
	assert.Equal(t, "AUTO", md.TriggerMode)
	assert.Equal(t, f.Ch1.Volts, channels[0])
}

func TestSaveBeforeFirstFrame(t *testing.T) {
	s := NewScope(testConfig(t), zerolog.Nop())
	require.NoError(t, s.Initialize())

	_, err := s.Save()
	assert.Error(t, err)
}

// scriptedPort streams a repeating waveform, one frame per read.
type scriptedPort struct {
	mu     sync.Mutex
	frames [][]byte
	next   int
	closed bool
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("closed")
	}
	time.Sleep(time.Millisecond)
	f := p.frames[p.next%len(p.frames)]
	p.next++
	return copy(b, f), nil
}

func (p *scriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestSerialSessionWithFakePort(t *testing.T) {
	cfg := testConfig(t)
	cfg.Acquisition.Source = "serial"
	cfg.Acquisition.SamplesPerChannel = 32
	cfg.Serial.ReadChunk = 4096

	// One 32-sample square wave period per frame
	batch := frame.SampleBatch{Ch1: make([]uint16, 32), Ch2: make([]uint16, 32)}
	for i := range batch.Ch1 {
		if i >= 16 {
			batch.Ch1[i], batch.Ch2[i] = 3000, 3000
		} else {
			batch.Ch1[i], batch.Ch2[i] = 1000, 1000
		}
	}
	port := &scriptedPort{frames: [][]byte{frame.Encode(batch)}}

	var mu sync.Mutex
	var states []acquisition.State
	s := NewScope(cfg, zerolog.Nop(),
		WithOpener(func(string, int, time.Duration) (acquisition.Port, error) { return port, nil }),
		WithStateFunc(func(st acquisition.State, _ error) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}),
	)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Close())

	f := s.Engine().Latest()
	require.NotNil(t, f)
	assert.True(t, f.Ch1.Triggered)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, acquisition.Streaming)
	assert.Equal(t, acquisition.Stopped, states[len(states)-1])
}

func TestStopEndsRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Acquisition.Duration = 0

	s := NewScope(cfg, zerolog.Nop())
	require.NoError(t, s.Initialize())

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return s.Engine().Latest() != nil }, time.Second, time.Millisecond)
	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestAudioUnavailableDoesNotFail(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audio.Enabled = true

	s := NewScope(cfg, zerolog.Nop())
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Run(context.Background()))
	assert.NotNil(t, s.Engine().Latest())
	assert.NoError(t, s.Close())
}

func TestInitializeRejectsUnknownSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Acquisition.Source = "scope"

	assert.Error(t, NewScope(cfg, zerolog.Nop()).Initialize())
}
