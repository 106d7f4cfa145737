// Package scope wires a complete acquisition session: sample source,
// display pipeline, audio monitor, monitor server and capture export.
package scope

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"miniscope/internal/acquisition"
	"miniscope/internal/audio"
	"miniscope/internal/config"
	"miniscope/internal/engine"
	"miniscope/internal/export"
	"miniscope/internal/logging"
	"miniscope/internal/server"
)

// Option customizes a Scope.
type Option func(*Scope)

// WithOpener replaces the serial port opener, for tests and simulators.
func WithOpener(open acquisition.Opener) Option {
	return func(s *Scope) { s.opener = open }
}

// WithStateFunc observes acquisition state changes on the serial source.
func WithStateFunc(fn acquisition.StateFunc) Option {
	return func(s *Scope) { s.onState = fn }
}

type Scope struct {
	config *config.Config
	root   zerolog.Logger
	logger zerolog.Logger

	opener  acquisition.Opener
	onState acquisition.StateFunc

	queue     *acquisition.Handoff
	channel   *acquisition.Channel
	engine    *engine.Engine
	resampler *audio.Resampler
	audio     *audio.Device
	server    *server.Server
	writer    *export.Writer

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScope(cfg *config.Config, logger zerolog.Logger, opts ...Option) *Scope {
	s := &Scope{
		config: cfg,
		root:   logger,
		logger: logging.Component(logger, "scope"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize builds every component. Audio failing to open only disables
// audio; any other failure is returned.
func (s *Scope) Initialize() error {
	var src engine.Source

	switch strings.ToLower(s.config.Acquisition.Source) {
	case "serial":
		s.queue = acquisition.NewHandoff(s.config.Acquisition.QueueCapacity)
		opts := []acquisition.Option{}
		if s.opener != nil {
			opts = append(opts, acquisition.WithOpener(s.opener))
		}
		if s.onState != nil {
			opts = append(opts, acquisition.WithStateFunc(s.onState))
		}
		ch, err := acquisition.NewChannel(acquisition.ChannelConfig{
			Port:           s.config.Serial.Port,
			BaudRate:       s.config.Serial.BaudRate,
			ReadTimeout:    s.config.Serial.ReadTimeout,
			ReadChunk:      s.config.Serial.ReadChunk,
			ReconnectDelay: s.config.Serial.ReconnectDelay,
			FrameBytes:     s.config.FrameBytes(),
		}, s.queue, s.root, opts...)
		if err != nil {
			return fmt.Errorf("failed to create serial source: %w", err)
		}
		s.channel = ch
		src = s.queue
	case "synthetic":
		src = acquisition.NewSynthetic(s.config.Acquisition.SampleRate, s.config.Acquisition.SyntheticBatch, 1)
	default:
		return fmt.Errorf("invalid source: %s (must be 'serial' or 'synthetic')", s.config.Acquisition.Source)
	}

	eng, err := engine.New(s.config, src, s.root, engine.WithSettingsHook(s.onSettings))
	if err != nil {
		return fmt.Errorf("failed to create display pipeline: %w", err)
	}
	s.engine = eng

	if s.config.Audio.Enabled {
		s.startAudio()
	}

	if s.config.Server.Enabled {
		s.server = server.New(s.engine, s.config.Server.Listen, s.config.Display.TickInterval, s.root)
	}

	s.writer = export.NewWriter()
	return nil
}

func (s *Scope) startAudio() {
	r, err := audio.NewResampler(audio.Config{
		OutputRate: float64(s.config.Audio.SampleRate),
		InputRate:  s.config.Acquisition.SampleRate,
		Reference:  s.config.Audio.Reference,
		Volume:     s.engine.Settings().Volume,
	}, s.engine)
	if err != nil {
		s.logger.Error().Err(err).Msg("invalid audio settings, audio disabled")
		return
	}
	s.resampler = r

	dev, err := audio.OpenDevice(s.resampler, s.config.Audio.SampleRate, s.config.Audio.BlockSize, logging.Component(s.root, "audio"))
	if err != nil {
		if errors.Is(err, audio.ErrAudioUnavailable) {
			s.logger.Warn().Err(err).Msg("audio disabled")
		} else {
			s.logger.Error().Err(err).Msg("failed to start audio, audio disabled")
		}
		s.resampler = nil
		return
	}
	s.audio = dev
}

func (s *Scope) onSettings(st engine.Settings) {
	if s.resampler != nil {
		s.resampler.SetVolume(st.Volume)
	}
}

// Engine returns the display pipeline.
func (s *Scope) Engine() *engine.Engine {
	return s.engine
}

// DeviceInfo describes the active sample source.
func (s *Scope) DeviceInfo() string {
	if s.channel != nil {
		return fmt.Sprintf("serial %s @ %d baud", s.config.Serial.Port, s.config.Serial.BaudRate)
	}
	return fmt.Sprintf("synthetic %.0f Hz", s.config.Acquisition.SampleRate)
}

// Run drives the session until ctx is cancelled, Stop is called or the
// configured duration elapses.
func (s *Scope) Run(ctx context.Context) error {
	if s.engine == nil {
		return fmt.Errorf("scope not initialized")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if d := s.config.Acquisition.Duration; d > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, d)
		defer cancelTimeout()
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info().Str("source", s.DeviceInfo()).Msg("session started")

	if s.channel != nil {
		s.channel.Start(ctx)
	}

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.engine.Run(ctx)
	}()

	if s.server != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.server.Run(ctx); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	<-ctx.Done()
	s.wg.Wait()
	s.stopChannel()

	s.logger.Info().Msg("session stopped")
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Stop ends a running session.
func (s *Scope) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Scope) stopChannel() {
	if s.channel == nil {
		return
	}
	if !s.channel.Stop(s.config.Serial.StopTimeout) {
		s.logger.Warn().Msg("serial reader still shutting down")
	}
}

// Save exports the latest frame using the configured format and returns
// the file name.
func (s *Scope) Save() (string, error) {
	if s.engine == nil {
		return "", fmt.Errorf("scope not initialized")
	}
	f := s.engine.Latest()
	if f == nil {
		return "", fmt.Errorf("no frame captured yet")
	}

	md := export.NewMetadata(f.SampleRate, s.DeviceInfo(), f.Mode.String(), f.Time)
	filename, err := s.writer.Save(s.config.Export.OutputDir, s.config.Export.FilePrefix, s.config.Export.Format, md, f.Ch1.Volts, f.Ch2.Volts)
	if err != nil {
		return "", fmt.Errorf("failed to save capture: %w", err)
	}
	s.logger.Info().Str("file", filename).Str("capture_id", md.CaptureID).Dur("window", f.Duration()).Msg("capture saved")
	return filename, nil
}

func (s *Scope) Close() error {
	s.Stop()
	s.wg.Wait()

	var errs []error

	if s.channel != nil && !s.channel.Stop(s.config.Serial.StopTimeout) {
		errs = append(errs, fmt.Errorf("serial reader did not stop within %v", s.config.Serial.StopTimeout))
	}

	if s.audio != nil {
		if err := s.audio.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audio close error: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
