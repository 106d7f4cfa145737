// Package acquisition reads sample frames from the instrument's serial link
// and hands decoded batches to the display consumer.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"miniscope/internal/frame"
	"miniscope/internal/logging"
	"miniscope/internal/metrics"
)

// State is the acquisition state machine position.
type State int32

const (
	Idle State = iota
	Connecting
	Streaming
	Error
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Error:
		return "error"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ConnectError reports a failed attempt to open the serial port.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to open serial port %s: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ChannelConfig contains serial reader parameters
type ChannelConfig struct {
	Port           string        // Serial device path
	BaudRate       int           // Link speed
	ReadTimeout    time.Duration // Blocking read timeout, bounds stop latency
	ReadChunk      int           // Maximum bytes per read
	ReconnectDelay time.Duration // Fixed backoff between attempts
	FrameBytes     int           // Wire frame size
}

// StateFunc observes state transitions. err is non-nil for failed connects
// and link errors.
type StateFunc func(state State, err error)

// Option customizes a Channel.
type Option func(*Channel)

// WithOpener replaces the serial opener, mainly for tests.
func WithOpener(open Opener) Option {
	return func(c *Channel) { c.open = open }
}

// WithStateFunc registers a state transition observer. It runs on the
// acquisition goroutine and must not block.
func WithStateFunc(fn StateFunc) Option {
	return func(c *Channel) { c.onState = fn }
}

// Channel owns one serial port on a dedicated goroutine. It accumulates
// bytes, decodes complete frames and pushes every batch into the hand-off
// queue. Open failures and link errors never end the loop; only Stop or
// cancelling the start context does.
type Channel struct {
	cfg     ChannelConfig
	queue   *Handoff
	open    Opener
	onState StateFunc
	logger  zerolog.Logger

	state    atomic.Int32
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	port     Port
	residual []byte
}

// NewChannel creates a serial reader that publishes into queue.
func NewChannel(cfg ChannelConfig, queue *Handoff, logger zerolog.Logger, opts ...Option) (*Channel, error) {
	if err := frame.ValidateFrameSize(cfg.FrameBytes); err != nil {
		return nil, err
	}
	if queue == nil {
		return nil, errors.New("hand-off queue cannot be nil")
	}
	if cfg.ReadChunk <= 0 {
		cfg.ReadChunk = 256
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 200 * time.Millisecond
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}

	c := &Channel{
		cfg:    cfg,
		queue:  queue,
		open:   OpenSerial,
		logger: logging.Component(logger, "acquisition").With().Str("port", cfg.Port).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start launches the read loop and discards batches left in the hand-off
// queue by an earlier run. Calling Start on a running channel is a no-op; a
// stopped channel may be started again.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return
		}
	}

	c.queue.Clear()
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop requests the loop to end and waits up to timeout for it. A false
// result means the request is pending, typically because a read is still
// blocked; the goroutine exits on its own once the read returns.
func (c *Channel) Stop(timeout time.Duration) bool {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if done == nil {
		return true
	}
	cancel()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		c.logger.Warn().Dur("timeout", timeout).Msg("stop requested but reader has not exited yet")
		return false
	}
}

// State returns the current state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) setState(s State, err error) {
	c.state.Store(int32(s))
	metrics.AcquisitionState.Set(float64(s))
	if c.onState != nil {
		c.onState(s, err)
	}
}

func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(Stopped, nil)
	defer c.closePort()

	buf := make([]byte, c.cfg.ReadChunk)

	for ctx.Err() == nil {
		if c.port == nil {
			if !c.connect(ctx) {
				return
			}
			continue
		}

		n, err := c.port.Read(buf)
		if n > 0 {
			c.consume(buf[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !c.fail(ctx, err) {
				return
			}
		}
	}
}

// connect makes one open attempt. It returns false when the context ended
// during the backoff wait.
func (c *Channel) connect(ctx context.Context) bool {
	c.setState(Connecting, nil)

	port, err := c.open(c.cfg.Port, c.cfg.BaudRate, c.cfg.ReadTimeout)
	if err != nil {
		cerr := &ConnectError{Port: c.cfg.Port, Err: err}
		metrics.ConnectFailuresTotal.Inc()
		c.logger.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectDelay).Msg("serial open failed")
		c.setState(Connecting, cerr)
		return sleepCtx(ctx, c.cfg.ReconnectDelay)
	}

	c.port = port
	c.residual = c.residual[:0]
	c.logger.Info().Int("baud", c.cfg.BaudRate).Msg("serial port opened")
	c.setState(Streaming, nil)
	return true
}

// fail handles a mid-stream I/O error: the port is closed, undecoded bytes
// are dropped and the loop waits before reconnecting.
func (c *Channel) fail(ctx context.Context, err error) bool {
	metrics.LinkErrorsTotal.Inc()
	c.logger.Error().Err(err).Int("discarded_bytes", len(c.residual)).Msg("serial link error")
	c.setState(Error, err)

	c.closePort()
	metrics.ResidualDiscardedBytesTotal.Add(float64(len(c.residual)))
	c.residual = c.residual[:0]

	return sleepCtx(ctx, c.cfg.ReconnectDelay)
}

func (c *Channel) consume(chunk []byte) {
	metrics.BytesReadTotal.Add(float64(len(chunk)))
	c.residual = append(c.residual, chunk...)

	batches, rest := frame.Decode(c.residual, c.cfg.FrameBytes)
	for _, b := range batches {
		c.queue.Push(b)
	}
	if len(batches) > 0 {
		metrics.FramesDecodedTotal.Add(float64(len(batches)))
		// Decoded batches own their samples, so the tail can be compacted in place
		c.residual = append(c.residual[:0], rest...)
	}
}

func (c *Channel) closePort() {
	if c.port == nil {
		return
	}
	if err := c.port.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("serial close error")
	}
	c.port = nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
