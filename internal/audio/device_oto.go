//go:build oto

package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

const deviceBuilt = true

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// Device plays a Resampler through the system sound card.
type Device struct {
	player *oto.Player
	logger zerolog.Logger
}

// OpenDevice starts playback of r at sampleRate with roughly blockSize
// frames of device buffering.
func OpenDevice(r *Resampler, sampleRate, blockSize int, logger zerolog.Logger) (*Device, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatFloat32LE,
			BufferSize:   time.Duration(blockSize) * time.Second / time.Duration(sampleRate),
		})
		if otoErr == nil {
			<-ready
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudioUnavailable, otoErr)
	}

	player := otoCtx.NewPlayer(NewStream(r))
	player.Play()

	logger.Info().Int("sample_rate", sampleRate).Int("block_size", blockSize).Msg("audio started")
	return &Device{player: player, logger: logger}, nil
}

// Close stops playback.
func (d *Device) Close() error {
	if d.player == nil {
		return nil
	}
	d.player.Pause()
	err := d.player.Err()
	d.player = nil
	d.logger.Info().Msg("audio stopped")
	return err
}
