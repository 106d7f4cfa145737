//go:build !oto

package audio

import (
	"github.com/rs/zerolog"
)

const deviceBuilt = false

// Device is a placeholder when built without the oto tag.
type Device struct{}

// OpenDevice always fails without the oto build tag.
func OpenDevice(r *Resampler, sampleRate, blockSize int, logger zerolog.Logger) (*Device, error) {
	return nil, ErrAudioUnavailable
}

// Close does nothing.
func (d *Device) Close() error {
	return nil
}
