// Package frame decodes the instrument's fixed-size binary wire frames.
//
// A frame carries samplesPerChannel interleaved sample pairs. Each pair is
// four bytes: little-endian 16-bit channel 1 followed by little-endian 16-bit
// channel 2. Only the low 12 bits of each value are sample data.
//
// There is no marker, checksum or length prefix on the wire. Alignment is kept
// purely by byte counting, so a dropped or duplicated byte shifts every later
// frame until a fresh connection starts from a frame boundary.
package frame

import (
	"errors"
	"fmt"
)

const (
	// Channels is the fixed number of channels on the wire.
	Channels = 2
	// BytesPerSample is the size of one encoded sample.
	BytesPerSample = 2
	// SampleMask keeps the 12 valid bits of a 16-bit word.
	SampleMask = 0x0FFF

	groupBytes = Channels * BytesPerSample
)

// ErrInvalidFrameSize is returned when a frame size cannot hold whole sample pairs.
var ErrInvalidFrameSize = errors.New("frame size must be a positive multiple of 4")

// DecodeError describes a frame that could not be decoded. Masking makes
// every 16-bit word valid, so only a length that splits a sample group can
// fail.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at byte %d: %s", e.Offset, e.Reason)
}

// SampleBatch holds the samples of one decoded frame, in arrival order.
// Ch1 and Ch2 always have the same length.
type SampleBatch struct {
	Ch1 []uint16
	Ch2 []uint16
}

// Len returns the number of samples per channel.
func (b SampleBatch) Len() int {
	return len(b.Ch1)
}

// FrameBytes returns the wire size of a frame with samplesPerChannel samples.
func FrameBytes(samplesPerChannel int) int {
	return samplesPerChannel * Channels * BytesPerSample
}

// ValidateFrameSize checks that frameBytes describes whole sample pairs.
func ValidateFrameSize(frameBytes int) error {
	if frameBytes <= 0 || frameBytes%groupBytes != 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidFrameSize, frameBytes)
	}
	return nil
}

// Decode consumes every complete frame at the front of buf and returns the
// decoded batches together with the unconsumed remainder. The remainder
// aliases buf and is always shorter than frameBytes; callers keep it and
// prepend it to the next read. A frameBytes that fails ValidateFrameSize
// decodes nothing.
func Decode(buf []byte, frameBytes int) ([]SampleBatch, []byte) {
	if ValidateFrameSize(frameBytes) != nil {
		return nil, buf
	}

	count := len(buf) / frameBytes
	if count == 0 {
		return nil, buf
	}

	batches := make([]SampleBatch, 0, count)
	for f := 0; f < count; f++ {
		batches = append(batches, decodeFrame(buf[f*frameBytes:(f+1)*frameBytes]))
	}
	return batches, buf[count*frameBytes:]
}

// DecodeFrame decodes exactly one frame. raw must hold whole sample groups.
func DecodeFrame(raw []byte) (SampleBatch, error) {
	if len(raw) == 0 || len(raw)%groupBytes != 0 {
		return SampleBatch{}, &DecodeError{
			Offset: len(raw) - len(raw)%groupBytes,
			Reason: fmt.Sprintf("frame of %d bytes splits a sample group", len(raw)),
		}
	}
	return decodeFrame(raw), nil
}

func decodeFrame(raw []byte) SampleBatch {
	n := len(raw) / groupBytes
	batch := SampleBatch{
		Ch1: make([]uint16, n),
		Ch2: make([]uint16, n),
	}
	for i := 0; i < n; i++ {
		g := raw[i*groupBytes:]
		batch.Ch1[i] = (uint16(g[1])<<8 | uint16(g[0])) & SampleMask
		batch.Ch2[i] = (uint16(g[3])<<8 | uint16(g[2])) & SampleMask
	}
	return batch
}

// Encode packs a batch back into wire format. Ch1 and Ch2 must have equal
// length. Scripted test ports use it to produce wire traffic.
func Encode(batch SampleBatch) []byte {
	out := make([]byte, 0, batch.Len()*groupBytes)
	for i := range batch.Ch1 {
		a, b := batch.Ch1[i], batch.Ch2[i]
		out = append(out, byte(a), byte(a>>8), byte(b), byte(b>>8))
	}
	return out
}
