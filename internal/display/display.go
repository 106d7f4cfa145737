// Package display chooses which slice of each channel's history is shown.
package display

import (
	"fmt"
	"strings"
	"time"

	"miniscope/internal/trigger"
)

// MinSamples is the smallest window ever requested.
const MinSamples = 100

// Mode is the trigger mode.
type Mode int

const (
	// Auto always produces a window, falling back to the newest samples.
	Auto Mode = iota
	// Normal holds the previous frame until both channels trigger.
	Normal
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "AUTO"
	case Normal:
		return "NORMAL"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "AUTO" or "NORMAL" in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTO":
		return Auto, nil
	case "NORMAL":
		return Normal, nil
	default:
		return Auto, fmt.Errorf("unknown trigger mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SamplesToShow returns the window length for the horizontal setting,
// clamped to [MinSamples, bufferLen]. The lower bound wins when the buffer
// holds fewer than MinSamples; Extract then returns the whole buffer.
func SamplesToShow(timePerDiv time.Duration, sampleRate float64, divisions, bufferLen int) int {
	n := int(float64(timePerDiv) * sampleRate * float64(divisions) / float64(time.Second))
	if n > bufferLen {
		n = bufferLen
	}
	if n < MinSamples {
		n = MinSamples
	}
	return n
}

// Extract returns a copy of the window of n samples to display. With a
// trigger at p the window starts at p when it fits, otherwise the newest n
// samples are used. Without a trigger, Auto shows the newest n samples and
// Normal returns nil.
func Extract(buf []uint16, res trigger.Result, n int, mode Mode) []uint16 {
	if p, ok := res.First(); ok {
		start := int(p)
		if start >= 0 && start+n <= len(buf) {
			return clone(buf[start : start+n])
		}
		return newest(buf, n)
	}
	if mode == Normal {
		return nil
	}
	return newest(buf, n)
}

// SelectPair extracts both channel windows. ok is false when the tick must
// be suppressed: Normal mode with either channel untriggered.
func SelectPair(buf1, buf2 []uint16, res1, res2 trigger.Result, n int, mode Mode) (ch1, ch2 []uint16, ok bool) {
	ch1 = Extract(buf1, res1, n, mode)
	ch2 = Extract(buf2, res2, n, mode)
	if mode == Normal && (len(ch1) == 0 || len(ch2) == 0) {
		return nil, nil, false
	}
	return ch1, ch2, true
}

func newest(buf []uint16, n int) []uint16 {
	if n > len(buf) {
		n = len(buf)
	}
	return clone(buf[len(buf)-n:])
}

func clone(s []uint16) []uint16 {
	out := make([]uint16, len(s))
	copy(out, s)
	return out
}
