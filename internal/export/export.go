// Package export writes captured display windows to disk and reads them back.
//
// Two formats are supported: a CSV table with one row per sample index, and
// a compact binary capture file carrying metadata and float64 volts.
package export

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Magic opens every binary capture file.
	Magic = "MSCP"
	// FormatVersion is the binary layout written by this package.
	FormatVersion uint16 = 1
)

// ErrInvalidFormat is returned when a file is not a capture file.
var ErrInvalidFormat = errors.New("invalid capture file format")

// Metadata describes one capture.
type Metadata struct {
	FileFormatVersion uint16
	SampleRate        float64
	CaptureTime       time.Time
	CaptureID         string
	DeviceInfo        string
	TriggerMode       string
	ChannelCount      uint8
}

// NewMetadata returns metadata for a capture taken at t with a fresh id.
func NewMetadata(sampleRate float64, deviceInfo, triggerMode string, t time.Time) Metadata {
	return Metadata{
		FileFormatVersion: FormatVersion,
		SampleRate:        sampleRate,
		CaptureTime:       t,
		CaptureID:         uuid.NewString(),
		DeviceInfo:        deviceInfo,
		TriggerMode:       triggerMode,
		ChannelCount:      2,
	}
}

// Filename builds "<prefix>_<timestamp>_<short id>.<ext>" under dir.
func Filename(dir, prefix, format string, md Metadata) string {
	id := md.CaptureID
	if len(id) > 8 {
		id = id[:8]
	}
	ext := "dat"
	if strings.EqualFold(format, "csv") {
		ext = "csv"
	}
	name := fmt.Sprintf("%s_%s_%s.%s", prefix, md.CaptureTime.UTC().Format("20060102T150405"), id, ext)
	return filepath.Join(dir, name)
}

// Writer writes capture files.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Save writes ch1 and ch2 in the given format ("csv" or "bin") and returns
// the file name.
func (w *Writer) Save(dir, prefix, format string, md Metadata, ch1, ch2 []float64) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	filename := Filename(dir, prefix, format, md)

	var err error
	switch strings.ToLower(format) {
	case "csv":
		err = w.WriteCSVFile(filename, ch1, ch2)
	case "bin":
		err = w.WriteFile(filename, md, [][]float64{ch1, ch2})
	default:
		return "", fmt.Errorf("unknown export format: %s", format)
	}
	if err != nil {
		return "", err
	}
	return filename, nil
}

// WriteFile writes a binary capture.
func (w *Writer) WriteFile(filename string, md Metadata, channels [][]float64) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	bw := bufio.NewWriter(file)
	md.ChannelCount = uint8(len(channels))
	if err := writeHeader(bw, md); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, ch := range channels {
		if err := writeChannel(bw, ch); err != nil {
			return fmt.Errorf("failed to write channel %d: %w", i+1, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush file: %w", err)
	}
	return file.Close()
}

func writeHeader(w io.Writer, md Metadata) error {
	if _, err := io.WriteString(w, Magic); err != nil {
		return err
	}
	fields := []any{
		md.FileFormatVersion,
		md.SampleRate,
		md.CaptureTime.Unix(),
		int32(md.CaptureTime.Nanosecond()),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	for _, s := range []string{md.CaptureID, md.DeviceInfo, md.TriggerMode} {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, md.ChannelCount)
}

// writeString writes a uint8 length prefix and at most 255 bytes.
func writeString(w io.Writer, s string) error {
	b := []byte(s)
	if len(b) > 255 {
		b = b[:255]
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeChannel(w io.Writer, samples []float64) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(samples))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, samples)
}

// ReadFile reads a complete binary capture.
func ReadFile(filename string) (*Metadata, [][]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	md, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	channels := make([][]float64, md.ChannelCount)
	for i := range channels {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, nil, fmt.Errorf("failed to read channel %d length: %w", i+1, err)
		}
		channels[i] = make([]float64, n)
		if err := binary.Read(r, binary.LittleEndian, channels[i]); err != nil {
			return nil, nil, fmt.Errorf("failed to read channel %d samples: %w", i+1, err)
		}
	}
	return md, channels, nil
}

// ReadMetadata reads the header and per-channel sample counts without
// loading the samples.
func ReadMetadata(filename string) (*Metadata, []uint32, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	md, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}

	counts := make([]uint32, md.ChannelCount)
	for i := range counts {
		if err := binary.Read(r, binary.LittleEndian, &counts[i]); err != nil {
			return nil, nil, fmt.Errorf("failed to read channel %d length: %w", i+1, err)
		}
		if _, err := r.Discard(int(counts[i]) * 8); err != nil {
			return nil, nil, fmt.Errorf("failed to skip channel %d samples: %w", i+1, err)
		}
	}
	return md, counts, nil
}

func readHeader(r io.Reader) (*Metadata, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if string(magic) != Magic {
		return nil, ErrInvalidFormat
	}

	var md Metadata
	if err := binary.Read(r, binary.LittleEndian, &md.FileFormatVersion); err != nil {
		return nil, err
	}
	if md.FileFormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, md.FileFormatVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &md.SampleRate); err != nil {
		return nil, err
	}

	var sec int64
	var nsec int32
	if err := binary.Read(r, binary.LittleEndian, &sec); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &nsec); err != nil {
		return nil, err
	}
	md.CaptureTime = time.Unix(sec, int64(nsec))

	for _, dst := range []*string{&md.CaptureID, &md.DeviceInfo, &md.TriggerMode} {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		*dst = s
	}

	if err := binary.Read(r, binary.LittleEndian, &md.ChannelCount); err != nil {
		return nil, err
	}
	return &md, nil
}

func readString(r io.Reader) (string, error) {
	var n uint8
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
