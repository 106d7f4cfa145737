package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var csvHeader = []string{"index", "channel1_voltage", "channel2_voltage"}

// WriteCSV writes one row per index up to the longer channel. The shorter
// channel is padded with 0.0.
func WriteCSV(out io.Writer, ch1, ch2 []float64) error {
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return err
	}

	n := max(len(ch1), len(ch2))
	for i := 0; i < n; i++ {
		row := []string{strconv.Itoa(i), formatVolts(at(ch1, i)), formatVolts(at(ch2, i))}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteCSVFile writes a CSV capture to filename.
func (w *Writer) WriteCSVFile(filename string, ch1, ch2 []float64) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := WriteCSV(file, ch1, ch2); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return file.Close()
}

// ReadCSV parses a CSV capture back into its two channels.
func ReadCSV(in io.Reader) (ch1, ch2 []float64, err error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = len(csvHeader)

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(csvHeader, ",") {
		return nil, nil, fmt.Errorf("%w: unexpected csv header %v", ErrInvalidFormat, header)
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return ch1, ch2, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read csv: %w", err)
		}
		v1, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: invalid channel1 value: %w", line, err)
		}
		v2, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: invalid channel2 value: %w", line, err)
		}
		ch1 = append(ch1, v1)
		ch2 = append(ch2, v2)
	}
}

func at(s []float64, i int) float64 {
	if i < len(s) {
		return s[i]
	}
	return 0.0
}

// formatVolts prints the shortest exact representation, always with a
// decimal point or exponent.
func formatVolts(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}
