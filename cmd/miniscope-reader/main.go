// Miniscope Reader - Utility to display the contents of saved captures.
// It reads binary .dat captures and .csv exports.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"miniscope/internal/export"
	"miniscope/internal/measure"
	"miniscope/internal/version"

	"github.com/spf13/cobra"
)

var (
	showSamples  bool
	showStats    bool
	showGraph    bool
	showVersion  bool
	infoOnly     bool
	outputFormat string
	graphWidth   int
	graphHeight  int
	csvRate      float64
)

// capture is a loaded file regardless of its on-disk format
type capture struct {
	Metadata *export.Metadata
	Channels [][]float64
}

// channelReport is the per-channel output of --stats
type channelReport struct {
	Channel     int                  `json:"channel"`
	Samples     int                  `json:"samples"`
	Measurement *measure.Measurement `json:"measurement,omitempty"`
}

var rootCmd = &cobra.Command{
	Use:   "miniscope-reader [capture.dat|capture.csv]",
	Short: "Display contents of miniscope capture files",
	Long: `Miniscope Reader displays the metadata and samples of capture files
written by miniscope (binary .dat or CSV exports).

Display modes:
  --info       Show the header and sample counts without loading samples
  --samples    Show every sample of both channels in volts
  --stats      Show Vpp, average, min, max and dominant frequency per channel
  --graph      Plot both channels as an ASCII graph`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetVersionInfo("Miniscope Reader"))
			return
		}

		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Error: filename required\n")
			cmd.Usage()
			os.Exit(1)
		}

		if err := displayFile(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().BoolVarP(&infoOnly, "info", "i", false, "show header and sample counts only (binary captures)")
	rootCmd.Flags().BoolVarP(&showSamples, "samples", "s", false, "display all samples")
	rootCmd.Flags().BoolVar(&showStats, "stats", false, "show per-channel measurements")
	rootCmd.Flags().BoolVarP(&showGraph, "graph", "g", false, "generate ASCII graph of both channels")
	rootCmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "output format (table, json, csv)")
	rootCmd.Flags().IntVar(&graphWidth, "graph-width", 80, "width of the ASCII graph in characters")
	rootCmd.Flags().IntVar(&graphHeight, "graph-height", 20, "height of the ASCII graph in lines")
	rootCmd.Flags().Float64Var(&csvRate, "rate", 50000, "sample rate in Hz for CSV files, which carry no metadata")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadCapture(filename string) (*capture, error) {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		f, err := os.Open(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()

		ch1, ch2, err := export.ReadCSV(f)
		if err != nil {
			return nil, err
		}
		md := &export.Metadata{
			SampleRate:   csvRate,
			DeviceInfo:   "csv export",
			ChannelCount: 2,
		}
		return &capture{Metadata: md, Channels: [][]float64{ch1, ch2}}, nil
	}

	md, channels, err := export.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return &capture{Metadata: md, Channels: channels}, nil
}

// displayFile reads and displays the contents of a capture file
func displayFile(filename string) error {
	fileInfo, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}
	if err != nil {
		return err
	}

	if infoOnly {
		return displayInfo(filename)
	}

	c, err := loadCapture(filename)
	if err != nil {
		return fmt.Errorf("failed to read capture: %w", err)
	}

	switch outputFormat {
	case "json":
		return writeJSON(c)
	case "csv":
		return export.WriteCSV(os.Stdout, channelAt(c, 0), channelAt(c, 1))
	case "table":
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}

	fmt.Printf("MINISCOPE CAPTURE READER %s\n\n", version.GetFullVersion())

	fmt.Printf("📁 File Information:\n")
	fmt.Printf("Name: %s\n", filepath.Base(filename))
	fmt.Printf("Size: %.2f KB (%d bytes)\n", float64(fileInfo.Size())/1024, fileInfo.Size())
	fmt.Printf("Modified: %s\n\n", fileInfo.ModTime().Format("2006-01-02 15:04:05"))

	displayMetadata(c.Metadata)
	displaySampleInfo(lengths(c), c.Metadata.SampleRate)

	if showSamples {
		displaySamples(c)
	}
	if showStats {
		displayStatistics(c)
	}
	if showGraph {
		displayGraph(c)
	}
	return nil
}

// displayInfo reads only the header of a binary capture
func displayInfo(filename string) error {
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return fmt.Errorf("--info needs a binary capture, CSV exports carry no header")
	}
	md, counts, err := export.ReadMetadata(filename)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	if outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Metadata *export.Metadata `json:"metadata"`
			Samples  []uint32         `json:"samples"`
		}{md, counts})
	}

	displayMetadata(md)
	n := make([]int, len(counts))
	for i, v := range counts {
		n[i] = int(v)
	}
	displaySampleInfo(n, md.SampleRate)
	return nil
}

func lengths(c *capture) []int {
	n := make([]int, len(c.Channels))
	for i, ch := range c.Channels {
		n[i] = len(ch)
	}
	return n
}

func channelAt(c *capture, i int) []float64 {
	if i < len(c.Channels) {
		return c.Channels[i]
	}
	return nil
}

func reports(c *capture) []channelReport {
	out := make([]channelReport, 0, len(c.Channels))
	for i, ch := range c.Channels {
		r := channelReport{Channel: i + 1, Samples: len(ch)}
		if m, ok := measure.Compute(ch, c.Metadata.SampleRate); ok {
			r.Measurement = &m
		}
		out = append(out, r)
	}
	return out
}

func writeJSON(c *capture) error {
	doc := struct {
		Metadata *export.Metadata `json:"metadata"`
		Channels []channelReport  `json:"channels"`
		Samples  [][]float64      `json:"samples,omitempty"`
	}{
		Metadata: c.Metadata,
		Channels: reports(c),
	}
	if showSamples {
		doc.Samples = c.Channels
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func displayMetadata(md *export.Metadata) {
	fmt.Printf("📊 Capture Metadata:\n")
	if md.FileFormatVersion > 0 {
		fmt.Printf("File Format Version: %d\n", md.FileFormatVersion)
	}
	if md.CaptureID != "" {
		fmt.Printf("Capture ID: %s\n", md.CaptureID)
	}
	fmt.Printf("Sample Rate: %.0f Hz\n", md.SampleRate)
	if !md.CaptureTime.IsZero() {
		fmt.Printf("Capture Time: %s\n", md.CaptureTime.Format("2006-01-02 15:04:05.000"))
	}
	fmt.Printf("Device: %s\n", md.DeviceInfo)
	if md.TriggerMode != "" {
		fmt.Printf("Trigger Mode: %s\n", md.TriggerMode)
	}
	fmt.Println()
}

func displaySampleInfo(counts []int, sampleRate float64) {
	fmt.Printf("📡 Sample Information:\n")
	for i, n := range counts {
		dur := 0.0
		if sampleRate > 0 {
			dur = float64(n) / sampleRate
		}
		fmt.Printf("Channel %d: %d samples (%.3f ms)\n", i+1, n, dur*1000)
	}
	fmt.Println()
}

func displaySamples(c *capture) {
	ch1, ch2 := channelAt(c, 0), channelAt(c, 1)
	n := max(len(ch1), len(ch2))

	fmt.Printf("📈 Sample Data (%d rows):\n", n)
	fmt.Printf("%-8s %-14s %-14s\n", "#", "CH1 (V)", "CH2 (V)")
	for i := 0; i < n; i++ {
		fmt.Printf("%-8d %-14s %-14s\n", i, cell(ch1, i), cell(ch2, i))
	}
	fmt.Println()
}

func cell(s []float64, i int) string {
	if i >= len(s) {
		return "-"
	}
	return fmt.Sprintf("%.6f", s[i])
}

func displayStatistics(c *capture) {
	fmt.Printf("📐 Measurements:\n")
	for _, r := range reports(c) {
		if r.Measurement == nil {
			fmt.Printf("Channel %d: too few samples (%d) to measure\n", r.Channel, r.Samples)
			continue
		}
		m := r.Measurement
		freq := "--"
		if m.Freq != nil {
			freq = fmt.Sprintf("%.1f Hz", *m.Freq)
		}
		fmt.Printf("Channel %d: Vpp %.3f V  Avg %.3f V  Min %.3f V  Max %.3f V  Freq %s\n",
			r.Channel, m.VPP, m.VAvg, m.VMin, m.VMax, freq)
	}
	fmt.Println()
}

// displayGraph plots both channels on a shared voltage axis. Channel 1 is
// drawn with '*', channel 2 with 'o' and overlaps with '#'.
func displayGraph(c *capture) {
	ch1, ch2 := channelAt(c, 0), channelAt(c, 1)
	n := max(len(ch1), len(ch2))
	if n == 0 || graphWidth < 2 || graphHeight < 2 {
		fmt.Printf("No data to graph\n\n")
		return
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, ch := range [][]float64{ch1, ch2} {
		for _, v := range ch {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	if hi == lo {
		hi, lo = hi+0.5, lo-0.5
	}

	grid := make([][]byte, graphHeight)
	for i := range grid {
		grid[i] = []byte(strings.Repeat(" ", graphWidth))
	}

	plot := func(ch []float64, mark byte) {
		for x := 0; x < graphWidth; x++ {
			i := x * n / graphWidth
			if i >= len(ch) {
				return
			}
			y := int((hi - ch[i]) / (hi - lo) * float64(graphHeight-1))
			y = min(max(y, 0), graphHeight-1)
			if grid[y][x] != ' ' && grid[y][x] != mark {
				grid[y][x] = '#'
			} else {
				grid[y][x] = mark
			}
		}
	}
	plot(ch1, '*')
	plot(ch2, 'o')

	fmt.Printf("📉 Waveform (CH1 '*', CH2 'o'):\n")
	for y, row := range grid {
		v := hi - float64(y)*(hi-lo)/float64(graphHeight-1)
		fmt.Printf("%8.3f V │%s\n", v, string(row))
	}
	fmt.Printf("%10s └%s\n", "", strings.Repeat("─", graphWidth))
	if c.Metadata.SampleRate > 0 {
		fmt.Printf("%10s  0 ms%*s%.3f ms\n", "", graphWidth-12, "", float64(n)/c.Metadata.SampleRate*1000)
	}
	fmt.Println()
}
