// Package config provides configuration structures and defaults for miniscope
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Serial      SerialConfig      `yaml:"serial" mapstructure:"serial"`           // Serial link settings
	Acquisition AcquisitionConfig `yaml:"acquisition" mapstructure:"acquisition"` // Sample source and history settings
	Trigger     TriggerConfig     `yaml:"trigger" mapstructure:"trigger"`         // Trigger mode shared by both channels
	Display     DisplayConfig     `yaml:"display" mapstructure:"display"`         // Display window settings
	AutoScale   AutoScaleConfig   `yaml:"autoscale" mapstructure:"autoscale"`     // Viewport auto-ranging
	Channels    ChannelsConfig    `yaml:"channels" mapstructure:"channels"`       // Per-channel scaling and trigger levels
	Audio       AudioConfig       `yaml:"audio" mapstructure:"audio"`             // Audio monitor settings
	Export      ExportConfig      `yaml:"export" mapstructure:"export"`           // Capture export settings
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`           // Monitor HTTP server
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`         // Logging configuration
}

// SerialConfig contains serial link parameters
type SerialConfig struct {
	Port           string        `yaml:"port" mapstructure:"port"`                       // Serial port device path
	BaudRate       int           `yaml:"baud_rate" mapstructure:"baud_rate"`             // Serial communication baud rate
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`       // Blocking read timeout
	ReadChunk      int           `yaml:"read_chunk" mapstructure:"read_chunk"`           // Maximum bytes per read
	ReconnectDelay time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay"` // Backoff between open attempts
	StopTimeout    time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout"`       // Bounded join when stopping the reader
}

// AcquisitionConfig contains sample source parameters
type AcquisitionConfig struct {
	Source            string        `yaml:"source" mapstructure:"source"`                           // "serial" or "synthetic"
	SampleRate        float64       `yaml:"sample_rate" mapstructure:"sample_rate"`                 // Per-channel sample rate in Hz
	SamplesPerChannel int           `yaml:"samples_per_channel" mapstructure:"samples_per_channel"` // Samples per channel in one wire frame
	QueueCapacity     int           `yaml:"queue_capacity" mapstructure:"queue_capacity"`           // Hand-off queue depth
	BufferSize        int           `yaml:"buffer_size" mapstructure:"buffer_size"`                 // Ring buffer capacity per channel
	SyntheticBatch    int           `yaml:"synthetic_batch" mapstructure:"synthetic_batch"`         // Samples generated per synthetic pull
	Duration          time.Duration `yaml:"duration" mapstructure:"duration"`                       // Run duration, 0 runs until interrupted
}

// TriggerConfig contains the window selection mode. Edge and filter
// settings belong to each channel.
type TriggerConfig struct {
	Mode string `yaml:"mode" mapstructure:"mode"` // AUTO or NORMAL
}

// DisplayConfig contains display window parameters
type DisplayConfig struct {
	TimePerDiv   time.Duration `yaml:"time_per_div" mapstructure:"time_per_div"`   // Horizontal time per division
	Divisions    int           `yaml:"divisions" mapstructure:"divisions"`         // Horizontal divisions on screen
	TickInterval time.Duration `yaml:"tick_interval" mapstructure:"tick_interval"` // Consumer tick period
	FFT          bool          `yaml:"fft" mapstructure:"fft"`                     // Publish magnitude spectra
	ADCMax       float64       `yaml:"adc_max" mapstructure:"adc_max"`             // Full-scale ADC count
	VRef         float64       `yaml:"vref" mapstructure:"vref"`                   // ADC reference voltage
}

// AutoScaleConfig contains viewport auto-ranging parameters
type AutoScaleConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`                   // Auto-range axes every tick
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`                   // Quiet period before contracting
	MarginFraction  float64       `yaml:"margin_fraction" mapstructure:"margin_fraction"`   // Y margin as a fraction of the span
	MinMargin       float64       `yaml:"min_margin" mapstructure:"min_margin"`             // Y margin in volts for flat data
	PaddingFraction float64       `yaml:"padding_fraction" mapstructure:"padding_fraction"` // X padding as a fraction of the window
}

// ChannelsConfig holds the two fixed channels
type ChannelsConfig struct {
	CH1 ChannelConfig `yaml:"ch1" mapstructure:"ch1"`
	CH2 ChannelConfig `yaml:"ch2" mapstructure:"ch2"`
}

// ChannelConfig contains per-channel scaling and trigger settings
type ChannelConfig struct {
	Enabled            bool    `yaml:"enabled" mapstructure:"enabled"`                         // Measure and show this channel
	TriggerLevel       float64 `yaml:"trigger_level" mapstructure:"trigger_level"`             // Trigger threshold in ADC counts
	Rising             bool    `yaml:"rising" mapstructure:"rising"`                           // Rising edge when true, falling otherwise
	FilterEnabled      bool    `yaml:"filter_enabled" mapstructure:"filter_enabled"`           // Smooth before detecting crossings
	FilterWindow       int     `yaml:"filter_window" mapstructure:"filter_window"`             // Moving average width in samples
	MinWidth           int     `yaml:"min_width" mapstructure:"min_width"`                     // Samples that must hold past the crossing
	MaxFound           int     `yaml:"max_found" mapstructure:"max_found"`                     // Crossings collected per scan
	HardwareMultiplier float64 `yaml:"hardware_multiplier" mapstructure:"hardware_multiplier"` // Front-end divider ratio
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier"`                   // User attenuation multiplier
	Offset             float64 `yaml:"offset" mapstructure:"offset"`                           // Vertical offset in volts
}

// AudioConfig contains audio monitor parameters
type AudioConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`         // Play channel 1 through the sound card
	SampleRate int     `yaml:"sample_rate" mapstructure:"sample_rate"` // Output sample rate in Hz
	Volume     float64 `yaml:"volume" mapstructure:"volume"`           // Gain in [0,1]
	Reference  float64 `yaml:"reference" mapstructure:"reference"`     // Mid-scale reference voltage
	BlockSize  int     `yaml:"block_size" mapstructure:"block_size"`   // Frames per device callback
}

// ExportConfig contains capture export parameters
type ExportConfig struct {
	OutputDir  string `yaml:"output_dir" mapstructure:"output_dir"`     // Output directory for capture files
	FilePrefix string `yaml:"file_prefix" mapstructure:"file_prefix"`   // Prefix for output filenames
	Format     string `yaml:"format" mapstructure:"format"`             // "csv" or "bin"
	SaveOnExit bool   `yaml:"save_on_exit" mapstructure:"save_on_exit"` // Write the last frame when the session ends
}

// ServerConfig contains monitor server parameters
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"` // Serve frames, settings and metrics over HTTP
	Listen  string `yaml:"listen" mapstructure:"listen"`   // Listen address
}

// LoggingConfig contains logging configuration parameters
type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"` // Log level (debug, info, warn, error)
	File  string `yaml:"file" mapstructure:"file"`   // Log file path, empty logs to stderr only
}

// DefaultConfig returns a configuration with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:           "/dev/ttyACM0",         // Common USB CDC device path
			BaudRate:       921600,                 // Instrument link speed
			ReadTimeout:    200 * time.Millisecond, // Bounds stop latency
			ReadChunk:      256,                    // Bytes per read
			ReconnectDelay: time.Second,            // Fixed backoff
			StopTimeout:    500 * time.Millisecond, // Bounded join
		},
		Acquisition: AcquisitionConfig{
			Source:            "synthetic",
			SampleRate:        50000,
			SamplesPerChannel: 2048,
			QueueCapacity:     8,
			BufferSize:        8000,
			SyntheticBatch:    60,
			Duration:          0,
		},
		Trigger: TriggerConfig{
			Mode: "AUTO",
		},
		Display: DisplayConfig{
			TimePerDiv:   time.Millisecond,
			Divisions:    10,
			TickInterval: 30 * time.Millisecond, // ~33 Hz
			FFT:          false,
			ADCMax:       4095,
			VRef:         3.3,
		},
		AutoScale: AutoScaleConfig{
			Enabled:         true,
			Timeout:         5 * time.Second,
			MarginFraction:  0.1,
			MinMargin:       0.1,
			PaddingFraction: 0.02,
		},
		Channels: ChannelsConfig{
			CH1: defaultChannel(9.0),
			CH2: defaultChannel(9.25),
		},
		Audio: AudioConfig{
			Enabled:    false,
			SampleRate: 44100, // CD quality
			Volume:     0.5,
			Reference:  1.65, // VRef / 2
			BlockSize:  1024,
		},
		Export: ExportConfig{
			OutputDir:  "./captures",
			FilePrefix: "miniscope",
			Format:     "csv",
			SaveOnExit: false,
		},
		Server: ServerConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// defaultChannel is a mid-scale rising trigger with a 5-sample smoothing
// filter behind the given front-end divider
func defaultChannel(hardwareMultiplier float64) ChannelConfig {
	return ChannelConfig{
		Enabled:            true,
		TriggerLevel:       2048,
		Rising:             true,
		FilterEnabled:      true,
		FilterWindow:       5,
		MinWidth:           3,
		MaxFound:           1,
		HardwareMultiplier: hardwareMultiplier,
		Multiplier:         1.0,
	}
}

// FrameBytes returns the size of one wire frame for the configured layout
func (c *Config) FrameBytes() int {
	return c.Acquisition.SamplesPerChannel * 2 * 2
}

// Validate checks that the configuration values are usable
func (c *Config) Validate() error {
	switch strings.ToLower(c.Acquisition.Source) {
	case "serial":
		if c.Serial.Port == "" {
			return fmt.Errorf("serial port not specified for serial source")
		}
		if c.Serial.BaudRate <= 0 {
			return fmt.Errorf("invalid baud rate: %d", c.Serial.BaudRate)
		}
		if c.Serial.ReadChunk <= 0 {
			return fmt.Errorf("invalid read chunk: %d", c.Serial.ReadChunk)
		}
	case "synthetic":
		if c.Acquisition.SyntheticBatch <= 0 {
			return fmt.Errorf("invalid synthetic batch size: %d", c.Acquisition.SyntheticBatch)
		}
	default:
		return fmt.Errorf("invalid source: %s (must be 'serial' or 'synthetic')", c.Acquisition.Source)
	}

	if c.Acquisition.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive")
	}
	if c.Acquisition.SamplesPerChannel <= 0 {
		return fmt.Errorf("samples per channel must be positive")
	}
	if c.Acquisition.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive")
	}
	if c.Acquisition.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}

	switch strings.ToUpper(c.Trigger.Mode) {
	case "AUTO", "NORMAL":
	default:
		return fmt.Errorf("invalid trigger mode: %s (must be 'AUTO' or 'NORMAL')", c.Trigger.Mode)
	}

	if c.Display.Divisions <= 0 {
		return fmt.Errorf("divisions must be positive")
	}
	if c.Display.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.Display.ADCMax <= 0 || c.Display.VRef <= 0 {
		return fmt.Errorf("adc_max and vref must be positive")
	}

	for name, ch := range map[string]ChannelConfig{"ch1": c.Channels.CH1, "ch2": c.Channels.CH2} {
		if ch.FilterWindow <= 0 {
			return fmt.Errorf("%s filter window must be positive", name)
		}
		if ch.MinWidth < 0 {
			return fmt.Errorf("%s min width cannot be negative", name)
		}
		if ch.MaxFound <= 0 {
			return fmt.Errorf("%s max found must be positive", name)
		}
		if ch.Multiplier < 0.001 || ch.Multiplier > 1000 {
			return fmt.Errorf("%s multiplier %.4f out of range [0.001, 1000]", name, ch.Multiplier)
		}
		if ch.TriggerLevel < 0 || ch.TriggerLevel > c.Display.ADCMax {
			return fmt.Errorf("%s trigger level %.0f out of range [0, %.0f]", name, ch.TriggerLevel, c.Display.ADCMax)
		}
	}

	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return fmt.Errorf("audio volume must be between 0 and 1")
	}
	if c.Audio.Enabled && c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample rate must be positive")
	}
	if c.Audio.Reference <= 0 {
		return fmt.Errorf("audio reference must be positive")
	}

	switch strings.ToLower(c.Export.Format) {
	case "csv", "bin":
	default:
		return fmt.Errorf("invalid export format: %s (must be 'csv' or 'bin')", c.Export.Format)
	}

	return nil
}
