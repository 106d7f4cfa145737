// miniscope - dual-channel USB oscilloscope acquisition engine
// This program reads interleaved ADC frames from a serial instrument (or a
// built-in signal generator), triggers and measures the waveforms, and serves
// the live display over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"miniscope/internal/acquisition"
	"miniscope/internal/config"
	"miniscope/internal/logging"
	"miniscope/internal/scope"
	"miniscope/internal/version"
)

// Command line flag variables
var (
	cfgFile string // Configuration file path
	verbose bool   // Enable debug logging
	falling bool   // Trigger both channels on falling edges
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "miniscope",
	Short: "Dual-channel oscilloscope acquisition and triggering engine",
	Long: `miniscope decodes sample frames from a USB-serial oscilloscope front end
(or a synthetic generator), locates stable trigger edges, measures both
channels and publishes live frames over HTTP and websocket.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runScope(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := acquisition.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		for _, p := range ports {
			if p.IsUSB {
				fmt.Printf("%-20s USB %s:%s %s %s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
			} else {
				fmt.Printf("%s\n", p.Name)
			}
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo("miniscope"))
	},
}

// init initializes the CLI flags and configuration
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Source
	rootCmd.Flags().StringP("source", "s", "synthetic", "sample source: serial or synthetic")
	rootCmd.Flags().StringP("port", "p", "/dev/ttyACM0", "serial port device")
	rootCmd.Flags().IntP("baud", "b", 921600, "serial baud rate")
	rootCmd.Flags().Int("samples-per-channel", 2048, "samples per channel in one wire frame")
	rootCmd.Flags().StringP("duration", "d", "0s", "session duration (0 runs until interrupted)")

	// Display and trigger
	rootCmd.Flags().String("mode", "AUTO", "trigger mode: AUTO or NORMAL")
	rootCmd.Flags().BoolVar(&falling, "falling", false, "trigger both channels on falling edges")
	rootCmd.Flags().String("time-per-div", "1ms", "horizontal time per division")
	rootCmd.Flags().Bool("fft", false, "publish magnitude spectra instead of measurements")

	// Collaborators
	rootCmd.Flags().Bool("serve", false, "serve frames, settings and metrics over HTTP")
	rootCmd.Flags().String("listen", "127.0.0.1:8080", "monitor server listen address")
	rootCmd.Flags().Bool("audio", false, "play channel 1 through the sound card")
	rootCmd.Flags().StringP("output", "o", "./captures", "capture output directory")
	rootCmd.Flags().String("format", "csv", "capture format: csv or bin")
	rootCmd.Flags().Bool("save", false, "save the last frame when the session ends")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	// Bind command line flags to viper configuration keys
	viper.BindPFlag("acquisition.source", rootCmd.Flags().Lookup("source"))
	viper.BindPFlag("serial.port", rootCmd.Flags().Lookup("port"))
	viper.BindPFlag("serial.baud_rate", rootCmd.Flags().Lookup("baud"))
	viper.BindPFlag("acquisition.samples_per_channel", rootCmd.Flags().Lookup("samples-per-channel"))
	viper.BindPFlag("acquisition.duration", rootCmd.Flags().Lookup("duration"))
	viper.BindPFlag("trigger.mode", rootCmd.Flags().Lookup("mode"))
	viper.BindPFlag("display.time_per_div", rootCmd.Flags().Lookup("time-per-div"))
	viper.BindPFlag("display.fft", rootCmd.Flags().Lookup("fft"))
	viper.BindPFlag("server.enabled", rootCmd.Flags().Lookup("serve"))
	viper.BindPFlag("server.listen", rootCmd.Flags().Lookup("listen"))
	viper.BindPFlag("audio.enabled", rootCmd.Flags().Lookup("audio"))
	viper.BindPFlag("export.output_dir", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("export.format", rootCmd.Flags().Lookup("format"))
	viper.BindPFlag("export.save_on_exit", rootCmd.Flags().Lookup("save"))
	viper.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(configCmd, portsCmd, versionCmd)
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("MINISCOPE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig layers the config file, environment and flags over the defaults
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if falling {
		cfg.Channels.CH1.Rising = false
		cfg.Channels.CH2.Rising = false
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runScope is the main application logic
func runScope() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closer.Close()

	fmt.Printf("miniscope %s starting...\n", version.GetFullVersion())
	fmt.Printf("Source: %s\n", cfg.Acquisition.Source)
	if cfg.Acquisition.Source == "serial" {
		fmt.Printf("Port: %s @ %d baud, %d samples/channel per frame\n",
			cfg.Serial.Port, cfg.Serial.BaudRate, cfg.Acquisition.SamplesPerChannel)
	}
	fmt.Printf("Trigger: %s, time/div %v\n", cfg.Trigger.Mode, cfg.Display.TimePerDiv)
	if cfg.Server.Enabled {
		fmt.Printf("Monitor: http://%s\n", cfg.Server.Listen)
	}

	s := scope.NewScope(cfg, logger)
	if err := s.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize scope: %w", err)
	}
	defer s.Close()

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("session failed: %w", err)
	}
	if ctx.Err() != nil {
		fmt.Printf("\nReceived interrupt signal, shutting down...\n")
	}

	if cfg.Export.SaveOnExit {
		filename, err := s.Save()
		if err != nil {
			return err
		}
		fmt.Printf("Capture saved to: %s\n", filename)
	}

	fmt.Printf("Session completed.\n")
	return nil
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
