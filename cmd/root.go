package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/pcmcapture/internal/config"
	"github.com/audiolibrelab/pcmcapture/internal/service"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	pipeline     string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "pcmcapture [recording-name]",
	Short: "Capture audio input into WAV recordings",
	Long: `PCMCapture records an audio input into a 16-bit or 32-bit float WAV file,
optionally writing every resampled frame to a raw PCM stream as it arrives.

Inputs come from PipeWire, a synthetic tone or a WAV file replayed as live
input. When a recording name is provided, it acts as 'pcmcapture run [recording-name]'.`,
	Args: cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		if err := validatePipeline(); err != nil {
			return err
		}

		explicit := cfgFile != ""
		if !explicit {
			cfgFile = config.DefaultPath()
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err == nil {
			return nil
		}

		// Without a config file the built-in defaults are enough to record
		if !explicit && profile == "" {
			if _, statErr := os.Stat(cfgFile); errors.Is(statErr, os.ErrNotExist) {
				slog.Debug("No config file found, using defaults", "path", cfgFile)
				cfg = config.Default()
				return nil
			}
		}
		return fmt.Errorf("failed to load config: %w", err)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// If a recording name is provided, delegate to run command
		if len(args) == 1 {
			return runCmd.RunE(cmd, args)
		}
		// Otherwise show help
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pcmcapture.yaml)")
	rootCmd.PersistentFlags().StringVarP(&pipeline, "pipeline", "p", "", "pipeline steps: r=record, i=inspect, p=play (e.g., 'rip', 'rp')")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=pw-record output")

	addRecordFlags(rootCmd)

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// newService creates the service for the loaded configuration
func newService() *service.CaptureService {
	return service.New(cfg, cfgFile)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))

	if level >= 2 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}
