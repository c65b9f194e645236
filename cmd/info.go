package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pcmcapture/internal/config"
	"github.com/audiolibrelab/pcmcapture/internal/service"
)

var infoCmd = &cobra.Command{
	Use:   "info [recording-name | file.wav]",
	Short: "Show resolved configuration, file paths and levels for a recording",
	Long: `Display the resolved configuration with inheritance indicators and file paths for
the given recording name. Shows which values are inherited from default vs
profile-specific. When the recording exists, or a WAV path is given, its header
and per-channel levels are shown as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService()
		arg := args[0]

		// A path to an existing WAV file is inspected directly
		if strings.HasSuffix(strings.ToLower(arg), ".wav") {
			if _, err := os.Stat(arg); err == nil {
				a, err := svc.Inspect(arg)
				if err != nil {
					return err
				}
				printAnalysis(a)
				return nil
			}
		}

		info, err := svc.GetRecordingInfo(arg)
		if err != nil {
			return err
		}

		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("output_wav: %s\n", info.WAVPath)
		fmt.Printf("output_frames: %s\n", info.FramesPath)
		fmt.Printf("clean_name: %s\n", info.CleanName)

		printResolvedConfig(cfg)

		if info.Exists {
			a, err := svc.Inspect(info.WAVPath)
			if err != nil {
				return err
			}
			fmt.Println()
			printAnalysis(a)
		}
		return nil
	},
}

func printResolvedConfig(c *config.Config) {
	inh := c.Inheritance
	if inh == nil {
		inh = &config.InheritanceInfo{}
	}

	sc, err := c.SessionConfig()
	if err != nil {
		fmt.Printf("\n(invalid session: %v)\n", err)
		return
	}

	fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", c.Profile)

	fmt.Printf("\n[Session]\n")
	fmt.Printf("duration: %d %s\n", sc.Duration, getInheritanceIndicator(inh.Session.Duration))
	fmt.Printf("sample_rate: %d %s\n", sc.SampleRate, getInheritanceIndicator(inh.Session.SampleRate))
	fmt.Printf("number_of_channels: %d %s\n", sc.NumberOfChannels, getInheritanceIndicator(inh.Session.NumberOfChannels))
	fmt.Printf("frame_size: %d %s\n", sc.FrameSize, getInheritanceIndicator(inh.Session.FrameSize))
	fmt.Printf("sample_format: %s %s\n", sc.SampleFormat, getInheritanceIndicator(inh.Session.SampleFormat))
	fmt.Printf("audio_source: %s %s\n", sc.AudioSource, getInheritanceIndicator(inh.Session.AudioSource))

	fmt.Printf("\n[Device]\n")
	fmt.Printf("backend: %s %s\n", c.Device.Backend, getInheritanceIndicator(inh.Device.Backend))
	if c.Device.Path != "" {
		fmt.Printf("path: %s %s\n", c.Device.Path, getInheritanceIndicator(inh.Device.Path))
	}
	fmt.Printf("tone_frequency: %.1f %s\n", c.Device.ToneFrequency, getInheritanceIndicator(inh.Device.ToneFrequency))
	fmt.Printf("device_rate: %d %s\n", c.Device.DeviceRate, getInheritanceIndicator(inh.Device.DeviceRate))
	fmt.Printf("realtime: %t %s\n", c.Device.IsRealtime(), getInheritanceIndicator(inh.Device.Realtime))

	fmt.Printf("\n[Output]\n")
	fmt.Printf("directory: %s %s\n", c.Output.Directory, getInheritanceIndicator(inh.Output.Directory))
	fmt.Printf("save_frames: %t %s\n", c.Output.SavesFrames(), getInheritanceIndicator(inh.Output.SaveFrames))
}

func printAnalysis(a *service.Analysis) {
	fmt.Printf("=== %s ===\n", a.Path)
	fmt.Printf("format: %s, %d bit\n", a.AudioFormat, a.BitDepth)
	fmt.Printf("sample_rate: %d\n", a.SampleRate)
	fmt.Printf("channels: %d\n", a.Channels)
	fmt.Printf("frames: %d (%d data bytes)\n", a.Frames, a.DataBytes)
	fmt.Printf("duration: %.3f s\n", a.Duration)
	for i, lv := range a.Levels {
		fmt.Printf("channel %d: peak %.1f dBFS, rms %.1f dBFS\n", i, lv.PeakDBFS, lv.RMSDBFS)
	}
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case config.Inherited:
		return "[inherited]"
	case config.ProfileSpecific:
		return "[profile-specific]"
	default:
		return "[default]"
	}
}
