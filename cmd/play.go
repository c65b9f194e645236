package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pcmcapture/internal/play"
)

var playCmd = &cobra.Command{
	Use:   "play [recording-name]",
	Short: "Play a recording",
	Long: `Play the WAV file of a recording with the first player found among
pw-play, aplay, ffplay, mpv and vlc.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := newService().GetRecordingInfo(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if err := play.New().Play(ctx, info.WAVPath); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
