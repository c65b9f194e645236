package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings in the output directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		recordings, err := newService().ListRecordings()
		if err != nil {
			return err
		}

		fmt.Printf("Recordings in %s (%d found):\n", cfg.Output.Directory, len(recordings))
		for i, r := range recordings {
			frames := ""
			if r.HasFrames {
				frames = " +frames"
			}
			fmt.Printf("  %d. %s  %6.1fs  %5d Hz  %d ch  %2d bit  %9s  %s%s\n",
				i+1, r.Name, r.Duration, r.SampleRate, r.Channels, r.BitDepth,
				r.SizeHuman, r.ModTimeHuman, frames)
		}
		return nil
	},
}
