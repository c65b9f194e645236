package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [recording-name]",
	Short: "Execute pipeline steps on a recording",
	Long: `Execute the pipeline steps given with -p on a recording. Without -p a new
recording is made, as with 'pcmcapture record'. Steps after 'r' run on the
saved file, steps without 'r' run on an existing recording.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if pipeline == "" {
			pipeline = "r"
		}

		svc := newService()

		if pipeline[0] == 'r' {
			if err := applyRecordFlags(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			_, err := record(ctx, cmd, name)
			stop()
			if err != nil {
				return err
			}
			return executePipeline(cmd.Context(), svc, name, 'r')
		}

		info, err := svc.GetRecordingInfo(name)
		if err != nil {
			return err
		}
		if !info.Exists {
			return fmt.Errorf("recording not found: %s", info.WAVPath)
		}

		for i, step := range pipeline {
			fmt.Printf("Pipeline: step %d/%d\n", i+1, len(pipeline))
			if err := runStep(cmd.Context(), svc, name, step); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	addRecordFlags(runCmd)
}
