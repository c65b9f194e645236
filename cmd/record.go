package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pcmcapture/internal/observe"
	"github.com/audiolibrelab/pcmcapture/internal/service"
)

var recordCmd = &cobra.Command{
	Use:   "record [recording-name]",
	Short: "Record the configured input to a WAV file",
	Long: `Record the configured input until Ctrl+C, the maximum duration or the end
of a replayed file. The recording is saved as <name>.wav in the output directory,
and as <name>.frames.pcm as well when frames are saved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		slog.Info("Record command started", "name", name)

		if err := applyRecordFlags(cmd); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		_, err := record(ctx, cmd, name)
		stop()
		if err != nil {
			return err
		}

		// Execute pipeline if specified
		return executePipeline(cmd.Context(), newService(), name, 'r')
	},
}

func init() {
	addRecordFlags(recordCmd)
}

func addRecordFlags(cmd *cobra.Command) {
	cmd.Flags().Int("duration", 0, "maximum duration in ms (overrides config)")
	cmd.Flags().Bool("frames", false, "also save resampled frames as raw PCM16")
	cmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while recording (e.g. :9464)")
}

// applyRecordFlags copies command line overrides into the loaded config
func applyRecordFlags(cmd *cobra.Command) error {
	if cmd.Flags().Changed("duration") {
		duration, _ := cmd.Flags().GetInt("duration")
		cfg.Session.Duration = &duration
	}
	if cmd.Flags().Changed("frames") {
		frames, _ := cmd.Flags().GetBool("frames")
		cfg.Output.SaveFrames = &frames
	}
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		cfg.Output.Directory = output
	}
	return cfg.Validate()
}

func record(ctx context.Context, cmd *cobra.Command, name string) (*service.RecordResult, error) {
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		shutdown, err := serveMetrics(ctx, addr)
		if err != nil {
			return nil, err
		}
		defer shutdown()
	}

	svc := newService()
	slog.Info("Recording... Press Ctrl+C to stop")

	res, err := svc.Record(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to record: %w", err)
	}

	fmt.Printf("Saved %s (%.1f s, %d Hz, %d ch, %d bytes)\n",
		res.WAVPath, res.Recording.DurationMs/1000, res.Recording.SampleRate,
		res.Recording.Channels, res.Recording.ByteLength)
	if res.Frames > 0 {
		fmt.Printf("Saved %d frames to %s\n", res.Frames, res.FramesPath)
	}
	if res.Recording.RejectedTicks > 0 {
		slog.Warn("Some input blocks were rejected", "count", res.Recording.RejectedTicks)
	}
	return res, nil
}

// serveMetrics installs the Prometheus metric provider and serves it on addr.
func serveMetrics(ctx context.Context, addr string) (func(), error) {
	shutdownProvider, err := observe.InitProvider(ctx, "pcmcapture")
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("Serving metrics", "url", fmt.Sprintf("http://%s/metrics", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = shutdownProvider(shutdownCtx)
	}, nil
}
