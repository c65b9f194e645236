package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pcmcapture/internal/observe"
	"github.com/audiolibrelab/pcmcapture/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server for remote control",
	Long: `Start the PCMCapture HTTP server to start and stop recordings remotely.
This allows you to control recording from your smartphone or any device on the same network.

Endpoints: POST /start (name, profile), POST /stop, GET /status, GET /api/files,
GET /api/files/download/<file>, GET /api/files/inspect/<file> and GET /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdown, err := observe.InitProvider(ctx, "pcmcapture")
		if err != nil {
			return fmt.Errorf("failed to set up metrics: %w", err)
		}
		defer shutdown(cmd.Context())

		srv := server.New(newService(), port)
		slog.Info("PCMCapture web server starting", "port", port, "config", cfgFile, "profile", cfg.Profile)

		// Start server (this blocks)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server")
}
