package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pcmcapture/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available input backends and audio sources",
	Long:  `List the input backends and, when PipeWire is installed, the ports that can be used as session.audio_source.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("🎵 Audio Sources (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		fmt.Printf("🔌 BACKENDS:\n")
		pipeWire := false
		for _, b := range source.GetAvailableBackends() {
			mark := "✗"
			if b.Available {
				mark = "✓"
			}
			fmt.Printf("  %s %-9s %s\n", mark, b.Type, b.Description)
			if b.Type == source.BackendTypePipeWire {
				pipeWire = b.Available
			}
		}
		fmt.Printf("\nActive profile '%s' uses backend '%s'\n\n", cfg.Profile, cfg.Device.Backend)

		if !pipeWire {
			return nil
		}
		return listPipeWireSources()
	},
}

// listPipeWireSources lists available PipeWire/JACK ports
func listPipeWireSources() error {
	ports, err := source.NewPipeWire().ListPorts()
	if err != nil {
		slog.Warn("Could not list PipeWire ports", "error", err)
		return nil
	}

	fmt.Printf("📋 PIPEWIRE/JACK PORTS (%d found):\n", len(ports))
	for i, port := range ports {
		fmt.Printf("  %d. %s\n", i+1, port)
	}

	fmt.Printf("\n💡 PipeWire Usage:\n")
	fmt.Printf("  • Port: \"Device: Audio (hw:X,Y):capture_FL\" is linked to the capture stream\n")
	fmt.Printf("  • Node: any other name is passed to pw-record --target\n")
	fmt.Printf("  • Configure in session.audio_source, \"auto\" records the default source\n\n")

	return nil
}
