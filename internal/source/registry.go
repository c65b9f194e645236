package source

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
	"github.com/audiolibrelab/pcmcapture/internal/config"
)

// BackendType represents the type of input device backend
type BackendType string

const (
	BackendTypeTone     BackendType = config.BackendTone
	BackendTypeFile     BackendType = config.BackendFile
	BackendTypePipeWire BackendType = config.BackendPipeWire
	BackendTypeAuto     BackendType = config.BackendAuto
)

// Backend describes one device backend for the sources command.
type Backend struct {
	Type        BackendType
	Description string
	Available   bool
}

var lookPath = exec.LookPath

// NewDevice creates the input device selected by the configuration.
func NewDevice(cfg *config.Config) (audio.Device, error) {
	switch determineBackend(cfg) {
	case BackendTypeTone:
		return &ToneDevice{
			Frequency:  cfg.Device.ToneFrequency,
			DeviceRate: cfg.Device.DeviceRate,
			Realtime:   cfg.Device.IsRealtime(),
		}, nil
	case BackendTypeFile:
		if cfg.Device.Path == "" {
			return nil, fmt.Errorf("file backend requires device.path")
		}
		return &FileDevice{Path: cfg.Device.Path, Realtime: cfg.Device.IsRealtime()}, nil
	case BackendTypePipeWire:
		return NewPipeWireDevice(), nil
	}
	return nil, fmt.Errorf("unknown device backend: %s", cfg.Device.Backend)
}

// determineBackend resolves "auto" to PipeWire when pw-record is installed
// and to the tone generator otherwise.
func determineBackend(cfg *config.Config) BackendType {
	switch backend := BackendType(strings.ToLower(cfg.Device.Backend)); backend {
	case BackendTypeTone, BackendTypeFile, BackendTypePipeWire:
		return backend
	case BackendTypeAuto, "":
		if pipeWireAvailable() {
			return BackendTypePipeWire
		}
		return BackendTypeTone
	default:
		return backend
	}
}

func pipeWireAvailable() bool {
	_, err := lookPath("pw-record")
	return err == nil
}

// GetAvailableBackends returns every backend and whether it can run here
func GetAvailableBackends() []Backend {
	return []Backend{
		{Type: BackendTypePipeWire, Description: "live capture through pw-record", Available: pipeWireAvailable()},
		{Type: BackendTypeTone, Description: "synthetic sine tone", Available: true},
		{Type: BackendTypeFile, Description: "replay of a PCM WAV file", Available: true},
	}
}
