package source

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
)

// nodeName is the PipeWire node name of the capture stream.
const nodeName = "pcmcapture"

// PipeWire manages PipeWire/JACK port operations
type PipeWire struct{}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{}
}

// ListPorts returns all available ports via PipeWire
func (pw *PipeWire) ListPorts() ([]string, error) {
	cmd := exec.Command("pw-link", "-io")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePorts(string(output)), nil
}

func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// ValidatePort checks if a specific port exists and has no duplicates
func (pw *PipeWire) ValidatePort(portName string) error {
	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}
	return validatePortInList(portName, ports)
}

func validatePortInList(portName string, ports []string) error {
	if portName == "" {
		return nil
	}

	duplicates := findPortDuplicatesInList(portName, ports)
	switch {
	case len(duplicates) == 0:
		return fmt.Errorf("port not found: %s", portName)
	case len(duplicates) > 1:
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", portName, duplicates)
	}
	return nil
}

// findPortDuplicatesInList finds all ports with exactly the same name
func findPortDuplicatesInList(portName string, ports []string) []string {
	var duplicates []string
	for _, port := range ports {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

// portExists checks if a port exists in the current graph
func (pw *PipeWire) portExists(portName string) bool {
	ports, err := pw.ListPorts()
	if err != nil {
		slog.Debug("Failed to check port existence", "port", portName, "error", err)
		return false
	}
	return len(findPortDuplicatesInList(portName, ports)) > 0
}

// ConnectPortsWithRetry connects two ports, waiting for the source to appear
func (pw *PipeWire) ConnectPortsWithRetry(ctx context.Context, sourcePort, destPort string) error {
	maxRetries, retryDelay := 5, 500*time.Millisecond
	if isEphemeralPort(sourcePort) {
		// Browsers and streaming apps may take longer to appear
		maxRetries, retryDelay = 15, time.Second
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if pw.portExists(sourcePort) && pw.portExists(destPort) {
			err := pw.connectPorts(sourcePort, destPort)
			if err == nil {
				slog.Debug("Successfully connected ports", "source", sourcePort, "dest", destPort, "attempt", attempt)
				return nil
			}
			slog.Debug("Connection attempt failed", "source", sourcePort, "dest", destPort, "attempt", attempt, "error", err)
		} else {
			slog.Debug("Port not yet available", "source", sourcePort, "dest", destPort, "attempt", attempt)
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	return fmt.Errorf("failed to connect %s to %s after %d attempts", sourcePort, destPort, maxRetries)
}

func (pw *PipeWire) connectPorts(sourcePort, destPort string) error {
	cmd := exec.Command("pw-link", sourcePort, destPort)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to connect ports: %w (output: %s)", err, string(output))
	}
	return nil
}

// isEphemeralPort determines if a port belongs to an application that may
// appear late
func isEphemeralPort(portName string) bool {
	lowerPort := strings.ToLower(portName)
	for _, app := range []string{
		"chrome", "firefox", "spotify", "discord", "steam",
		"vlc", "mpv", "zoom", "teams", "slack",
	} {
		if strings.Contains(lowerPort, app) {
			return true
		}
	}
	return false
}

// isPortName reports whether source names a single port ("device:port")
// rather than a node.
func isPortName(source string) bool {
	i := strings.LastIndex(source, ":")
	return i > 0 && i < len(source)-1
}

// PipeWireDevice captures through a pw-record child process writing raw
// 32-bit float samples to its stdout. A DeviceID naming a node becomes the
// record target; one naming a port is linked to the stream's inputs.
type PipeWireDevice struct {
	pw *PipeWire
}

func NewPipeWireDevice() *PipeWireDevice {
	return &PipeWireDevice{pw: NewPipeWire()}
}

// recordArgs builds the pw-record command line for req.
func recordArgs(req audio.DeviceRequest) []string {
	target := req.DeviceID
	if isPortName(target) {
		// Linked by hand once the stream exists
		target = "0"
	}

	args := []string{
		"pw-record",
		"--raw",
		"--format", "f32",
		"--rate", strconv.Itoa(req.SampleRate),
		"--channels", strconv.Itoa(req.Channels),
		"--latency", strconv.Itoa(req.FrameSize),
		"--properties", fmt.Sprintf("{ node.name = %s }", nodeName),
	}
	if target != "" {
		args = append(args, "--target", target)
	}
	return append(args, "-")
}

// streamPorts returns the input ports of the capture node for a channel count.
func streamPorts(channels int) []string {
	if channels == 1 {
		return []string{nodeName + ":input_MONO"}
	}
	return []string{nodeName + ":input_FL", nodeName + ":input_FR"}
}

func (d *PipeWireDevice) Open(ctx context.Context, req audio.DeviceRequest, fn audio.TickFunc) (audio.Stream, error) {
	if req.SampleRate <= 0 || req.FrameSize <= 0 {
		return nil, fmt.Errorf("invalid device request: rate %d, frame size %d", req.SampleRate, req.FrameSize)
	}

	args := recordArgs(req)
	slog.Info("Starting PipeWire capture", "command", strings.Join(args, " "))

	cmd := exec.Command(args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start pw-record: %w", err)
	}

	s := &processStream{cmd: cmd, done: make(chan struct{})}
	go logOutput(stderr)
	go func() {
		defer close(s.done)
		if err := readTicks(stdout, req.Channels, req.FrameSize, req.SampleRate, fn); err != nil {
			s.setErr(err)
		}
	}()

	if isPortName(req.DeviceID) {
		for _, dest := range streamPorts(req.Channels) {
			if err := d.pw.ConnectPortsWithRetry(ctx, req.DeviceID, dest); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
	}

	return s, nil
}

func logOutput(pipe io.ReadCloser) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		slog.Debug("pw-record output", "line", scanner.Text())
	}
	pipe.Close()
}

// readTicks slices interleaved little-endian float32 samples from r into
// blocks of frameSize frames. A short final read is delivered as a shorter
// block.
func readTicks(r io.Reader, channels, frameSize, rate int, fn audio.TickFunc) error {
	frameBytes := channels * 4
	buf := make([]byte, frameSize*frameBytes)
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, frameSize)
	}

	for {
		n, err := io.ReadFull(r, buf)
		if frames := n / frameBytes; frames > 0 {
			for ch := range out {
				out[ch] = out[ch][:frames]
			}
			for i := range frames {
				for ch := range out {
					off := (i*channels + ch) * 4
					out[ch][i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
				}
			}
			fn(audio.Block{Channels: out, SampleRate: rate})
			for ch := range out {
				out[ch] = out[ch][:frameSize]
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, os.ErrClosed):
			return nil
		default:
			return fmt.Errorf("failed to read capture stream: %w", err)
		}
	}
}

// processStream stops a capture child process.
type processStream struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu   sync.Mutex
	err  error
	once sync.Once
}

func (s *processStream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close interrupts the process, waits up to five seconds for it to exit
// and then for the reader to drain.
func (s *processStream) Close() error {
	s.once.Do(func() {
		if s.cmd.Process != nil {
			slog.Debug("Sending SIGINT to pw-record")
			if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
				slog.Debug("Failed to interrupt pw-record, killing", "error", err)
				_ = s.cmd.Process.Kill()
			}
		}

		exited := make(chan error, 1)
		go func() {
			// Wait closes stdout once the reader has seen EOF
			<-s.done
			exited <- s.cmd.Wait()
		}()

		select {
		case err := <-exited:
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) {
				s.setErr(err)
			}
		case <-time.After(5 * time.Second):
			slog.Warn("pw-record did not exit within timeout, force killing")
			_ = s.cmd.Process.Kill()
			<-exited
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
