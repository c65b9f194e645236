package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
	"github.com/audiolibrelab/pcmcapture/internal/config"
	"github.com/audiolibrelab/pcmcapture/internal/observe"
	"github.com/audiolibrelab/pcmcapture/internal/pcm"
	"github.com/audiolibrelab/pcmcapture/internal/source"
)

// Service is what the command line drives.
type Service interface {
	// Recording operations
	Record(ctx context.Context, name string) (*RecordResult, error)
	GetRecordingStatus() (audio.Status, *audio.SessionInfo)

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// Information operations
	GetRecordingInfo(name string) (*RecordingInfo, error)
	ListRecordings() ([]RecordingFileInfo, error)
	Inspect(path string) (*Analysis, error)
	GetLastError() string
}

// RecordingInfo contains file path information for a recording
type RecordingInfo struct {
	CleanName  string `json:"clean_name"`
	WAVPath    string `json:"wav_path"`
	FramesPath string `json:"frames_path"`
	Exists     bool   `json:"exists"`
}

// RecordResult describes a finished recording and where it was written.
type RecordResult struct {
	RecordingInfo
	Recording *audio.Recording
	Frames    int
}

// RecordingFileInfo contains information about a recording on disk
type RecordingFileInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	SampleRate   int       `json:"sample_rate"`
	Channels     int       `json:"channels"`
	BitDepth     int       `json:"bit_depth"`
	Duration     float64   `json:"duration_seconds"`
	HasFrames    bool      `json:"has_frames"`
}

// CaptureService is the main service implementation
type CaptureService struct {
	cfg        *config.Config
	configFile string
	metrics    *observe.Metrics
	newDevice  func(*config.Config) (audio.Device, error)

	sessionMutex sync.RWMutex
	session      *audio.Session

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// Option configures a CaptureService.
type Option func(*CaptureService)

// WithMetrics sets the instruments sessions record to.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *CaptureService) { s.metrics = m }
}

// WithDeviceFactory replaces the backend registry.
func WithDeviceFactory(f func(*config.Config) (audio.Device, error)) Option {
	return func(s *CaptureService) { s.newDevice = f }
}

var _ Service = (*CaptureService)(nil)

// New creates a new service instance
func New(cfg *config.Config, configFile string, opts ...Option) *CaptureService {
	s := &CaptureService{
		cfg:        cfg,
		configFile: configFile,
		newDevice:  source.NewDevice,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Record captures one recording named name until ctx is cancelled, the
// configured duration elapses or a file source runs out. The WAV payload is
// written to the output directory, and when frames are saved every frame
// notification is appended to a raw PCM16 file next to it.
func (s *CaptureService) Record(ctx context.Context, name string) (*RecordResult, error) {
	s.clearLastError()
	res, err := s.record(ctx, name)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to record: %v", err))
	}
	return res, err
}

func (s *CaptureService) record(ctx context.Context, name string) (*RecordResult, error) {
	info, err := s.GetRecordingInfo(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.cfg.Output.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	opts := s.cfg.Session
	saveFrames := s.cfg.Output.SavesFrames()
	if saveFrames && opts.FrameSize == nil {
		frameSize := audio.DefaultFrameSize
		opts.FrameSize = &frameSize
	}

	recordCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dev, err := s.newDevice(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create input device: %w", err)
	}
	if fd, ok := dev.(*source.FileDevice); ok {
		fd.OnEnd = cancel
	}

	g, gctx := errgroup.WithContext(recordCtx)

	var frames chan []byte
	stopped := make(chan *audio.Recording, 1)
	handlers := audio.Handlers{
		OnStop: func(rec *audio.Recording) {
			select {
			case stopped <- rec:
			default:
			}
		},
	}

	result := &RecordResult{RecordingInfo: *info}
	if saveFrames {
		frames = make(chan []byte, 256)
		// writeFrames drains the channel until it is closed, even after a
		// write error, so the send cannot block forever.
		handlers.OnFrame = func(f audio.Frame) {
			frames <- f.Buffer
		}
		g.Go(func() error {
			n, err := writeFrames(info.FramesPath, frames)
			result.Frames = n
			return err
		})
	}

	session := audio.NewSession(dev, handlers, audio.WithMetrics(s.metrics))
	s.setSession(session)

	g.Go(func() error {
		if frames != nil {
			defer close(frames)
		}
		rec, err := runSession(gctx, session, opts, stopped)
		if err != nil {
			return err
		}
		result.Recording = rec

		if err := os.WriteFile(info.WAVPath, rec.Payload, 0644); err != nil {
			return fmt.Errorf("failed to write recording: %w", err)
		}
		slog.Info("Recording saved", "path", info.WAVPath, "bytes", rec.ByteLength, "duration_ms", rec.DurationMs)
		return nil
	})

	if err := g.Wait(); err != nil {
		return result, err
	}
	result.Exists = true
	return result, nil
}

// runSession starts session and waits for it to stop on its own or for ctx
// to end. The session is closed before returning, so every frame has been
// delivered by then.
func runSession(ctx context.Context, session *audio.Session, opts audio.StartOptions, stopped <-chan *audio.Recording) (*audio.Recording, error) {
	if err := session.Start(ctx, opts); err != nil {
		_ = session.Close()
		return nil, err
	}

	var rec *audio.Recording
	select {
	case rec = <-stopped:
	case <-ctx.Done():
		r, err := session.Stop()
		if err != nil {
			_ = session.Close()
			return nil, err
		}
		if r == nil {
			// Stopped on its own while we were cancelled
			if r, err = awaitRecording(stopped, stopWaitTimeout); err != nil {
				_ = session.Close()
				return nil, err
			}
		}
		rec = r
	}

	if err := session.Close(); err != nil {
		return nil, err
	}
	return rec, nil
}

// stopWaitTimeout bounds the wait for a recording from a stop that is
// already in progress.
var stopWaitTimeout = 5 * time.Second

// errNoRecording is returned when a session stopped without handing over a
// recording, which happens when encoding on an automatic stop fails.
var errNoRecording = errors.New("session stopped without a recording")

func awaitRecording(stopped <-chan *audio.Recording, timeout time.Duration) (*audio.Recording, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case rec := <-stopped:
		return rec, nil
	case <-timer.C:
		return nil, errNoRecording
	}
}

func writeFrames(path string, frames <-chan []byte) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		// Keep draining so the session never blocks on us
		for range frames {
		}
		return 0, fmt.Errorf("failed to create frames file: %w", err)
	}
	defer f.Close()

	n := 0
	var writeErr error
	for buf := range frames {
		if writeErr != nil {
			continue
		}
		if _, err := f.Write(buf); err != nil {
			writeErr = fmt.Errorf("failed to write frames: %w", err)
			continue
		}
		n++
	}
	if writeErr != nil {
		return n, writeErr
	}
	return n, f.Close()
}

// GetRecordingStatus returns the state of the current or last session
func (s *CaptureService) GetRecordingStatus() (audio.Status, *audio.SessionInfo) {
	s.sessionMutex.RLock()
	defer s.sessionMutex.RUnlock()
	if s.session == nil {
		return audio.StatusIdle, nil
	}
	return s.session.Info()
}

func (s *CaptureService) setSession(session *audio.Session) {
	s.sessionMutex.Lock()
	defer s.sessionMutex.Unlock()
	s.session = session
}

// LoadProfile loads a new configuration profile
func (s *CaptureService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}
	s.cfg = newCfg
	return nil
}

// GetConfig returns the current configuration
func (s *CaptureService) GetConfig() *config.Config {
	return s.cfg
}

// GetRecordingInfo returns file path information for a recording
func (s *CaptureService) GetRecordingInfo(name string) (*RecordingInfo, error) {
	cleanName := cleanFileName(name)
	if cleanName == "" {
		return nil, fmt.Errorf("recording name is required")
	}

	info := &RecordingInfo{
		CleanName:  cleanName,
		WAVPath:    filepath.Join(s.cfg.Output.Directory, cleanName+".wav"),
		FramesPath: filepath.Join(s.cfg.Output.Directory, cleanName+".frames.pcm"),
	}
	if _, err := os.Stat(info.WAVPath); err == nil {
		info.Exists = true
	}
	return info, nil
}

// ListRecordings returns every WAV recording in the output directory, newest first
func (s *CaptureService) ListRecordings() ([]RecordingFileInfo, error) {
	dir := s.cfg.Output.Directory

	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var recordings []RecordingFileInfo
	for _, file := range files {
		if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), ".wav") {
			continue
		}

		path := filepath.Join(dir, file.Name())
		info, err := file.Info()
		if err != nil {
			slog.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}

		hdr, err := readHeader(path)
		if err != nil {
			slog.Warn("Skipping unreadable recording", "file", file.Name(), "error", err)
			continue
		}

		base := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		_, framesErr := os.Stat(filepath.Join(dir, base+".frames.pcm"))

		recordings = append(recordings, RecordingFileInfo{
			Name:         file.Name(),
			Path:         path,
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			SampleRate:   int(hdr.SampleRate),
			Channels:     int(hdr.NumChannels),
			BitDepth:     int(hdr.BitsPerSample),
			Duration:     hdr.Duration(),
			HasFrames:    framesErr == nil,
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

func readHeader(path string) (pcm.WAVHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return pcm.WAVHeader{}, err
	}
	defer f.Close()

	buf := make([]byte, pcm.HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return pcm.WAVHeader{}, fmt.Errorf("failed to read header: %w", err)
	}
	return pcm.ParseHeader(buf)
}

// GetLastError returns the last error message (thread-safe)
func (s *CaptureService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

func (s *CaptureService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

func (s *CaptureService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

func cleanFileName(name string) string {
	// Remove special characters and replace spaces with underscores
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
