package audio

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/audiolibrelab/pcmcapture/internal/observe"
	"github.com/audiolibrelab/pcmcapture/internal/pcm"
)

// StartMessage is the message of a successful StartResult.
const StartMessage = "record is start!"

// DefaultQueueSize is the resample worker queue length.
const DefaultQueueSize = 64

// Option configures a Session.
type Option func(*Session)

// WithMetrics sets the metric instruments the session records to.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithQueueSize sets how many frames may wait for the resample worker before
// new ones are dropped.
func WithQueueSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Session records audio from a Device into an in-memory WAV payload and,
// when a frame size was requested, streams resampled PCM16 frames while
// recording. A Session can record any number of times until it is closed.
type Session struct {
	device    Device
	handlers  Handlers
	metrics   *observe.Metrics
	queueSize int
	worker    *resampleWorker

	mutex      sync.RWMutex
	status     Status
	closed     bool
	generation uint64
	config     SessionConfig
	stream     Stream
	startTime  time.Time

	acc           accumulator
	actualRate    int
	duration      float64
	ticks         int
	rejectedTicks int
	limitReached  bool
}

// NewSession creates an idle session recording from dev.
func NewSession(dev Device, h Handlers, opts ...Option) *Session {
	s := &Session{
		device:    dev,
		handlers:  h,
		queueSize: DefaultQueueSize,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.worker = newResampleWorker(s.queueSize, s.metrics, s.emitFrame)
	return s
}

// Start resolves opts, opens the device and begins recording. An invalid
// configuration is returned without touching the session state or calling
// OnStart. A device failure is reported to OnStart and returned as an
// *AcquisitionError.
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	cfg, err := opts.Resolve()
	if err != nil {
		return err
	}

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return ErrSessionClosed
	}
	if s.status == StatusArmed || s.status == StatusRecording {
		status := s.status
		s.mutex.Unlock()
		return fmt.Errorf("%w: current state %s", ErrAlreadyRecording, status)
	}
	previous := s.status
	s.generation++
	generation := s.generation
	s.config = cfg
	s.resetLocked()
	s.status = StatusArmed
	s.mutex.Unlock()

	req := DeviceRequest{
		DeviceID:   cfg.DeviceID(),
		SampleRate: cfg.SampleRate,
		Channels:   cfg.NumberOfChannels,
		FrameSize:  cfg.FrameSize,
	}
	stream, err := s.device.Open(ctx, req, func(b Block) { s.onTick(generation, b) })
	if err != nil {
		s.mutex.Lock()
		if s.generation == generation {
			s.status = previous
		}
		s.mutex.Unlock()

		acqErr := &AcquisitionError{DeviceID: cfg.AudioSource, Err: err}
		slog.Error("Failed to start recording", "source", cfg.AudioSource, "error", err)
		s.notifyStart(StartResult{Err: acqErr})
		return acqErr
	}

	s.mutex.Lock()
	s.stream = stream
	s.status = StatusRecording
	s.startTime = time.Now()
	autoStop := s.limitReached
	s.mutex.Unlock()

	s.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("Recording started",
		"source", cfg.AudioSource,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.NumberOfChannels,
		"duration_ms", cfg.Duration,
		"frames", cfg.FrameNotify)
	s.notifyStart(StartResult{Message: StartMessage})

	if autoStop {
		go s.autoStop(generation)
	}
	return nil
}

// Stop ends the active recording, encodes it and reports it to OnStop.
// Without an active recording Stop does nothing and returns a nil Recording.
func (s *Session) Stop() (*Recording, error) {
	return s.stop(0)
}

// stop ends the recording of the given generation, or of any generation
// when generation is zero.
func (s *Session) stop(generation uint64) (*Recording, error) {
	s.mutex.Lock()
	if s.status != StatusRecording || (generation != 0 && generation != s.generation) {
		s.mutex.Unlock()
		return nil, nil
	}
	s.status = StatusStopped
	stream := s.stream
	s.stream = nil
	t := take{
		config:        s.config,
		acc:           s.acc,
		sampleRate:    s.actualRate,
		duration:      s.duration,
		rejectedTicks: s.rejectedTicks,
	}
	s.acc = accumulator{}
	s.mutex.Unlock()

	ctx := context.Background()
	if err := stream.Close(); err != nil {
		slog.Warn("Failed to close input stream", "error", err)
	}
	s.metrics.ActiveSessions.Add(ctx, -1)

	rec, err := t.encode()
	if err != nil {
		s.metrics.RecordRecording(ctx, "error")
		slog.Error("Failed to encode recording", "error", err)
		return nil, err
	}

	s.metrics.RecordRecording(ctx, "ok")
	s.metrics.RecordedSeconds.Add(ctx, t.duration)
	slog.Info("Recording stopped",
		"duration_ms", rec.DurationMs,
		"bytes", rec.ByteLength,
		"sample_rate", rec.SampleRate,
		"rejected_ticks", rec.RejectedTicks)

	if s.handlers.OnStop != nil {
		s.handlers.OnStop(rec)
	}
	return rec, nil
}

// Pause is not supported.
func (s *Session) Pause() error {
	return ErrNotImplemented
}

// Resume is not supported.
func (s *Session) Resume() error {
	return ErrNotImplemented
}

// OnError is not supported. Failures are returned from Start and Stop.
func (s *Session) OnError(func(error)) error {
	return ErrNotImplemented
}

// OnInterruptionBegin is not supported.
func (s *Session) OnInterruptionBegin(func()) error {
	return ErrNotImplemented
}

// OnInterruptionEnd is not supported.
func (s *Session) OnInterruptionEnd(func()) error {
	return ErrNotImplemented
}

// Status returns the current session state.
func (s *Session) Status() Status {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.status
}

// Info returns the current state and, while a recording is armed or
// running, a snapshot of its progress.
func (s *Session) Info() (Status, *SessionInfo) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.status != StatusArmed && s.status != StatusRecording {
		return s.status, nil
	}
	return s.status, &SessionInfo{
		StartTime:        s.startTime,
		Config:           s.config,
		ActualSampleRate: s.actualRate,
		DurationMs:       s.duration * 1000,
		Ticks:            s.ticks,
		RejectedTicks:    s.rejectedTicks,
	}
}

// Close stops any active recording, waits for queued frames to be delivered
// and releases the worker. Start fails with ErrSessionClosed afterwards.
func (s *Session) Close() error {
	_, err := s.Stop()

	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return err
	}
	s.closed = true
	s.mutex.Unlock()

	s.worker.close()
	return err
}

func (s *Session) resetLocked() {
	s.acc = accumulator{}
	s.actualRate = 0
	s.duration = 0
	s.ticks = 0
	s.rejectedTicks = 0
	s.limitReached = false
	s.startTime = time.Time{}
}

func (s *Session) onTick(generation uint64, b Block) {
	ctx := context.Background()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed || generation != s.generation || s.limitReached {
		return
	}
	if s.status != StatusArmed && s.status != StatusRecording {
		return
	}

	if reason, err := s.checkBlockLocked(b); err != nil {
		s.rejectedTicks++
		s.metrics.RecordRejectedTick(ctx, reason)
		slog.Warn("Rejected audio tick", "reason", reason, "error", err)
		return
	}

	if s.actualRate == 0 {
		s.actualRate = b.SampleRate
		if b.SampleRate != s.config.SampleRate {
			slog.Debug("Device rate differs from requested rate",
				"requested", s.config.SampleRate, "actual", b.SampleRate)
		}
	}
	s.acc.append(b)
	s.ticks++
	s.duration += float64(b.Frames()) / float64(b.SampleRate)
	s.metrics.Ticks.Add(ctx, 1)

	if s.config.FrameNotify {
		s.submitFrameLocked(ctx, b)
	}

	if s.duration*1000 >= float64(s.config.Duration) {
		s.limitReached = true
		slog.Info("Maximum duration reached", "duration_ms", s.duration*1000)
		if s.status == StatusRecording {
			go s.autoStop(generation)
		}
	}
}

// checkBlockLocked returns a metric reason and an error for a block that
// does not fit the session.
func (s *Session) checkBlockLocked(b Block) (string, error) {
	if len(b.Channels) != s.config.NumberOfChannels {
		return "channel_count", fmt.Errorf("%w: expected %d channels, got %d",
			ErrConfigurationMismatch, s.config.NumberOfChannels, len(b.Channels))
	}
	if b.SampleRate <= 0 {
		return "sample_rate", fmt.Errorf("%w: invalid sample rate %d", ErrConfigurationMismatch, b.SampleRate)
	}
	if s.actualRate != 0 && b.SampleRate != s.actualRate {
		return "sample_rate", fmt.Errorf("%w: sample rate changed from %d to %d",
			ErrConfigurationMismatch, s.actualRate, b.SampleRate)
	}
	if len(b.Channels) == 2 && len(b.Channels[0]) != len(b.Channels[1]) {
		return "channel_length", fmt.Errorf("%w: channel lengths %d and %d differ",
			ErrConfigurationMismatch, len(b.Channels[0]), len(b.Channels[1]))
	}
	return "", nil
}

func (s *Session) submitFrameLocked(ctx context.Context, b Block) {
	var samples []float32
	if len(b.Channels) == 2 {
		// Lengths were checked, Interleave cannot fail here.
		samples, _ = pcm.Interleave(b.Channels[0], b.Channels[1])
	} else {
		samples = slices.Clone(b.Channels[0])
	}

	req := resampleRequest{
		samples:    samples,
		targetRate: s.config.SampleRate,
		sourceRate: b.SampleRate,
	}
	if !s.worker.submit(req) {
		s.metrics.FramesDropped.Add(ctx, 1)
		slog.Debug("Resample queue full, dropping frame", "samples", len(samples))
	}
}

func (s *Session) emitFrame(buf []byte) {
	s.metrics.FramesEmitted.Add(context.Background(), 1)
	if s.handlers.OnFrame != nil {
		s.handlers.OnFrame(Frame{Buffer: buf})
	}
}

func (s *Session) autoStop(generation uint64) {
	if _, err := s.stop(generation); err != nil {
		slog.Error("Automatic stop failed", "error", err)
	}
}

func (s *Session) notifyStart(res StartResult) {
	if s.handlers.OnStart != nil {
		s.handlers.OnStart(res)
	}
}
