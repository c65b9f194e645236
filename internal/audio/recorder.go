package audio

import (
	"time"

	"github.com/audiolibrelab/pcmcapture/internal/pcm"
)

// Status represents the current state of a capture session
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusArmed     Status = "ARMED"
	StatusRecording Status = "RECORDING"
	StatusStopped   Status = "STOPPED"
)

// MIMEType is the media type of Recording.Payload.
const MIMEType = pcm.MIMEType

// SessionInfo describes the recording in progress
type SessionInfo struct {
	StartTime        time.Time     `json:"start_time"`
	Config           SessionConfig `json:"config"`
	ActualSampleRate int           `json:"actual_sample_rate"`
	DurationMs       float64       `json:"duration_ms"`
	Ticks            int           `json:"ticks"`
	RejectedTicks    int           `json:"rejected_ticks"`
}

// StartResult is passed to Handlers.OnStart once per Start call.
type StartResult struct {
	Message string
	Err     error
}

// Frame is one resampled, 16-bit quantized tick. IsLastFrame is never set.
type Frame struct {
	Buffer      []byte
	IsLastFrame bool
}

// Recording is the encoded result of a stopped session.
type Recording struct {
	DurationMs    float64
	ByteLength    int
	Payload       []byte
	SampleRate    int
	Channels      int
	BitDepth      int
	RejectedTicks int
}

// Handlers are the notification sinks of a session. Nil handlers are skipped.
// OnFrame runs on the resample worker goroutine; OnStart and OnStop run on
// the goroutine that triggered them.
type Handlers struct {
	OnStart func(StartResult)
	OnFrame func(Frame)
	OnStop  func(*Recording)
}
