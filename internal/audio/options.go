package audio

import (
	"fmt"
	"slices"
)

// Defaults applied to every option the caller leaves unset.
const (
	DefaultDuration         = 60000
	DefaultSampleRate       = 8000
	DefaultNumberOfChannels = 2
	DefaultFrameSize        = 4096
	DefaultFormat           = "wav"
	DefaultSampleFormat     = SampleFormatPCM16
	DefaultAudioSource      = "auto"

	// MaxDuration is the longest recording a session accepts, in ms.
	MaxDuration = 600000
)

// Sample formats of the final WAV payload.
const (
	SampleFormatPCM16   = "pcm16"
	SampleFormatFloat32 = "float32"
)

// FrameSizes lists the accepted tick sizes in samples per channel.
var FrameSizes = []int{256, 512, 1024, 2048, 4096, 8192, 16384}

// StartOptions is what a caller passes to Start. Every field is optional;
// nil fields take the package defaults.
type StartOptions struct {
	Duration         *int    `mapstructure:"duration,omitempty" yaml:"duration,omitempty"`
	SampleRate       *int    `mapstructure:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	NumberOfChannels *int    `mapstructure:"number_of_channels,omitempty" yaml:"number_of_channels,omitempty"`
	FrameSize        *int    `mapstructure:"frame_size,omitempty" yaml:"frame_size,omitempty"`
	Format           *string `mapstructure:"format,omitempty" yaml:"format,omitempty"`
	SampleFormat     *string `mapstructure:"sample_format,omitempty" yaml:"sample_format,omitempty"`
	AudioSource      *string `mapstructure:"audio_source,omitempty" yaml:"audio_source,omitempty"`
}

// SessionConfig is the resolved, immutable configuration of one recording.
type SessionConfig struct {
	Duration         int
	SampleRate       int
	NumberOfChannels int
	FrameSize        int
	Format           string
	SampleFormat     string
	AudioSource      string

	// FrameNotify is set when the caller asked for a frame size, which is
	// what enables frame notifications.
	FrameNotify bool
}

// Resolve merges o over the defaults and validates the result.
func (o StartOptions) Resolve() (SessionConfig, error) {
	cfg := SessionConfig{
		Duration:         DefaultDuration,
		SampleRate:       DefaultSampleRate,
		NumberOfChannels: DefaultNumberOfChannels,
		FrameSize:        DefaultFrameSize,
		Format:           DefaultFormat,
		SampleFormat:     DefaultSampleFormat,
		AudioSource:      DefaultAudioSource,
	}

	if o.Duration != nil {
		cfg.Duration = *o.Duration
	}
	if o.SampleRate != nil {
		cfg.SampleRate = *o.SampleRate
	}
	if o.NumberOfChannels != nil {
		cfg.NumberOfChannels = *o.NumberOfChannels
	}
	if o.FrameSize != nil {
		cfg.FrameSize = *o.FrameSize
		cfg.FrameNotify = true
	}
	if o.Format != nil {
		cfg.Format = *o.Format
	}
	if o.SampleFormat != nil {
		cfg.SampleFormat = *o.SampleFormat
	}
	if o.AudioSource != nil && *o.AudioSource != "" {
		cfg.AudioSource = *o.AudioSource
	}

	if err := cfg.Validate(); err != nil {
		return SessionConfig{}, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c SessionConfig) Validate() error {
	if c.NumberOfChannels != 1 && c.NumberOfChannels != 2 {
		return fmt.Errorf("%w: number_of_channels must be 1 or 2, got %d", ErrConfigurationMismatch, c.NumberOfChannels)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be > 0, got %d", ErrConfigurationMismatch, c.SampleRate)
	}
	if !slices.Contains(FrameSizes, c.FrameSize) {
		return fmt.Errorf("%w: frame_size must be one of %v, got %d", ErrConfigurationMismatch, FrameSizes, c.FrameSize)
	}
	if c.Duration <= 0 || c.Duration > MaxDuration {
		return fmt.Errorf("%w: duration must be in (0, %d] ms, got %d", ErrConfigurationMismatch, MaxDuration, c.Duration)
	}
	if c.Format != DefaultFormat {
		return fmt.Errorf("%w: format must be %q, got %q", ErrConfigurationMismatch, DefaultFormat, c.Format)
	}
	if c.SampleFormat != SampleFormatPCM16 && c.SampleFormat != SampleFormatFloat32 {
		return fmt.Errorf("%w: sample_format must be %q or %q, got %q",
			ErrConfigurationMismatch, SampleFormatPCM16, SampleFormatFloat32, c.SampleFormat)
	}
	return nil
}

// DeviceID returns the device selector passed to the input device; the empty
// string selects the default device.
func (c SessionConfig) DeviceID() string {
	if c.AudioSource == DefaultAudioSource {
		return ""
	}
	return c.AudioSource
}
