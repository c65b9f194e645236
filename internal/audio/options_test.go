package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Defaults(t *testing.T) {
	cfg, err := StartOptions{}.Resolve()
	require.NoError(t, err)

	assert.Equal(t, SessionConfig{
		Duration:         60000,
		SampleRate:       8000,
		NumberOfChannels: 2,
		FrameSize:        4096,
		Format:           "wav",
		SampleFormat:     SampleFormatPCM16,
		AudioSource:      "auto",
	}, cfg)
	assert.Empty(t, cfg.DeviceID())
}

func TestResolve_FrameSizeEnablesFrames(t *testing.T) {
	cfg, err := StartOptions{FrameSize: intPtr(4096)}.Resolve()
	require.NoError(t, err)
	assert.True(t, cfg.FrameNotify)

	cfg, err = StartOptions{}.Resolve()
	require.NoError(t, err)
	assert.False(t, cfg.FrameNotify)
}

func TestResolve_Overrides(t *testing.T) {
	cfg, err := StartOptions{
		Duration:         intPtr(MaxDuration),
		SampleRate:       intPtr(44100),
		NumberOfChannels: intPtr(1),
		FrameSize:        intPtr(16384),
		SampleFormat:     strPtr(SampleFormatFloat32),
		AudioSource:      strPtr("hw:1"),
	}.Resolve()
	require.NoError(t, err)

	assert.Equal(t, MaxDuration, cfg.Duration)
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 1, cfg.NumberOfChannels)
	assert.Equal(t, 16384, cfg.FrameSize)
	assert.Equal(t, SampleFormatFloat32, cfg.SampleFormat)
	assert.Equal(t, "hw:1", cfg.DeviceID())
}

func TestResolve_EmptyAudioSourceMeansAuto(t *testing.T) {
	cfg, err := StartOptions{AudioSource: strPtr("")}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, DefaultAudioSource, cfg.AudioSource)
}

func TestResolve_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts StartOptions
	}{
		{"zero channels", StartOptions{NumberOfChannels: intPtr(0)}},
		{"three channels", StartOptions{NumberOfChannels: intPtr(3)}},
		{"zero sample rate", StartOptions{SampleRate: intPtr(0)}},
		{"negative sample rate", StartOptions{SampleRate: intPtr(-8000)}},
		{"frame size not a power of two", StartOptions{FrameSize: intPtr(300)}},
		{"frame size too small", StartOptions{FrameSize: intPtr(128)}},
		{"frame size too large", StartOptions{FrameSize: intPtr(32768)}},
		{"zero duration", StartOptions{Duration: intPtr(0)}},
		{"duration over limit", StartOptions{Duration: intPtr(MaxDuration + 1)}},
		{"unsupported format", StartOptions{Format: strPtr("ogg")}},
		{"unsupported sample format", StartOptions{SampleFormat: strPtr("pcm24")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.opts.Resolve()
			assert.ErrorIs(t, err, ErrConfigurationMismatch)
		})
	}
}
