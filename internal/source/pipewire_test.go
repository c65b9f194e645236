package source

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
)

func TestParsePorts(t *testing.T) {
	output := `Output ports:
system:capture_1
Chrome:output_FL

Input ports:
pcmcapture:input_MONO
`
	assert.Equal(t, []string{"system:capture_1", "Chrome:output_FL", "pcmcapture:input_MONO"}, parsePorts(output))
}

func TestValidatePort_Success(t *testing.T) {
	err := validatePortInList("system:capture_1", []string{"Chrome:output_FL", "system:capture_1"})
	assert.NoError(t, err)
}

func TestValidatePort_NotFound(t *testing.T) {
	err := validatePortInList("nonexistent:port", []string{"Chrome:output_FL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port not found")
}

func TestValidatePort_DuplicateDetection(t *testing.T) {
	ports := []string{
		"Chrome:output_FL",
		"Chrome:output_FL",   // same name twice
		"Chrome-2:output_FL", // different instance
	}

	err := validatePortInList("Chrome:output_FL", ports)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate sources detected")
	assert.NoError(t, validatePortInList("Chrome-2:output_FL", ports))
}

func TestValidatePort_Empty(t *testing.T) {
	assert.NoError(t, validatePortInList("", nil))
}

func TestIsEphemeralPort(t *testing.T) {
	assert.True(t, isEphemeralPort("Firefox:output_FL"))
	assert.True(t, isEphemeralPort("spotify:output_FR"))
	assert.False(t, isEphemeralPort("system:capture_1"))
}

func TestRecordArgs(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		target   []string
	}{
		{"default device", "", nil},
		{"node name", "alsa_input.usb-Focusrite", []string{"--target", "alsa_input.usb-Focusrite"}},
		{"port is linked later", "system:capture_1", []string{"--target", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := recordArgs(audio.DeviceRequest{DeviceID: tt.deviceID, SampleRate: 16000, Channels: 1, FrameSize: 1024})

			want := []string{
				"pw-record", "--raw", "--format", "f32",
				"--rate", "16000", "--channels", "1", "--latency", "1024",
				"--properties", "{ node.name = pcmcapture }",
			}
			want = append(want, tt.target...)
			want = append(want, "-")
			assert.Equal(t, want, args)
		})
	}
}

func TestStreamPorts(t *testing.T) {
	assert.Equal(t, []string{"pcmcapture:input_MONO"}, streamPorts(1))
	assert.Equal(t, []string{"pcmcapture:input_FL", "pcmcapture:input_FR"}, streamPorts(2))
}

func floatStream(samples ...float32) *bytes.Reader {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return bytes.NewReader(buf)
}

func TestReadTicks_Deinterleaves(t *testing.T) {
	c := newCollector(-1)
	// Five stereo frames in blocks of two: the last block is short.
	r := floatStream(0.1, -0.1, 0.2, -0.2, 0.3, -0.3, 0.4, -0.4, 0.5, -0.5)

	require.NoError(t, readTicks(r, 2, 2, 48000, c.tick))

	blocks := c.snapshot()
	require.Len(t, blocks, 3)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {-0.1, -0.2}}, blocks[0].Channels)
	assert.Equal(t, [][]float32{{0.3, 0.4}, {-0.3, -0.4}}, blocks[1].Channels)
	assert.Equal(t, [][]float32{{0.5}, {-0.5}}, blocks[2].Channels)
	assert.Equal(t, 48000, blocks[0].SampleRate)
}

func TestReadTicks_DropsPartialFrame(t *testing.T) {
	c := newCollector(-1)
	data := floatStream(0.25, 0.5)
	// Two mono samples plus a torn third one.
	r := bytes.NewReader(append(mustRead(t, data), 0x01, 0x02))

	require.NoError(t, readTicks(r, 1, 4, 8000, c.tick))

	blocks := c.snapshot()
	require.Len(t, blocks, 1)
	assert.Equal(t, []float32{0.25, 0.5}, blocks[0].Channels[0])
}

func mustRead(t *testing.T, r *bytes.Reader) []byte {
	t.Helper()
	buf := make([]byte, r.Len())
	_, err := r.Read(buf)
	require.NoError(t, err)
	return buf
}
