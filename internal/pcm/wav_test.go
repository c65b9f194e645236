package pcm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAV_HeaderFields(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1, 0.25}

	data, err := EncodeWAV(samples, PCM16(16000, 2))
	require.NoError(t, err)

	dataSize := len(samples) * 2
	require.Len(t, data, HeaderSize+dataSize)

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(36+dataSize), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(data[16:20]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[20:22]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(data[22:24]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(16000*2*2), binary.LittleEndian.Uint32(data[28:32]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(data[32:34]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(dataSize), binary.LittleEndian.Uint32(data[40:44]))
}

func TestEncodeWAV_HeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format WAVFormat
		n      int
	}{
		{"pcm_mono_8k", PCM16(8000, 1), 4096},
		{"pcm_stereo_44k1", PCM16(44100, 2), 1000},
		{"float_stereo_48k", Float32(48000, 2), 512},
		{"odd_sample_count", PCM16(22050, 1), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeWAV(make([]float32, tt.n), tt.format)
			require.NoError(t, err)

			h, err := ParseHeader(data)
			require.NoError(t, err)

			assert.Equal(t, tt.format.AudioFormat, h.AudioFormat)
			assert.Equal(t, uint32(tt.format.SampleRate), h.SampleRate)
			assert.Equal(t, uint16(tt.format.Channels), h.NumChannels)
			assert.Equal(t, uint16(tt.format.BitDepth), h.BitsPerSample)
			assert.Equal(t, uint32(tt.n*tt.format.BitDepth/8), h.Subchunk2Size)
			assert.Len(t, data, HeaderSize+int(h.Subchunk2Size))
		})
	}
}

func TestEncodePCM16_DecodesWithGoAudio(t *testing.T) {
	samples := []int16{100, -200, 300, -400, 500, 32767, -32768, 0}

	data, err := EncodePCM16(samples, 8000, 1)
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, uint32(8000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
	require.Len(t, buf.Data, len(samples))
	for i, s := range samples {
		assert.Equal(t, int(s), buf.Data[i], "sample %d", i)
	}
}

func TestEncodeWAV_FloatPayload(t *testing.T) {
	data, err := EncodeWAV([]float32{0.5, 2}, Float32(8000, 1))
	require.NoError(t, err)

	require.Len(t, data, HeaderSize+8)
	assert.Equal(t, Float32Bytes([]float32{0.5, 1}), data[HeaderSize:])
}

func TestEncodeWAV_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		format WAVFormat
	}{
		{"pcm_32bit", WAVFormat{AudioFormat: FormatPCM, SampleRate: 8000, Channels: 1, BitDepth: 32}},
		{"float_16bit", WAVFormat{AudioFormat: FormatIEEEFloat, SampleRate: 8000, Channels: 1, BitDepth: 16}},
		{"unknown_tag", WAVFormat{AudioFormat: 2, SampleRate: 8000, Channels: 1, BitDepth: 16}},
		{"no_channels", WAVFormat{AudioFormat: FormatPCM, SampleRate: 8000, Channels: 0, BitDepth: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeWAV([]float32{0}, tt.format)
			assert.Error(t, err)
		})
	}
}

func TestParseHeader_Invalid(t *testing.T) {
	_, err := ParseHeader([]byte("RIFF"))
	assert.True(t, errors.Is(err, ErrInvalidWAV))

	data, err := EncodeWAV([]float32{0}, PCM16(8000, 1))
	require.NoError(t, err)
	copy(data[8:12], "AVI ")
	_, err = ParseHeader(data)
	assert.True(t, errors.Is(err, ErrInvalidWAV))
}

func TestWAVHeader_Duration(t *testing.T) {
	data, err := EncodeWAV(make([]float32, 16000), PCM16(8000, 2))
	require.NoError(t, err)

	h, err := ParseHeader(data)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, h.Duration(), 1e-9)
}
