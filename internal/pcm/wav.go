package pcm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV audio format tags.
const (
	FormatPCM       uint16 = 1
	FormatIEEEFloat uint16 = 3
)

// HeaderSize is the length of the canonical RIFF/WAVE header.
const HeaderSize = 44

// MIMEType is the media type of an encoded recording.
const MIMEType = "audio/wav"

// ErrInvalidWAV is returned by ParseHeader for data that is not a canonical WAV file.
var ErrInvalidWAV = errors.New("invalid WAV data")

// WAVHeader is the on-disk layout of the 44-byte header.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + Subchunk2Size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// WAVFormat describes the payload EncodeWAV produces.
type WAVFormat struct {
	AudioFormat uint16
	SampleRate  int
	Channels    int
	BitDepth    int
}

// PCM16 returns the 16-bit integer format for the given rate and channel count.
func PCM16(sampleRate, channels int) WAVFormat {
	return WAVFormat{AudioFormat: FormatPCM, SampleRate: sampleRate, Channels: channels, BitDepth: 16}
}

// Float32 returns the 32-bit IEEE float format for the given rate and channel count.
func Float32(sampleRate, channels int) WAVFormat {
	return WAVFormat{AudioFormat: FormatIEEEFloat, SampleRate: sampleRate, Channels: channels, BitDepth: 32}
}

func (f WAVFormat) validate() error {
	switch {
	case f.AudioFormat == FormatPCM && f.BitDepth != 16:
		return fmt.Errorf("PCM format requires 16-bit samples, got %d", f.BitDepth)
	case f.AudioFormat == FormatIEEEFloat && f.BitDepth != 32:
		return fmt.Errorf("IEEE float format requires 32-bit samples, got %d", f.BitDepth)
	case f.AudioFormat != FormatPCM && f.AudioFormat != FormatIEEEFloat:
		return fmt.Errorf("unsupported audio format: %d", f.AudioFormat)
	case f.Channels <= 0:
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	case f.SampleRate < 0:
		return fmt.Errorf("sample rate must not be negative, got %d", f.SampleRate)
	}
	return nil
}

// NewHeader derives every header field from the format and the data size in bytes.
func NewHeader(f WAVFormat, dataSize int) WAVHeader {
	bytesPerSample := f.BitDepth / 8
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   f.AudioFormat,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate * f.Channels * bytesPerSample),
		BlockAlign:    uint16(f.Channels * bytesPerSample),
		BitsPerSample: uint16(f.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// EncodeWAV quantizes interleaved float samples according to f and wraps them
// in a WAV container. The output is exactly HeaderSize plus the data size;
// no pad byte is appended.
func EncodeWAV(samples []float32, f WAVFormat) ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	var data []byte
	if f.AudioFormat == FormatIEEEFloat {
		data = Float32Bytes(Float32Samples(samples))
	} else {
		data = Int16Bytes(Quantize16(samples))
	}
	return wrap(data, f)
}

// EncodePCM16 wraps already quantized samples in a 16-bit PCM WAV container.
func EncodePCM16(samples []int16, sampleRate, channels int) ([]byte, error) {
	f := PCM16(sampleRate, channels)
	if err := f.validate(); err != nil {
		return nil, err
	}
	return wrap(Int16Bytes(samples), f)
}

func wrap(data []byte, f WAVFormat) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(data)))

	if err := binary.Write(buf, binary.LittleEndian, NewHeader(f, len(data))); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(data)

	return buf.Bytes(), nil
}

// ParseHeader reads and validates the canonical header at the start of data.
func ParseHeader(data []byte) (WAVHeader, error) {
	var h WAVHeader
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: need at least %d bytes, got %d", ErrInvalidWAV, HeaderSize, len(data))
	}

	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("failed to read WAV header: %w", err)
	}

	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return h, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	case string(h.Format[:]) != "WAVE":
		return h, fmt.Errorf("%w: missing WAVE format", ErrInvalidWAV)
	case string(h.Subchunk1ID[:]) != "fmt ":
		return h, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	case string(h.Subchunk2ID[:]) != "data":
		return h, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}

	return h, nil
}

// Duration returns the playback length in seconds described by the header.
func (h WAVHeader) Duration() float64 {
	if h.ByteRate == 0 {
		return 0
	}
	return float64(h.Subchunk2Size) / float64(h.ByteRate)
}
