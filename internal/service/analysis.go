package service

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
	"gonum.org/v1/gonum/floats"

	"github.com/audiolibrelab/pcmcapture/internal/pcm"
)

// FloorDBFS is reported for a silent channel.
const FloorDBFS = -144.0

// ChannelLevels holds the signal level of one channel.
type ChannelLevels struct {
	Peak     float64 `json:"peak"`
	RMS      float64 `json:"rms"`
	PeakDBFS float64 `json:"peak_dbfs"`
	RMSDBFS  float64 `json:"rms_dbfs"`
}

// Analysis describes a WAV file on disk.
type Analysis struct {
	Path        string          `json:"path"`
	AudioFormat string          `json:"audio_format"`
	SampleRate  int             `json:"sample_rate"`
	Channels    int             `json:"channels"`
	BitDepth    int             `json:"bit_depth"`
	DataBytes   int             `json:"data_bytes"`
	Frames      int             `json:"frames"`
	Duration    float64         `json:"duration_seconds"`
	Levels      []ChannelLevels `json:"levels"`
}

// Inspect reads the header of the WAV file at path and measures the peak
// and RMS level of every channel.
func (s *CaptureService) Inspect(path string) (*Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	hdr, err := pcm.ParseHeader(data)
	if err != nil {
		return nil, err
	}

	channels := int(hdr.NumChannels)
	if channels == 0 {
		return nil, fmt.Errorf("%w: zero channels", pcm.ErrInvalidWAV)
	}

	var samples []float64
	switch hdr.AudioFormat {
	case pcm.FormatPCM:
		samples, err = decodeIntSamples(data)
	case pcm.FormatIEEEFloat:
		samples, err = decodeFloatSamples(data[pcm.HeaderSize:], int(hdr.Subchunk2Size))
	default:
		err = fmt.Errorf("%w: unsupported audio format %d", pcm.ErrInvalidWAV, hdr.AudioFormat)
	}
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		Path:        path,
		AudioFormat: formatName(hdr.AudioFormat),
		SampleRate:  int(hdr.SampleRate),
		Channels:    channels,
		BitDepth:    int(hdr.BitsPerSample),
		DataBytes:   int(hdr.Subchunk2Size),
		Frames:      len(samples) / channels,
		Duration:    hdr.Duration(),
	}
	for _, ch := range splitChannels(samples, channels) {
		a.Levels = append(a.Levels, measure(ch))
	}
	return a, nil
}

func formatName(tag uint16) string {
	switch tag {
	case pcm.FormatPCM:
		return "pcm"
	case pcm.FormatIEEEFloat:
		return "float"
	}
	return fmt.Sprintf("unknown(%d)", tag)
}

func decodeIntSamples(data []byte) ([]float64, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode PCM data: %w", err)
	}
	if d.BitDepth == 0 {
		return nil, fmt.Errorf("%w: zero bit depth", pcm.ErrInvalidWAV)
	}

	scale := 1 / float64(int64(1)<<(d.BitDepth-1))
	// 8-bit samples are unsigned
	offset := 0
	if d.BitDepth == 8 {
		offset = 128
	}
	out := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float64(v-offset) * scale
	}
	return out, nil
}

func decodeFloatSamples(payload []byte, size int) ([]float64, error) {
	if size > len(payload) {
		return nil, fmt.Errorf("%w: data chunk truncated", pcm.ErrInvalidWAV)
	}
	n := size / 4
	out := make([]float64, n)
	for i := range n {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:])))
	}
	return out, nil
}

func splitChannels(interleaved []float64, channels int) [][]float64 {
	frames := len(interleaved) / channels
	out := make([][]float64, channels)
	for ch := range out {
		out[ch] = make([]float64, frames)
		for i := range frames {
			out[ch][i] = interleaved[i*channels+ch]
		}
	}
	return out
}

func measure(x []float64) ChannelLevels {
	if len(x) == 0 {
		return ChannelLevels{PeakDBFS: FloorDBFS, RMSDBFS: FloorDBFS}
	}
	peak := math.Max(math.Abs(floats.Max(x)), math.Abs(floats.Min(x)))
	rms := floats.Norm(x, 2) / math.Sqrt(float64(len(x)))
	return ChannelLevels{
		Peak:     peak,
		RMS:      rms,
		PeakDBFS: dbfs(peak),
		RMSDBFS:  dbfs(rms),
	}
}

func dbfs(v float64) float64 {
	if v <= 0 {
		return FloorDBFS
	}
	return math.Max(20*math.Log10(v), FloorDBFS)
}
