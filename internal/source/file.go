package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
	"github.com/audiolibrelab/pcmcapture/internal/pcm"
)

// ErrUnsupportedFile is returned by FileDevice.Open for WAV data it cannot replay.
var ErrUnsupportedFile = errors.New("unsupported WAV file")

// FileDevice replays a PCM WAV file as if it were live input. Ticks carry the
// file's own sample rate. Mono files are duplicated to stereo and stereo
// files are averaged down to mono when the request asks for it.
type FileDevice struct {
	Path     string
	Realtime bool

	// OnEnd is called from the stream goroutine after the last tick.
	OnEnd func()
}

func (d *FileDevice) Open(ctx context.Context, req audio.DeviceRequest, fn audio.TickFunc) (audio.Stream, error) {
	if req.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", req.FrameSize)
	}

	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrUnsupportedFile, d.Path)
	}
	if decoder.WavAudioFormat != pcm.FormatPCM || decoder.BitDepth == 0 || decoder.BitDepth > 32 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: audio format %d at %d bits, only integer PCM can be replayed",
			ErrUnsupportedFile, decoder.WavAudioFormat, decoder.BitDepth)
	}

	format := decoder.Format()
	fileChannels := format.NumChannels
	if fileChannels < 1 || fileChannels > 2 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFile, fileChannels)
	}
	if req.Channels < 1 || req.Channels > 2 {
		_ = f.Close()
		return nil, fmt.Errorf("file device supports 1 or 2 channels, got %d", req.Channels)
	}

	scale := 1 / float32(int64(1)<<(decoder.BitDepth-1))
	// 8-bit WAV samples are unsigned with silence at 128.
	offset := 0
	if decoder.BitDepth == 8 {
		offset = 128
	}
	rate := format.SampleRate

	slog.Debug("Opening file device", "path", d.Path, "rate", rate, "channels", fileChannels, "bit_depth", decoder.BitDepth)

	return startStream(ctx, func(ctx context.Context) error {
		defer f.Close()
		p := newPacer(d.Realtime, req.FrameSize, rate)
		defer p.stop()

		buf := &goaudio.IntBuffer{
			Data:           make([]int, req.FrameSize*fileChannels),
			Format:         format,
			SourceBitDepth: int(decoder.BitDepth),
		}
		channels := make([][]float32, req.Channels)
		for i := range channels {
			channels[i] = make([]float32, req.FrameSize)
		}

		for {
			if err := p.wait(ctx); err != nil {
				return err
			}

			buf.Data = buf.Data[:cap(buf.Data)]
			n, err := decoder.PCMBuffer(buf)
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed to read audio data: %w", err)
			}
			frames := n / fileChannels
			if frames == 0 {
				if d.OnEnd != nil {
					d.OnEnd()
				}
				return nil
			}

			for i := range channels {
				channels[i] = channels[i][:frames]
			}
			deinterleave(buf.Data[:frames*fileChannels], fileChannels, channels, offset, scale)
			fn(audio.Block{Channels: channels, SampleRate: rate})

			for i := range channels {
				channels[i] = channels[i][:cap(channels[i])]
			}
		}
	}), nil
}

// deinterleave removes offset from interleaved integer samples and scales
// them into out, mapping the file's channel count onto len(out) channels.
func deinterleave(data []int, fileChannels int, out [][]float32, offset int, scale float32) {
	sample := func(i int) float32 { return float32(data[i]-offset) * scale }
	frames := len(data) / fileChannels
	for i := range frames {
		switch {
		case fileChannels == len(out):
			for ch := range out {
				out[ch][i] = sample(i*fileChannels + ch)
			}
		case fileChannels == 1:
			v := sample(i)
			for ch := range out {
				out[ch][i] = v
			}
		default:
			out[0][i] = (sample(i*2) + sample(i*2+1)) / 2
		}
	}
}
