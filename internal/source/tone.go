package source

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/audiolibrelab/pcmcapture/internal/audio"
)

// DefaultToneFrequency is the pitch of a ToneDevice without a frequency.
const DefaultToneFrequency = 440.0

// ToneDevice synthesises a sine wave. It stands in for a microphone when no
// hardware is wanted, and can run at a rate other than the one requested to
// exercise the resampling path.
type ToneDevice struct {
	Frequency  float64
	Amplitude  float64 // 0 means 0.5
	DeviceRate int     // 0 means the requested rate
	Realtime   bool
}

func (d *ToneDevice) Open(ctx context.Context, req audio.DeviceRequest, fn audio.TickFunc) (audio.Stream, error) {
	if req.Channels < 1 || req.Channels > 2 {
		return nil, fmt.Errorf("tone device supports 1 or 2 channels, got %d", req.Channels)
	}
	if req.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", req.FrameSize)
	}

	rate := d.DeviceRate
	if rate == 0 {
		rate = req.SampleRate
	}
	if rate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", rate)
	}

	freq := d.Frequency
	if freq == 0 {
		freq = DefaultToneFrequency
	}
	amp := d.Amplitude
	if amp == 0 {
		amp = 0.5
	}

	slog.Debug("Opening tone device", "frequency", freq, "rate", rate, "channels", req.Channels, "realtime", d.Realtime)

	return startStream(ctx, func(ctx context.Context) error {
		p := newPacer(d.Realtime, req.FrameSize, rate)
		defer p.stop()

		channels := make([][]float32, req.Channels)
		for i := range channels {
			channels[i] = make([]float32, req.FrameSize)
		}

		step := 2 * math.Pi * freq / float64(rate)
		var phase float64
		for {
			if err := p.wait(ctx); err != nil {
				return err
			}
			for i := range req.FrameSize {
				v := float32(amp * math.Sin(phase))
				for ch := range channels {
					channels[ch][i] = v
				}
				phase = math.Mod(phase+step, 2*math.Pi)
			}
			fn(audio.Block{Channels: channels, SampleRate: rate})
		}
	}), nil
}
