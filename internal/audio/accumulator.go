package audio

import (
	"fmt"
	"slices"

	"github.com/audiolibrelab/pcmcapture/internal/pcm"
)

// accumulator keeps every accepted block of a session, one list per
// logical channel.
type accumulator struct {
	left  [][]float32
	right [][]float32
	mono  [][]float32
}

func (a *accumulator) append(b Block) {
	if len(b.Channels) == 2 {
		a.left = append(a.left, slices.Clone(b.Channels[0]))
		a.right = append(a.right, slices.Clone(b.Channels[1]))
		return
	}
	a.mono = append(a.mono, slices.Clone(b.Channels[0]))
}

// samples flattens the accumulated blocks, interleaving stereo sessions.
func (a *accumulator) samples(channels int) ([]float32, error) {
	if channels != 2 {
		return pcm.Merge(a.mono), nil
	}
	data, err := pcm.Interleave(pcm.Merge(a.left), pcm.Merge(a.right))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationMismatch, err)
	}
	return data, nil
}

// take is everything Stop needs to encode a recording, detached from the
// session so a new Start cannot disturb it.
type take struct {
	config        SessionConfig
	acc           accumulator
	sampleRate    int
	duration      float64
	rejectedTicks int
}

func (t take) encode() (*Recording, error) {
	data, err := t.acc.samples(t.config.NumberOfChannels)
	if err != nil {
		return nil, err
	}

	rate := t.sampleRate
	if rate == 0 {
		// No tick arrived; fall back to the requested rate for the header.
		rate = t.config.SampleRate
	}

	format := pcm.PCM16(rate, t.config.NumberOfChannels)
	if t.config.SampleFormat == SampleFormatFloat32 {
		format = pcm.Float32(rate, t.config.NumberOfChannels)
	}

	payload, err := pcm.EncodeWAV(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode WAV: %w", err)
	}

	return &Recording{
		DurationMs:    t.duration * 1000,
		ByteLength:    len(payload),
		Payload:       payload,
		SampleRate:    rate,
		Channels:      t.config.NumberOfChannels,
		BitDepth:      format.BitDepth,
		RejectedTicks: t.rejectedTicks,
	}, nil
}
