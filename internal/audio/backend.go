package audio

import "context"

// Block is one tick of captured audio: one sample slice per channel, all of
// equal length, plus the rate the device actually ran at.
type Block struct {
	Channels   [][]float32
	SampleRate int
}

// Frames returns the number of samples per channel.
func (b Block) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// DeviceRequest describes what the session asks of an input device. A device
// is free to deliver a different sample rate.
type DeviceRequest struct {
	DeviceID   string
	SampleRate int
	Channels   int
	FrameSize  int
}

// TickFunc receives one Block per audio-processing tick. It is called from
// the device's own goroutine and must not block. The block's slices may be
// reused by the device after the call returns.
type TickFunc func(Block)

// Device is the input collaborator a session records from.
type Device interface {
	// Open acquires the device and starts delivering ticks to fn.
	Open(ctx context.Context, req DeviceRequest, fn TickFunc) (Stream, error)
}

// Stream is an open device. Close waits for an in-flight call to fn; once it
// returns, fn is not called again.
type Stream interface {
	Close() error
}
