package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/audiolibrelab/pcmcapture/internal/observe"
	"github.com/audiolibrelab/pcmcapture/internal/pcm"
)

// fakeDevice hands ticks to the session only when the test pushes them.
type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	req     DeviceRequest
	fn      TickFunc
	opened  []TickFunc
	closes  int
}

func (d *fakeDevice) Open(_ context.Context, req DeviceRequest, fn TickFunc) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.req = req
	d.fn = fn
	d.opened = append(d.opened, fn)
	return &fakeStream{dev: d}, nil
}

func (d *fakeDevice) tick(b Block) {
	d.mu.Lock()
	fn := d.fn
	d.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}

type fakeStream struct {
	dev *fakeDevice
}

func (s *fakeStream) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.fn = nil
	s.dev.closes++
	return nil
}

// recorder collects every notification a session sends.
type recorder struct {
	mu      sync.Mutex
	starts  []StartResult
	frames  []Frame
	stops   []*Recording
	stopped chan *Recording
}

func newRecorder() *recorder {
	return &recorder{stopped: make(chan *Recording, 8)}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnStart: func(res StartResult) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.starts = append(r.starts, res)
		},
		OnFrame: func(f Frame) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.frames = append(r.frames, f)
		},
		OnStop: func(rec *Recording) {
			r.mu.Lock()
			r.stops = append(r.stops, rec)
			r.mu.Unlock()
			r.stopped <- rec
		},
	}
}

func (r *recorder) snapshot() ([]StartResult, []Frame, []*Recording) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StartResult(nil), r.starts...),
		append([]Frame(nil), r.frames...),
		append([]*Recording(nil), r.stops...)
}

func newTestSession(t *testing.T, dev Device, h Handlers, opts ...Option) (*Session, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	s := NewSession(dev, h, append([]Option{WithMetrics(m)}, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is %T", name, m.Data)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}

func TestSession_MonoRecording(t *testing.T) {
	dev := &fakeDevice{}
	rec := newRecorder()
	s, _ := newTestSession(t, dev, rec.handlers())

	err := s.Start(context.Background(), StartOptions{
		SampleRate:       intPtr(16000),
		NumberOfChannels: intPtr(1),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRecording, s.Status())
	assert.Equal(t, DeviceRequest{SampleRate: 16000, Channels: 1, FrameSize: DefaultFrameSize}, dev.req)

	for range 3 {
		dev.tick(Block{Channels: [][]float32{constant(4096, 0.5)}, SampleRate: 16000})
	}

	got, err := s.Stop()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusStopped, s.Status())

	dataSize := 3 * 4096 * 2
	assert.Equal(t, pcm.HeaderSize+dataSize, got.ByteLength)
	assert.Len(t, got.Payload, got.ByteLength)
	assert.InDelta(t, 768.0, got.DurationMs, 1e-9)
	assert.Equal(t, 16000, got.SampleRate)
	assert.Equal(t, 1, got.Channels)
	assert.Equal(t, 16, got.BitDepth)

	hdr, err := pcm.ParseHeader(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(dataSize), hdr.Subchunk2Size)
	assert.Equal(t, uint16(1), hdr.NumChannels)
	assert.Equal(t, uint32(16000), hdr.SampleRate)

	for i := pcm.HeaderSize; i < len(got.Payload); i += 2 {
		v := int16(binary.LittleEndian.Uint16(got.Payload[i:]))
		if v != 16384 {
			t.Fatalf("sample at byte %d = %d, want 16384", i, v)
		}
	}

	starts, frames, stops := rec.snapshot()
	require.Len(t, starts, 1)
	assert.Equal(t, StartMessage, starts[0].Message)
	assert.NoError(t, starts[0].Err)
	assert.Empty(t, frames, "no frame size was requested")
	require.Len(t, stops, 1)
	assert.Same(t, got, stops[0])
}

func TestSession_StereoInterleaves(t *testing.T) {
	dev := &fakeDevice{}
	s, _ := newTestSession(t, dev, Handlers{})

	require.NoError(t, s.Start(context.Background(), StartOptions{}))
	dev.tick(Block{
		Channels:   [][]float32{{0.1, 0.2}, {-0.1, -0.2}},
		SampleRate: 8000,
	})

	got, err := s.Stop()
	require.NoError(t, err)

	var samples []int16
	for i := pcm.HeaderSize; i < len(got.Payload); i += 2 {
		samples = append(samples, int16(binary.LittleEndian.Uint16(got.Payload[i:])))
	}
	assert.Equal(t, []int16{3277, -3277, 6553, -6554}, samples)
	assert.Equal(t, 2, got.Channels)
}

func TestSession_Float32Output(t *testing.T) {
	dev := &fakeDevice{}
	s, _ := newTestSession(t, dev, Handlers{})

	require.NoError(t, s.Start(context.Background(), StartOptions{
		NumberOfChannels: intPtr(1),
		SampleFormat:     strPtr(SampleFormatFloat32),
	}))
	dev.tick(Block{Channels: [][]float32{{0.25, -2}}, SampleRate: 8000})

	got, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, 32, got.BitDepth)

	hdr, err := pcm.ParseHeader(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(pcm.FormatIEEEFloat), hdr.AudioFormat)
	assert.Equal(t, pcm.Float32Bytes([]float32{0.25, -1}), got.Payload[pcm.HeaderSize:])
}

func TestSession_StopWhenIdleIsNoop(t *testing.T) {
	dev := &fakeDevice{}
	rec := newRecorder()
	s, _ := newTestSession(t, dev, rec.handlers())

	got, err := s.Stop()
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, StatusIdle, s.Status())

	require.NoError(t, s.Start(context.Background(), StartOptions{}))
	_, err = s.Stop()
	require.NoError(t, err)

	got, err = s.Stop()
	require.NoError(t, err)
	assert.Nil(t, got)

	_, _, stops := rec.snapshot()
	assert.Len(t, stops, 1)
	assert.Equal(t, 1, dev.closes)
}

func TestSession_StopWithoutTicks(t *testing.T) {
	dev := &fakeDevice{}
	s, _ := newTestSession(t, dev, Handlers{})

	require.NoError(t, s.Start(context.Background(), StartOptions{SampleRate: intPtr(22050)}))
	got, err := s.Stop()
	require.NoError(t, err)

	assert.Equal(t, pcm.HeaderSize, got.ByteLength)
	assert.Zero(t, got.DurationMs)
	assert.Equal(t, 22050, got.SampleRate)
}

func TestSession_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		opts StartOptions
	}{
		{"channels", StartOptions{NumberOfChannels: intPtr(3)}},
		{"frame size", StartOptions{FrameSize: intPtr(1000)}},
		{"duration", StartOptions{Duration: intPtr(MaxDuration + 1)}},
		{"format", StartOptions{Format: strPtr("mp3")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{}
			rec := newRecorder()
			s, _ := newTestSession(t, dev, rec.handlers())

			err := s.Start(context.Background(), tt.opts)
			require.ErrorIs(t, err, ErrConfigurationMismatch)
			assert.Equal(t, StatusIdle, s.Status())

			starts, _, _ := rec.snapshot()
			assert.Empty(t, starts)
			assert.Empty(t, dev.opened)
		})
	}
}

func TestSession_AcquisitionFailure(t *testing.T) {
	denied := errors.New("permission denied")
	dev := &fakeDevice{openErr: denied}
	rec := newRecorder()
	s, _ := newTestSession(t, dev, rec.handlers())

	err := s.Start(context.Background(), StartOptions{AudioSource: strPtr("mic-2")})

	var acqErr *AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, "mic-2", acqErr.DeviceID)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, StatusIdle, s.Status())

	starts, _, _ := rec.snapshot()
	require.Len(t, starts, 1)
	assert.ErrorIs(t, starts[0].Err, denied)
	assert.Empty(t, starts[0].Message)

	// The session is still usable once the device is available.
	dev.openErr = nil
	require.NoError(t, s.Start(context.Background(), StartOptions{}))
	assert.Equal(t, StatusRecording, s.Status())
}

func TestSession_StartWhileRecording(t *testing.T) {
	dev := &fakeDevice{}
	s, _ := newTestSession(t, dev, Handlers{})

	require.NoError(t, s.Start(context.Background(), StartOptions{}))
	err := s.Start(context.Background(), StartOptions{})
	require.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Len(t, dev.opened, 1)
}

func TestSession_RestartResetsAccumulators(t *testing.T) {
	dev := &fakeDevice{}
	s, _ := newTestSession(t, dev, Handlers{})
	opts := StartOptions{NumberOfChannels: intPtr(1)}

	require.NoError(t, s.Start(context.Background(), opts))
	dev.tick(Block{Channels: [][]float32{constant(256, 0.1)}, SampleRate: 8000})
	first, err := s.Stop()
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background(), opts))
	dev.tick(Block{Channels: [][]float32{constant(512, 0.1)}, SampleRate: 8000})
	second, err := s.Stop()
	require.NoError(t, err)

	assert.Equal(t, pcm.HeaderSize+256*2, first.ByteLength)
	assert.Equal(t, pcm.HeaderSize+512*2, second.ByteLength)
}

func TestSession_IgnoresStaleTicks(t *testing.T) {
	dev := &fakeDevice{}
	s, _ := newTestSession(t, dev, Handlers{})
	opts := StartOptions{NumberOfChannels: intPtr(1)}

	require.NoError(t, s.Start(context.Background(), opts))
	_, err := s.Stop()
	require.NoError(t, err)
	stale := dev.opened[0]

	require.NoError(t, s.Start(context.Background(), opts))
	stale(Block{Channels: [][]float32{constant(256, 0.1)}, SampleRate: 8000})
	got, err := s.Stop()
	require.NoError(t, err)

	assert.Equal(t, pcm.HeaderSize, got.ByteLength)
}

func TestSession_RejectsMismatchedTicks(t *testing.T) {
	dev := &fakeDevice{}
	s, reader := newTestSession(t, dev, Handlers{})

	require.NoError(t, s.Start(context.Background(), StartOptions{}))
	// Only the fourth tick fits the session.
	dev.tick(Block{Channels: [][]float32{{0.1}}, SampleRate: 8000})
	dev.tick(Block{Channels: [][]float32{{0.1, 0.2}, {0.1}}, SampleRate: 8000})
	dev.tick(Block{Channels: [][]float32{{0.1}, {0.1}}, SampleRate: 0})
	dev.tick(Block{Channels: [][]float32{{0.1}, {0.2}}, SampleRate: 8000})
	dev.tick(Block{Channels: [][]float32{{0.1}, {0.2}}, SampleRate: 44100})

	status, info := s.Info()
	assert.Equal(t, StatusRecording, status)
	require.NotNil(t, info)
	assert.Equal(t, 1, info.Ticks)
	assert.Equal(t, 4, info.RejectedTicks)
	assert.Equal(t, 8000, info.ActualSampleRate)

	got, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, 4, got.RejectedTicks)
	assert.Equal(t, pcm.HeaderSize+4, got.ByteLength)

	assert.Equal(t, int64(4), counterValue(t, reader, "pcmcapture.ticks.rejected"))
	assert.Equal(t, int64(1), counterValue(t, reader, "pcmcapture.ticks"))
}

func TestSession_DeviceRateUsedInHeader(t *testing.T) {
	dev := &fakeDevice{}
	s, _ := newTestSession(t, dev, Handlers{})

	require.NoError(t, s.Start(context.Background(), StartOptions{
		SampleRate:       intPtr(16000),
		NumberOfChannels: intPtr(1),
	}))
	dev.tick(Block{Channels: [][]float32{constant(4800, 0)}, SampleRate: 48000})

	got, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, 48000, got.SampleRate)
	assert.InDelta(t, 100.0, got.DurationMs, 1e-9)
}

func TestSession_FramesAreResampled(t *testing.T) {
	dev := &fakeDevice{}
	rec := newRecorder()
	s, reader := newTestSession(t, dev, rec.handlers())

	require.NoError(t, s.Start(context.Background(), StartOptions{
		SampleRate:       intPtr(8000),
		NumberOfChannels: intPtr(1),
		FrameSize:        intPtr(256),
	}))

	values := []float32{0.25, 0.5, -0.5}
	for _, v := range values {
		dev.tick(Block{Channels: [][]float32{constant(256, v)}, SampleRate: 16000})
	}
	_, err := s.Stop()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, frames, _ := rec.snapshot()
	require.Len(t, frames, len(values))
	for i, f := range frames {
		assert.False(t, f.IsLastFrame)
		require.Len(t, f.Buffer, 128*2, "frame %d", i)
		want := pcm.Quantize16([]float32{values[i]})[0]
		assert.Equal(t, want, int16(binary.LittleEndian.Uint16(f.Buffer)), "frame %d arrived out of order", i)
	}
	assert.Equal(t, int64(3), counterValue(t, reader, "pcmcapture.frames.emitted"))
}

func TestSession_StereoFramesInterleaved(t *testing.T) {
	dev := &fakeDevice{}
	rec := newRecorder()
	s, _ := newTestSession(t, dev, rec.handlers())

	require.NoError(t, s.Start(context.Background(), StartOptions{FrameSize: intPtr(512)}))
	dev.tick(Block{Channels: [][]float32{{0.5, 0.5}, {-0.5, -0.5}}, SampleRate: 8000})
	require.NoError(t, s.Close())

	_, frames, _ := rec.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, pcm.Int16Bytes([]int16{16384, -16384, 16384, -16384}), frames[0].Buffer)
}

func TestSession_DropsFramesWhenWorkerFallsBehind(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	delivered := 0

	dev := &fakeDevice{}
	s, reader := newTestSession(t, dev, Handlers{
		OnFrame: func(Frame) {
			<-release
			mu.Lock()
			delivered++
			mu.Unlock()
		},
	}, WithQueueSize(1))

	require.NoError(t, s.Start(context.Background(), StartOptions{
		NumberOfChannels: intPtr(1),
		FrameSize:        intPtr(256),
	}))
	const sent = 5
	for range sent {
		dev.tick(Block{Channels: [][]float32{constant(256, 0.1)}, SampleRate: 8000})
	}
	close(release)
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, delivered, 2)
	assert.Equal(t, int64(sent-delivered), counterValue(t, reader, "pcmcapture.frames.dropped"))
}

func TestSession_StopsAtMaxDuration(t *testing.T) {
	dev := &fakeDevice{}
	rec := newRecorder()
	s, _ := newTestSession(t, dev, rec.handlers())

	require.NoError(t, s.Start(context.Background(), StartOptions{
		Duration:         intPtr(100),
		NumberOfChannels: intPtr(1),
	}))
	dev.tick(Block{Channels: [][]float32{constant(512, 0.1)}, SampleRate: 8000})
	dev.tick(Block{Channels: [][]float32{constant(512, 0.1)}, SampleRate: 8000})
	dev.tick(Block{Channels: [][]float32{constant(512, 0.1)}, SampleRate: 8000})

	var got *Recording
	select {
	case got = <-rec.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop at its duration limit")
	}

	assert.Equal(t, StatusStopped, s.Status())
	assert.Equal(t, pcm.HeaderSize+1024*2, got.ByteLength)
	assert.InDelta(t, 128.0, got.DurationMs, 1e-9)
}

func TestSession_UnsupportedOperations(t *testing.T) {
	s, _ := newTestSession(t, &fakeDevice{}, Handlers{})

	assert.ErrorIs(t, s.Pause(), ErrNotImplemented)
	assert.ErrorIs(t, s.Resume(), ErrNotImplemented)
	assert.ErrorIs(t, s.OnError(func(error) {}), ErrNotImplemented)
	assert.ErrorIs(t, s.OnInterruptionBegin(func() {}), ErrNotImplemented)
	assert.ErrorIs(t, s.OnInterruptionEnd(func() {}), ErrNotImplemented)
	assert.Equal(t, StatusIdle, s.Status())
}

func TestSession_Close(t *testing.T) {
	dev := &fakeDevice{}
	rec := newRecorder()
	s, _ := newTestSession(t, dev, rec.handlers())

	require.NoError(t, s.Start(context.Background(), StartOptions{}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, StatusStopped, s.Status())
	_, _, stops := rec.snapshot()
	assert.Len(t, stops, 1)

	err := s.Start(context.Background(), StartOptions{})
	assert.ErrorIs(t, err, ErrSessionClosed)
}
