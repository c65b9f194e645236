package source

import (
	"context"
	"errors"
	"sync"
	"time"
)

// runStream is the Stream returned by the in-process devices. Its goroutine
// delivers ticks until the producer returns or Close is called.
type runStream struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// startStream runs produce on its own goroutine. The Open context only
// scopes acquisition, so produce gets a context that ignores its cancellation.
func startStream(ctx context.Context, produce func(ctx context.Context) error) *runStream {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &runStream{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		if err := produce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.err = err
		}
	}()
	return s
}

// Close stops the producer and waits for it to return.
func (s *runStream) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return s.err
}

// pacer blocks between ticks so they arrive at the device rate. A nil pacer
// runs as fast as the consumer allows.
type pacer struct {
	ticker *time.Ticker
}

func newPacer(realtime bool, frames, rate int) *pacer {
	if !realtime || rate <= 0 || frames <= 0 {
		return nil
	}
	interval := time.Duration(float64(frames) / float64(rate) * float64(time.Second))
	return &pacer{ticker: time.NewTicker(interval)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticker.C:
		return nil
	}
}

func (p *pacer) stop() {
	if p != nil {
		p.ticker.Stop()
	}
}
