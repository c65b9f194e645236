package audio

import (
	"context"
	"sync"
	"time"

	"github.com/audiolibrelab/pcmcapture/internal/observe"
	"github.com/audiolibrelab/pcmcapture/internal/pcm"
)

// resampleRequest is one tick's interleaved samples. The request owns its
// slice.
type resampleRequest struct {
	samples    []float32
	targetRate int
	sourceRate int
}

// resampleWorker resamples and quantizes ticks off the device goroutine.
// Requests are handled one at a time in arrival order; nothing carries over
// from one request to the next.
type resampleWorker struct {
	requests  chan resampleRequest
	done      chan struct{}
	deliver   func([]byte)
	metrics   *observe.Metrics
	closeOnce sync.Once
}

func newResampleWorker(queueSize int, metrics *observe.Metrics, deliver func([]byte)) *resampleWorker {
	w := &resampleWorker{
		requests: make(chan resampleRequest, queueSize),
		done:     make(chan struct{}),
		deliver:  deliver,
		metrics:  metrics,
	}
	go w.run()
	return w
}

func (w *resampleWorker) run() {
	defer close(w.done)
	for req := range w.requests {
		w.deliver(w.process(req))
	}
}

func (w *resampleWorker) process(req resampleRequest) []byte {
	start := time.Now()
	out := pcm.Int16Bytes(pcm.Quantize16(pcm.Resample(req.samples, req.targetRate, req.sourceRate)))
	w.metrics.ResampleDuration.Record(context.Background(), time.Since(start).Seconds())
	return out
}

// submit queues req without blocking and reports whether it was accepted.
func (w *resampleWorker) submit(req resampleRequest) bool {
	select {
	case w.requests <- req:
		return true
	default:
		return false
	}
}

// close stops accepting requests and waits until queued ones are delivered.
// submit must not be called afterwards.
func (w *resampleWorker) close() {
	w.closeOnce.Do(func() {
		close(w.requests)
	})
	<-w.done
}
