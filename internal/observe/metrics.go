// Package observe provides the OpenTelemetry metric instruments recorded by
// capture sessions, and the Prometheus bridge used to scrape them.
//
// A package-level [DefaultMetrics] instance backed by the global meter
// provider is used when a session is not given its own; tests should build
// one with [NewMetrics] and an SDK ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all pcmcapture metrics.
const meterName = "github.com/audiolibrelab/pcmcapture"

// Metrics holds the metric instruments of the capture pipeline. All fields
// are safe for concurrent use.
type Metrics struct {
	// Ticks counts accepted audio-processing ticks.
	Ticks metric.Int64Counter

	// TicksRejected counts ticks dropped by validation. Use with attribute:
	//   attribute.String("reason", ...)
	TicksRejected metric.Int64Counter

	// FramesEmitted counts frame notifications delivered to the caller.
	FramesEmitted metric.Int64Counter

	// FramesDropped counts resample requests discarded because the worker
	// queue was full.
	FramesDropped metric.Int64Counter

	// ResampleDuration tracks per-frame resample + quantize latency.
	ResampleDuration metric.Float64Histogram

	// Recordings counts completed recordings. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	Recordings metric.Int64Counter

	// RecordedSeconds accumulates captured audio time.
	RecordedSeconds metric.Float64Counter

	// ActiveSessions tracks sessions currently recording.
	ActiveSessions metric.Int64UpDownCounter
}

// resampleBuckets are histogram boundaries in seconds sized for a single
// tick of at most 16384 samples.
var resampleBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Ticks, err = m.Int64Counter("pcmcapture.ticks",
		metric.WithDescription("Audio-processing ticks accepted by capture sessions."),
	); err != nil {
		return nil, err
	}
	if met.TicksRejected, err = m.Int64Counter("pcmcapture.ticks.rejected",
		metric.WithDescription("Ticks dropped because they did not match the session configuration."),
	); err != nil {
		return nil, err
	}
	if met.FramesEmitted, err = m.Int64Counter("pcmcapture.frames.emitted",
		metric.WithDescription("Frame notifications delivered."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("pcmcapture.frames.dropped",
		metric.WithDescription("Frames discarded because the resample worker fell behind."),
	); err != nil {
		return nil, err
	}
	if met.ResampleDuration, err = m.Float64Histogram("pcmcapture.resample.duration",
		metric.WithDescription("Latency of resampling and quantizing one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(resampleBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("pcmcapture.recordings",
		metric.WithDescription("Recordings finished, by status."),
	); err != nil {
		return nil, err
	}
	if met.RecordedSeconds, err = m.Float64Counter("pcmcapture.recorded",
		metric.WithDescription("Audio time captured."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("pcmcapture.active_sessions",
		metric.WithDescription("Sessions currently recording."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordRejectedTick increments the rejected tick counter for reason.
func (m *Metrics) RecordRejectedTick(ctx context.Context, reason string) {
	m.TicksRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRecording increments the recordings counter with status.
func (m *Metrics) RecordRecording(ctx context.Context, status string) {
	m.Recordings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
