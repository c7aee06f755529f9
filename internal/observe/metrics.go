// Package observe provides the OpenTelemetry metrics recorded by the voice
// client and the provider setup that exposes them for Prometheus scraping.
//
// Tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicelink metrics.
const meterName = "github.com/teslashibe/go-voicelink"

// Metrics holds all OpenTelemetry metric instruments for the client.
type Metrics struct {
	// FramesSent counts audio frames handed to an open connection.
	FramesSent metric.Int64Counter

	// FramesDropped counts audio frames discarded because the connection was
	// not open or the send queue was full. Use with attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// AudioBytesSent counts PCM16 bytes handed to the connection.
	AudioBytesSent metric.Int64Counter

	// MessagesReceived counts inbound messages. Use with attribute:
	//   attribute.String("type", ...)
	MessagesReceived metric.Int64Counter

	// Errors counts error events. Use with attribute:
	//   attribute.String("kind", ...)
	Errors metric.Int64Counter

	// ActiveRecordings is 1 while a capture session is streaming.
	ActiveRecordings metric.Int64UpDownCounter

	// FrameProcessDuration tracks the resample, quantize and encode time of
	// one capture buffer.
	FrameProcessDuration metric.Float64Histogram
}

// processBuckets defines histogram bucket boundaries (in seconds) for the
// capture callback, which must stay well under one buffer period.
var processBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSent, err = m.Int64Counter("voicelink.frames.sent",
		metric.WithDescription("Audio frames handed to the connection."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicelink.frames.dropped",
		metric.WithDescription("Audio frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesSent, err = m.Int64Counter("voicelink.audio.sent",
		metric.WithDescription("PCM16 bytes handed to the connection."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.MessagesReceived, err = m.Int64Counter("voicelink.messages.received",
		metric.WithDescription("Inbound messages by type."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("voicelink.errors",
		metric.WithDescription("Error events by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("voicelink.active_recordings",
		metric.WithDescription("Number of capture sessions currently streaming."),
	); err != nil {
		return nil, err
	}
	if met.FrameProcessDuration, err = m.Float64Histogram("voicelink.frame.process.duration",
		metric.WithDescription("Time spent converting one capture buffer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(processBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// RecordFrameSent records one frame of n PCM bytes handed to the connection.
func (m *Metrics) RecordFrameSent(ctx context.Context, n int) {
	m.FramesSent.Add(ctx, 1)
	m.AudioBytesSent.Add(ctx, int64(n))
}

// RecordFrameDropped records one dropped frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordMessage records one inbound message.
func (m *Metrics) RecordMessage(ctx context.Context, msgType string) {
	m.MessagesReceived.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", msgType)),
	)
}

// RecordError records one error event.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
