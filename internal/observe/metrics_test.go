package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the total of an Int64 sum across all data points whose
// attributes contain attr (or all points when attr is empty).
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attr ...attribute.KeyValue) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range attr {
			if v, ok := dp.Attributes.Value(kv.Key); !ok || v.Emit() != kv.Value.Emit() {
				match = false
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordFrameSent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameSent(ctx, 2972)
	m.RecordFrameSent(ctx, 2972)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "voicelink.frames.sent"); got != 2 {
		t.Errorf("frames.sent = %d, want 2", got)
	}
	if got := sumValue(t, rm, "voicelink.audio.sent"); got != 5944 {
		t.Errorf("audio.sent = %d, want 5944", got)
	}
}

func TestRecordFrameDropped(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrameDropped(ctx, "not_open")
	m.RecordFrameDropped(ctx, "not_open")
	m.RecordFrameDropped(ctx, "queue_full")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "voicelink.frames.dropped", attribute.String("reason", "not_open")); got != 2 {
		t.Errorf("not_open drops = %d, want 2", got)
	}
	if got := sumValue(t, rm, "voicelink.frames.dropped", attribute.String("reason", "queue_full")); got != 1 {
		t.Errorf("queue_full drops = %d, want 1", got)
	}
}

func TestRecordMessageAndError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordMessage(ctx, "transcription")
	m.RecordError(ctx, "connection")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "voicelink.messages.received", attribute.String("type", "transcription")); got != 1 {
		t.Errorf("messages.received = %d, want 1", got)
	}
	if got := sumValue(t, rm, "voicelink.errors", attribute.String("kind", "connection")); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestActiveRecordings(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "voicelink.active_recordings"); got != 1 {
		t.Errorf("active_recordings = %d, want 1", got)
	}
}

func TestFrameProcessDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.FrameProcessDuration.Record(context.Background(), 0.0004)

	rm := collect(t, reader)
	met := findMetric(rm, "voicelink.frame.process.duration")
	if met == nil {
		t.Fatal("histogram not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", met.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("unexpected data points %+v", hist.DataPoints)
	}
}
