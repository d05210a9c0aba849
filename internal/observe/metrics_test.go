package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
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

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)

	histograms := []struct {
		name   string
		record func()
		h      metric.Float64Histogram
	}{
		{"parley.playback.ttfa", func() { m.RecordTTFA(450 * time.Millisecond) }, m.TTFA},
		{"parley.response.duration", func() { m.RecordResponseDuration(3 * time.Second) }, m.ResponseDuration},
	}

	for _, h := range histograms {
		h.record()
	}

	rm := collect(t, reader)
	for _, h := range histograms {
		met := findMetric(rm, h.name)
		if met == nil {
			t.Errorf("metric %q not found after recording", h.name)
			continue
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Errorf("metric %q is not a float64 histogram", h.name)
			continue
		}
		if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
			t.Errorf("metric %q: expected exactly one observation", h.name)
		}
	}
}

func TestFrameCounters(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.FrameReceived(960)
	m.FrameReceived(960)
	m.FrameDropped("malformed")

	rm := collect(t, reader)

	frames := findMetric(rm, "parley.frames.received")
	if frames == nil {
		t.Fatal("parley.frames.received not found")
	}
	sum, ok := frames.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) == 0 {
		t.Fatal("parley.frames.received has no data points")
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("frames received = %d, want 2", got)
	}

	bytes := findMetric(rm, "parley.audio.bytes")
	if bytes == nil {
		t.Fatal("parley.audio.bytes not found")
	}
	bsum := bytes.Data.(metricdata.Sum[int64])
	if got := bsum.DataPoints[0].Value; got != 1920 {
		t.Errorf("audio bytes = %d, want 1920", got)
	}

	dropped := findMetric(rm, "parley.frames.dropped")
	if dropped == nil {
		t.Fatal("parley.frames.dropped not found")
	}
	dsum := dropped.Data.(metricdata.Sum[int64])
	if len(dsum.DataPoints) != 1 {
		t.Fatalf("expected one dropped-frame series, got %d", len(dsum.DataPoints))
	}
	reason, _ := dsum.DataPoints[0].Attributes.Value("reason")
	if reason.AsString() != "malformed" {
		t.Errorf("drop reason = %q, want %q", reason.AsString(), "malformed")
	}
}

func TestInterruptionOutcomes(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.Interruption("confirmed")
	m.Interruption("dismissed")
	m.Interruption("dismissed")

	rm := collect(t, reader)
	met := findMetric(rm, "parley.interruptions")
	if met == nil {
		t.Fatal("parley.interruptions not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected two outcome series, got %d", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		outcome, _ := dp.Attributes.Value("outcome")
		switch outcome.AsString() {
		case "confirmed":
			if dp.Value != 1 {
				t.Errorf("confirmed = %d, want 1", dp.Value)
			}
		case "dismissed":
			if dp.Value != 2 {
				t.Errorf("dismissed = %d, want 2", dp.Value)
			}
		default:
			t.Errorf("unexpected outcome %q", outcome.AsString())
		}
	}
}

func TestSegmentAccounting(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.SegmentScheduled(150 * time.Millisecond)
	m.SegmentScheduled(120 * time.Millisecond)
	m.SegmentsStopped(2)
	m.SegmentsStopped(0) // no-op

	rm := collect(t, reader)

	sched := findMetric(rm, "parley.segments.scheduled")
	if sched == nil {
		t.Fatal("parley.segments.scheduled not found")
	}
	if got := sched.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 2 {
		t.Errorf("segments scheduled = %d, want 2", got)
	}

	cancelled := findMetric(rm, "parley.segments.cancelled")
	if cancelled == nil {
		t.Fatal("parley.segments.cancelled not found")
	}
	if got := cancelled.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 2 {
		t.Errorf("segments cancelled = %d, want 2", got)
	}

	backlog := findMetric(rm, "parley.scheduled_audio")
	if backlog == nil {
		t.Fatal("parley.scheduled_audio not found")
	}
	if got := backlog.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 270 {
		t.Errorf("scheduled audio ms = %d, want 270", got)
	}
}

func TestSpeakingGauge(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.SpeakingChanged(true)
	m.SpeakingChanged(true)
	m.SpeakingChanged(false)

	rm := collect(t, reader)
	met := findMetric(rm, "parley.speaking_sessions")
	if met == nil {
		t.Fatal("parley.speaking_sessions not found")
	}
	if got := met.Data.(metricdata.Sum[int64]).DataPoints[0].Value; got != 1 {
		t.Errorf("speaking sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
