// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, tracing, and the Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parleyvoice/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TTFA tracks time-to-first-audio: user speech end to first audible
	// assistant audio.
	TTFA metric.Float64Histogram

	// TTFT tracks time-to-first-text: user speech end to the first
	// transcript fragment. Text streams ahead of audio, so TTFT bounds how
	// fast the model itself is independent of playback buffering.
	TTFT metric.Float64Histogram

	// ResponseDuration tracks full assistant response streaming time.
	ResponseDuration metric.Float64Histogram

	// --- Counters ---

	// FramesReceived counts audio frames received from the server.
	FramesReceived metric.Int64Counter

	// FramesDropped counts audio frames discarded before playback. Use with
	// attribute: attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// AudioBytes counts received audio payload bytes.
	AudioBytes metric.Int64Counter

	// SegmentsScheduled counts segments placed on the playback timeline.
	SegmentsScheduled metric.Int64Counter

	// SegmentsCancelled counts segments stopped early by an interruption or
	// shutdown.
	SegmentsCancelled metric.Int64Counter

	// Interruptions counts barge-in candidates by outcome. Use with
	// attribute: attribute.String("outcome", "confirmed"|"dismissed")
	Interruptions metric.Int64Counter

	// DeviceResumes counts attempts to resume a suspended output device.
	// Use with attribute: attribute.String("status", "ok"|"failed")
	DeviceResumes metric.Int64Counter

	// --- Gauges ---

	// SpeakingSessions tracks how many sessions currently have audible
	// assistant audio.
	SpeakingSessions metric.Int64UpDownCounter

	// ScheduledAudio tracks the amount of audio (in milliseconds) currently
	// placed on timelines, as a coarse backlog signal.
	ScheduledAudio metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks status-server request processing time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational voice latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TTFA, err = m.Float64Histogram("parley.playback.ttfa",
		metric.WithDescription("Time from end of user speech to first audible assistant audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTFT, err = m.Float64Histogram("parley.response.ttft",
		metric.WithDescription("Time from end of user speech to first transcript text."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseDuration, err = m.Float64Histogram("parley.response.duration",
		metric.WithDescription("Duration of assistant response streaming, creation to done."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesReceived, err = m.Int64Counter("parley.frames.received",
		metric.WithDescription("Total audio frames received from the server."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("parley.frames.dropped",
		metric.WithDescription("Total audio frames discarded before playback, by reason."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("parley.audio.bytes",
		metric.WithDescription("Total received audio payload bytes."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.SegmentsScheduled, err = m.Int64Counter("parley.segments.scheduled",
		metric.WithDescription("Total segments placed on the playback timeline."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsCancelled, err = m.Int64Counter("parley.segments.cancelled",
		metric.WithDescription("Total segments stopped early by interruption or shutdown."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("parley.interruptions",
		metric.WithDescription("Total barge-in candidates by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DeviceResumes, err = m.Int64Counter("parley.device.resumes",
		metric.WithDescription("Attempts to resume a suspended output device, by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.SpeakingSessions, err = m.Int64UpDownCounter("parley.speaking_sessions",
		metric.WithDescription("Sessions with audible assistant audio right now."),
	); err != nil {
		return nil, err
	}
	if met.ScheduledAudio, err = m.Int64UpDownCounter("parley.scheduled_audio",
		metric.WithDescription("Milliseconds of audio currently scheduled on timelines."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("Status-server request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// FrameReceived records one received audio frame of the given payload size.
func (m *Metrics) FrameReceived(bytes int) {
	ctx := context.Background()
	m.FramesReceived.Add(ctx, 1)
	m.AudioBytes.Add(ctx, int64(bytes))
}

// FrameDropped records a discarded frame with its reason.
func (m *Metrics) FrameDropped(reason string) {
	m.FramesDropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// SegmentScheduled records a segment of the given duration being placed on a
// timeline.
func (m *Metrics) SegmentScheduled(d time.Duration) {
	ctx := context.Background()
	m.SegmentsScheduled.Add(ctx, 1)
	m.ScheduledAudio.Add(ctx, d.Milliseconds())
}

// SegmentsStopped records n segments stopped early.
func (m *Metrics) SegmentsStopped(n int) {
	if n == 0 {
		return
	}
	m.SegmentsCancelled.Add(context.Background(), int64(n))
}

// Interruption records a resolved barge-in candidate.
func (m *Metrics) Interruption(outcome string) {
	m.Interruptions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// DeviceResume records an output-device resume attempt.
func (m *Metrics) DeviceResume(status string) {
	m.DeviceResumes.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// SpeakingChanged moves the speaking-sessions gauge.
func (m *Metrics) SpeakingChanged(speaking bool) {
	delta := int64(1)
	if !speaking {
		delta = -1
	}
	m.SpeakingSessions.Add(context.Background(), delta)
}

// RecordTTFA records one time-to-first-audio observation.
func (m *Metrics) RecordTTFA(d time.Duration) {
	m.TTFA.Record(context.Background(), d.Seconds())
}

// RecordTTFT records one time-to-first-text observation.
func (m *Metrics) RecordTTFT(d time.Duration) {
	m.TTFT.Record(context.Background(), d.Seconds())
}

// RecordResponseDuration records one full response streaming duration.
func (m *Metrics) RecordResponseDuration(d time.Duration) {
	m.ResponseDuration.Record(context.Background(), d.Seconds())
}
