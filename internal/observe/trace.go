package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Parley tracer.
const tracerName = "github.com/parleyvoice/parley"

// Tracer returns the package-level [trace.Tracer], backed by whatever
// provider [InitProvider] registered globally.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the Parley tracer. The caller must call
// span.End() when done. Parley is a single-session client process, so spans
// are local colour for the status server rather than a distributed-tracing
// surface; cross-process propagation is deliberately absent.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}
