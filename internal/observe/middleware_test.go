package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestMiddleware builds a Middleware on in-memory metric and span
// recorders.
func newTestMiddleware(t *testing.T, sessionID string) (func(http.Handler) http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return Middleware(m, sessionID), reader, exp
}

func serve(mw func(http.Handler) http.Handler, status int, method, path string) *httptest.ResponseRecorder {
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestMiddleware_RecordsDurationWithStatus(t *testing.T) {
	mw, reader, _ := newTestMiddleware(t, "sess-1")

	serve(mw, http.StatusOK, "GET", "/healthz")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "parley.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("no duration observations")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("observations = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "/healthz", "status": "200"}
	for _, kv := range dp.Attributes.ToSlice() {
		if expected, ok := want[string(kv.Key)]; ok && kv.Value.Emit() == expected {
			delete(want, string(kv.Key))
		}
	}
	for k := range want {
		t.Errorf("duration observation missing attribute %q", k)
	}
}

func TestMiddleware_SpanCarriesSessionAndStatus(t *testing.T) {
	mw, _, exp := newTestMiddleware(t, "sess-42")

	serve(mw, http.StatusNotFound, "GET", "/status")

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /status" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "HTTP GET /status")
	}

	var sawSession, sawStatus bool
	for _, a := range spans[0].Attributes {
		switch string(a.Key) {
		case "session.id":
			sawSession = a.Value.AsString() == "sess-42"
		case "http.response.status_code":
			sawStatus = a.Value.AsInt64() == 404
		}
	}
	if !sawSession {
		t.Error("span missing the session.id attribute")
	}
	if !sawStatus {
		t.Error("span missing the response status code")
	}
}

func TestMiddleware_PreservesResponse(t *testing.T) {
	mw, _, _ := newTestMiddleware(t, "sess-1")

	if rec := serve(mw, http.StatusServiceUnavailable, "GET", "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("response status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	// A handler that never calls WriteHeader still reads as 200.
	mw2, reader, _ := newTestMiddleware(t, "sess-1")
	handler := mw2(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "parley.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	found := false
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		if string(kv.Key) == "status" && kv.Value.Emit() == "200" {
			found = true
		}
	}
	if !found {
		t.Error("implicit 200 not recorded on the duration observation")
	}
}
