package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parleyvoice/parley/internal/engine"
)

// fakeSource is a canned StatusSource.
type fakeSource struct {
	snap    engine.Snapshot
	journal []engine.LogEntry
}

func (f *fakeSource) Status() engine.Snapshot     { return f.snap }
func (f *fakeSource) Journal() []engine.LogEntry  { return f.journal }

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(nil)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New(nil)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	h := New(nil,
		Checker{Name: "device", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "realtime", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["device"] != "ok" || body.Checks["realtime"] != "ok" {
		t.Errorf("checks = %v, want all ok", body.Checks)
	}
}

func TestReadyz_FailingCheckerReturns503(t *testing.T) {
	h := New(nil,
		Checker{Name: "device", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "realtime", Check: func(_ context.Context) error { return errors.New("connection lost") }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["realtime"] != "fail: connection lost" {
		t.Errorf("realtime check = %q, want failure message", body.Checks["realtime"])
	}
	if body.Checks["device"] != "ok" {
		t.Errorf("device check = %q, want ok", body.Checks["device"])
	}
}

func TestSessionStatus_ServesSnapshotAndJournal(t *testing.T) {
	src := &fakeSource{
		snap: engine.Snapshot{Speaking: true, Listening: false, Phase: "speaking"},
		journal: []engine.LogEntry{
			{Time: time.Now(), Message: "user speech started"},
		},
	}
	h := New(src)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.SessionStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body statusBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !body.Speaking || body.Listening {
		t.Errorf("snapshot = %+v, want speaking and not listening", body.Snapshot)
	}
	if body.Phase != "speaking" {
		t.Errorf("phase = %q, want %q", body.Phase, "speaking")
	}
	if len(body.Journal) != 1 || body.Journal[0].Message != "user speech started" {
		t.Errorf("journal = %v, want one entry", body.Journal)
	}
}

func TestSessionStatus_NoSourceReturns404(t *testing.T) {
	h := New(nil)

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	h.SessionStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestRegister_RoutesAll(t *testing.T) {
	mux := http.NewServeMux()
	New(&fakeSource{}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz", "/status"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code == http.StatusNotFound {
			t.Errorf("route %s not registered", path)
		}
	}
}
