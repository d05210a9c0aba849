// Package health provides the HTTP status surface of a Parley session.
//
// The package exposes three endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /status  — conversational state: whether the assistant is speaking,
//     whether the session is listening, and the recent event journal.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and, for /readyz, a "checks" map containing the result of each named
// checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/parleyvoice/parley/internal/engine"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "device",
	// "realtime"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// StatusSource exposes the session state served on /status. *engine.Engine
// satisfies it.
type StatusSource interface {
	Status() engine.Snapshot
	Journal() []engine.LogEntry
}

// result is the JSON response body for the probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// statusBody is the JSON response body for /status.
type statusBody struct {
	engine.Snapshot
	Journal []engine.LogEntry `json:"journal"`
}

// Handler serves the status endpoints. It is safe for concurrent use; the
// checker list and status source are fixed at construction time.
type Handler struct {
	checkers []Checker
	source   StatusSource
}

// New creates a [Handler] serving session state from source and evaluating
// the given checkers on each /readyz request, sequentially in the order
// provided. A nil source disables /status.
func New(source StatusSource, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, source: source}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// SessionStatus serves the current conversational state and event journal.
func (h *Handler) SessionStatus(w http.ResponseWriter, _ *http.Request) {
	if h.source == nil {
		http.Error(w, `{"status":"no session"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{
		Snapshot: h.source.Status(),
		Journal:  h.source.Journal(),
	})
}

// Register adds the /healthz, /readyz, and /status routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.SessionStatus)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
