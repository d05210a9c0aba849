// Package latency measures conversational timings for one Parley session:
// connection setup, user speech boundaries, and the time from speech end to
// first audible assistant audio (TTFA), the number users actually perceive as
// responsiveness.
//
// The tracker is purely observational. It logs milestones through slog and
// records them on the session metrics; it never influences playback.
package latency

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parleyvoice/parley/internal/observe"
)

// Tracker accumulates timing milestones for a single session. All methods
// are safe for concurrent use; in practice the transport goroutine reports
// connection events and the engine loop reports the rest.
type Tracker struct {
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time

	mu            sync.Mutex
	connectStart  time.Time
	connected     time.Time
	speechStart   time.Time
	speechEnd     time.Time
	responseStart time.Time
	firstAudio    time.Time
	firstText     time.Time
	chunks        int
	bytes         int64
	responses     int
}

// New creates a Tracker for the given session. metrics may not be nil.
func New(sessionID string, metrics *observe.Metrics) *Tracker {
	return &Tracker{
		metrics: metrics,
		log:     slog.With("session", sessionID),
		now:     time.Now,
	}
}

// ConnectStart marks the beginning of the transport dial.
func (t *Tracker) ConnectStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectStart = t.now()
}

// Connected marks the transport session as established.
func (t *Tracker) Connected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = t.now()
	if !t.connectStart.IsZero() {
		t.log.Info("session connected", "dial", t.connected.Sub(t.connectStart))
	}
}

// SpeechStarted marks the detector hearing the user start talking.
func (t *Tracker) SpeechStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speechStart = t.now()
}

// SpeechStopped marks the end of user speech; TTFA is measured from here.
func (t *Tracker) SpeechStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speechEnd = t.now()
	if !t.speechStart.IsZero() {
		t.log.Debug("user speech ended", "length", t.speechEnd.Sub(t.speechStart))
	}
}

// ResponseCreated marks the start of a new assistant response stream and
// resets the per-response counters.
func (t *Tracker) ResponseCreated() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responseStart = t.now()
	t.firstAudio = time.Time{}
	t.firstText = time.Time{}
	t.chunks = 0
	t.bytes = 0
	t.responses++
}

// AudioDelta records one received audio frame. The first frame of a response
// produces the TTFA observation.
func (t *Tracker) AudioDelta(bytes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks++
	t.bytes += int64(bytes)
	if !t.firstAudio.IsZero() {
		return
	}
	t.firstAudio = t.now()
	if t.speechEnd.IsZero() {
		return
	}
	ttfa := t.firstAudio.Sub(t.speechEnd)
	t.log.Info("first audio of response", "ttfa", ttfa)
	t.metrics.RecordTTFA(ttfa)
}

// TranscriptDelta records one received transcript fragment. The first
// fragment of a response produces the TTFT observation; text streams ahead
// of audio, so TTFT leads TTFA.
func (t *Tracker) TranscriptDelta() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.firstText.IsZero() {
		return
	}
	t.firstText = t.now()
	if t.speechEnd.IsZero() {
		return
	}
	ttft := t.firstText.Sub(t.speechEnd)
	t.log.Info("first text of response", "ttft", ttft)
	t.metrics.RecordTTFT(ttft)
}

// ResponseDone marks the end of the assistant response stream.
func (t *Tracker) ResponseDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.responseStart.IsZero() {
		return
	}
	total := t.now().Sub(t.responseStart)
	t.log.Info("response complete",
		"duration", total,
		"chunks", t.chunks,
		"bytes", t.bytes,
	)
	t.metrics.RecordResponseDuration(total)
	t.responseStart = time.Time{}
}

// SessionEnded logs the session summary.
func (t *Tracker) SessionEnded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	var lifetime time.Duration
	if !t.connected.IsZero() {
		lifetime = t.now().Sub(t.connected)
	}
	t.log.Info("session ended", "lifetime", lifetime, "responses", t.responses)
}
