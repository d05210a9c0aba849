package engine

import (
	"testing"
	"time"
)

type arbiterHarness struct {
	arb       *arbiter
	timers    *fakeTimers
	clock     time.Time
	speaking  bool
	confirmed int
	dismissed int
}

func newArbiterHarness() *arbiterHarness {
	h := &arbiterHarness{
		timers:   &fakeTimers{},
		clock:    time.Unix(1000, 0),
		speaking: true,
	}
	cfg := Config{
		InterruptionDebounce: 300 * time.Millisecond,
		MinSustainedSpeech:   400 * time.Millisecond,
	}
	h.arb = newArbiter(cfg, h.timers.after,
		func() bool { return h.speaking },
		func() { h.confirmed++ },
		func() { h.dismissed++ },
	)
	h.arb.now = func() time.Time { return h.clock }
	return h
}

func (h *arbiterHarness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func TestArbiter_IgnoresSpeechWhileAssistantSilent(t *testing.T) {
	t.Parallel()

	h := newArbiterHarness()
	h.speaking = false

	h.arb.speechStarted()
	if h.arb.state != quiet {
		t.Errorf("state = %v, want quiet (ordinary turn-taking)", h.arb.state)
	}
	h.advance(time.Second)
	h.arb.speechStopped()
	if h.confirmed != 0 || h.dismissed != 0 {
		t.Errorf("confirmed=%d dismissed=%d, want 0/0", h.confirmed, h.dismissed)
	}
}

func TestArbiter_ShortBurstDismissedAsNoise(t *testing.T) {
	t.Parallel()

	h := newArbiterHarness()
	h.arb.speechStarted()
	h.advance(200 * time.Millisecond) // below the 400ms sustained bar
	h.arb.speechStopped()

	if h.confirmed != 0 {
		t.Errorf("confirmed = %d, want 0", h.confirmed)
	}
	if h.dismissed != 1 {
		t.Errorf("dismissed = %d, want 1", h.dismissed)
	}
	if h.arb.state != quiet {
		t.Errorf("state = %v, want quiet", h.arb.state)
	}
	if h.timers.active() != 0 {
		t.Error("debounce timer should be cancelled on resolution")
	}
}

func TestArbiter_SustainedSpeechConfirmsOnStop(t *testing.T) {
	t.Parallel()

	h := newArbiterHarness()
	h.arb.speechStarted()
	h.advance(450 * time.Millisecond)
	h.arb.speechStopped()

	if h.confirmed != 1 {
		t.Errorf("confirmed = %d, want 1", h.confirmed)
	}
	if h.dismissed != 0 {
		t.Errorf("dismissed = %d, want 0", h.dismissed)
	}
	if h.arb.state != quiet {
		t.Errorf("state = %v, want quiet after teardown", h.arb.state)
	}
}

func TestArbiter_OngoingSpeechConfirmsOnDebounceWithRelaxedBar(t *testing.T) {
	t.Parallel()

	h := newArbiterHarness()
	h.arb.speechStarted()

	// The debounce fires at 300ms with speech still ongoing: 300ms exceeds
	// half the sustained bar (200ms), so the barge-in confirms without
	// waiting for the full 400ms.
	h.advance(300 * time.Millisecond)
	h.timers.fireLast()

	if h.confirmed != 1 {
		t.Errorf("confirmed = %d, want 1", h.confirmed)
	}

	// The stop that eventually arrives finds no pending candidate.
	h.advance(100 * time.Millisecond)
	h.arb.speechStopped()
	if h.confirmed != 1 {
		t.Errorf("confirmed = %d after late stop, want exactly 1", h.confirmed)
	}
}

func TestArbiter_EarlyDebounceFireDismisses(t *testing.T) {
	t.Parallel()

	h := newArbiterHarness()
	h.arb.speechStarted()

	// Fired with only 100ms of speech, under the relaxed 200ms bar.
	h.advance(100 * time.Millisecond)
	h.timers.fireLast()

	if h.confirmed != 0 {
		t.Errorf("confirmed = %d, want 0", h.confirmed)
	}
	if h.dismissed != 1 {
		t.Errorf("dismissed = %d, want 1", h.dismissed)
	}
}

func TestArbiter_DuplicateStartIgnored(t *testing.T) {
	t.Parallel()

	h := newArbiterHarness()
	h.arb.speechStarted()
	h.arb.speechStarted()

	if got := len(h.timers.armed); got != 1 {
		t.Errorf("armed timers = %d, want 1 (duplicate start must not rearm)", got)
	}
}

func TestArbiter_StopWithoutStartIsNoop(t *testing.T) {
	t.Parallel()

	h := newArbiterHarness()
	h.arb.speechStopped()
	if h.confirmed != 0 || h.dismissed != 0 {
		t.Errorf("confirmed=%d dismissed=%d, want 0/0", h.confirmed, h.dismissed)
	}
}

func TestArbiter_NewCandidateAfterResolution(t *testing.T) {
	t.Parallel()

	h := newArbiterHarness()

	// First candidate: noise.
	h.arb.speechStarted()
	h.advance(100 * time.Millisecond)
	h.arb.speechStopped()

	// Second candidate: genuine.
	h.arb.speechStarted()
	h.advance(500 * time.Millisecond)
	h.arb.speechStopped()

	if h.dismissed != 1 || h.confirmed != 1 {
		t.Errorf("dismissed=%d confirmed=%d, want 1/1", h.dismissed, h.confirmed)
	}
}

func TestArbiter_ResetAbandonsCandidate(t *testing.T) {
	t.Parallel()

	h := newArbiterHarness()
	h.arb.speechStarted()
	h.arb.reset()

	if h.arb.state != quiet {
		t.Errorf("state = %v, want quiet", h.arb.state)
	}
	h.advance(time.Second)
	h.timers.fireLast()
	if h.confirmed != 0 || h.dismissed != 0 {
		t.Errorf("confirmed=%d dismissed=%d after reset, want 0/0", h.confirmed, h.dismissed)
	}
}
