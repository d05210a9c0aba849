package engine

import (
	"log/slog"
	"time"
)

type interruptionState int

const (
	// quiet: no candidate barge-in in flight.
	quiet interruptionState = iota

	// speechPending: user speech started while the assistant was speaking;
	// waiting for evidence that it is sustained.
	speechPending

	// confirmed: transient state during teardown; the arbiter returns to
	// quiet before the confirming call unwinds.
	confirmed
)

func (s interruptionState) String() string {
	switch s {
	case quiet:
		return "quiet"
	case speechPending:
		return "speech_pending"
	case confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// arbiter decides whether detected user speech is a genuine barge-in or a
// transient (cough, background noise, the detector tripping on the
// assistant's own output). A candidate is confirmed on one of two paths:
//
//   - the detector reports speech end after at least minSustained of speech;
//   - the debounce timer fires with speech still ongoing and at least half of
//     minSustained elapsed. The relaxed bar exists because speech that is
//     still going at debounce time is much stronger evidence than speech that
//     already stopped.
//
// Anything shorter is dismissed as noise and playback continues untouched.
//
// arbiter is not safe for concurrent use; the engine event loop is its only
// caller.
type arbiter struct {
	debounce     time.Duration
	minSustained time.Duration

	now      func() time.Time
	after    timerFunc
	speaking func() bool

	onConfirmed func()
	onNoise     func()

	state          interruptionState
	speechStart    time.Time
	cancelDebounce func()
}

func newArbiter(cfg Config, after timerFunc, speaking func() bool, onConfirmed, onNoise func()) *arbiter {
	return &arbiter{
		debounce:     cfg.InterruptionDebounce,
		minSustained: cfg.MinSustainedSpeech,
		now:          time.Now,
		after:        after,
		speaking:     speaking,
		onConfirmed:  onConfirmed,
		onNoise:      onNoise,
		state:        quiet,
	}
}

// speechStarted opens a barge-in candidate. Speech while the assistant is
// silent is ordinary turn-taking, not an interruption, and is ignored here.
// A duplicate start while a candidate is pending is also ignored.
func (a *arbiter) speechStarted() {
	if a.state != quiet {
		return
	}
	if !a.speaking() {
		return
	}
	a.state = speechPending
	a.speechStart = a.now()
	a.cancelDebounce = a.after(a.debounce, a.debounceFired)
	slog.Debug("barge-in candidate opened", "debounce", a.debounce)
}

// speechStopped resolves a pending candidate by total speech length. A stop
// with no matching start is a no-op.
func (a *arbiter) speechStopped() {
	if a.state != speechPending {
		return
	}
	a.stopDebounce()
	elapsed := a.now().Sub(a.speechStart)
	if elapsed < a.minSustained {
		a.dismiss(elapsed)
		return
	}
	a.confirm(elapsed)
}

// debounceFired resolves a candidate whose speech is still ongoing.
func (a *arbiter) debounceFired() {
	a.cancelDebounce = nil
	if a.state != speechPending {
		return
	}
	elapsed := a.now().Sub(a.speechStart)
	if elapsed < a.minSustained/2 {
		a.dismiss(elapsed)
		return
	}
	a.confirm(elapsed)
}

func (a *arbiter) confirm(elapsed time.Duration) {
	a.state = confirmed
	slog.Info("interruption confirmed", "speech", elapsed)
	a.onConfirmed()
	// Teardown completed synchronously inside the event loop; at most one
	// interruption can fire per candidate.
	a.state = quiet
}

func (a *arbiter) dismiss(elapsed time.Duration) {
	a.state = quiet
	slog.Debug("speech dismissed as transient", "speech", elapsed)
	if a.onNoise != nil {
		a.onNoise()
	}
}

func (a *arbiter) stopDebounce() {
	if a.cancelDebounce != nil {
		a.cancelDebounce()
		a.cancelDebounce = nil
	}
}

// reset abandons any pending candidate, e.g. on shutdown.
func (a *arbiter) reset() {
	a.stopDebounce()
	a.state = quiet
}
