package engine

import (
	"time"

	"github.com/parleyvoice/parley/pkg/timeline"
)

// timerFunc arms a one-shot timer whose callback runs on the engine event
// loop. It returns a cancel function. Injected so tests can drive timers
// deterministically.
type timerFunc func(d time.Duration, fn func()) (cancel func())

// completionTracker knows whether the assistant is audibly speaking. It keeps
// a registry of outstanding segments and debounces the transition to silence
// with a grace timer, so back-to-back segments with microscopic gaps between
// their end notifications read as one continuous utterance.
//
// The speaking flag it reports is the load-bearing input of the interruption
// arbiter: user speech only counts as a barge-in while speaking is true.
//
// completionTracker is not safe for concurrent use; the engine event loop is
// its only caller.
type completionTracker struct {
	grace      time.Duration
	after      timerFunc
	post       func(func())
	onSpeaking func(bool)

	outstanding map[uint64]timeline.Segment
	nextID      uint64
	speaking    bool
	cancelGrace func()
}

func newCompletionTracker(grace time.Duration, after timerFunc, post func(func()), onSpeaking func(bool)) *completionTracker {
	return &completionTracker{
		grace:       grace,
		after:       after,
		post:        post,
		onSpeaking:  onSpeaking,
		outstanding: make(map[uint64]timeline.Segment),
	}
}

// track reserves an identity for a segment, schedules it via the supplied
// closure, and registers the result. The identity is reserved before the
// timeline call so the end notification can never race registration, no
// matter how short the segment is.
func (t *completionTracker) track(schedule func(onEnded func()) (timeline.Segment, error)) (timeline.Segment, error) {
	id := t.nextID
	t.nextID++

	seg, err := schedule(func() {
		t.post(func() { t.segmentEnded(id) })
	})
	if err != nil || seg == nil {
		return seg, err
	}

	t.outstanding[id] = seg
	t.stopGrace()
	if !t.speaking {
		t.speaking = true
		t.onSpeaking(true)
	}
	return seg, nil
}

// segmentEnded removes a finished segment. When the registry empties, the
// grace timer starts; speaking only clears if nothing new is scheduled before
// it fires. Unknown ids are ignored, which makes late notifications for
// cancelled segments harmless.
func (t *completionTracker) segmentEnded(id uint64) {
	if _, ok := t.outstanding[id]; !ok {
		return
	}
	delete(t.outstanding, id)
	if len(t.outstanding) == 0 {
		t.startGrace()
	}
}

func (t *completionTracker) startGrace() {
	t.stopGrace()
	t.cancelGrace = t.after(t.grace, t.graceFired)
}

func (t *completionTracker) graceFired() {
	t.cancelGrace = nil
	if len(t.outstanding) == 0 && t.speaking {
		t.speaking = false
		t.onSpeaking(false)
	}
}

func (t *completionTracker) stopGrace() {
	if t.cancelGrace != nil {
		t.cancelGrace()
		t.cancelGrace = nil
	}
}

// cancelAll stops every outstanding segment with the given fade, empties the
// registry, and clears speaking immediately (no grace: the silence after an
// interruption is intentional). Returns how many segments were cancelled.
func (t *completionTracker) cancelAll(fade time.Duration) int {
	n := len(t.outstanding)
	for id, seg := range t.outstanding {
		seg.Stop(fade)
		delete(t.outstanding, id)
	}
	t.stopGrace()
	if t.speaking {
		t.speaking = false
		t.onSpeaking(false)
	}
	return n
}

// speakingNow reports whether assistant audio is currently audible. The value
// lags physical silence by up to the grace period, which is exactly what the
// arbiter wants.
func (t *completionTracker) speakingNow() bool {
	return t.speaking
}
