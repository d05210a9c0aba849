// Package timelinetest provides a deterministic, manually-advanced
// [timeline.Timeline] implementation for tests.
//
// The clock only moves when [Timeline.Advance] is called; end notifications
// fire synchronously from Advance, in segment start order, on the caller's
// goroutine. This makes scheduler and engine behaviour fully reproducible
// without sleeping on real hardware.
package timelinetest

import (
	"sync"
	"time"

	"github.com/parleyvoice/parley/pkg/timeline"
)

// Segment is the recorded form of one scheduled segment. It implements
// [timeline.Segment] and additionally exposes the raw samples and stop state
// for assertions.
type Segment struct {
	tl *Timeline

	// Samples is the exact sample slice passed to Schedule.
	Samples []float32

	// StartAt is the timeline position the segment was placed at.
	StartAt time.Duration

	mu       sync.Mutex
	stopped  bool
	fade     time.Duration
	stopTime time.Duration
	ended    bool
	onEnded  func()
}

// Start implements [timeline.Segment].
func (s *Segment) Start() time.Duration { return s.StartAt }

// Duration implements [timeline.Segment].
func (s *Segment) Duration() time.Duration {
	return time.Duration(int64(len(s.Samples)) * int64(time.Second) / int64(s.tl.rate))
}

// End returns the timeline position at which the segment naturally ends.
func (s *Segment) End() time.Duration { return s.StartAt + s.Duration() }

// Stop implements [timeline.Segment]. The segment's end notification fires
// once the clock has advanced past the current position plus the fade.
func (s *Segment) Stop(fade time.Duration) {
	s.tl.mu.Lock()
	now := s.tl.now
	s.tl.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.ended {
		return
	}
	s.stopped = true
	s.fade = fade
	s.stopTime = now
}

// Stopped reports whether Stop has been called, and with which fade.
func (s *Segment) Stopped() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped, s.fade
}

// Ended reports whether the end notification has fired.
func (s *Segment) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// endsAt returns the effective end position: natural end, or stop time plus
// fade for stopped segments, whichever is earlier.
func (s *Segment) endsAt() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.StartAt + time.Duration(int64(len(s.Samples))*int64(time.Second)/int64(s.tl.rate))
	if s.stopped {
		if se := s.stopTime + s.fade; se < end {
			end = se
		}
	}
	return end
}

// Timeline is a manually-clocked [timeline.Timeline].
type Timeline struct {
	rate int

	mu     sync.Mutex
	now    time.Duration
	segs   []*Segment
	closed bool

	// ScheduleErr, when non-nil, is returned by the next Schedule call and
	// then cleared. Used to simulate a suspended output device.
	ScheduleErr error

	// ResumeErr is returned by every Resume call while set.
	ResumeErr error

	resumeCalls int
}

var _ timeline.Timeline = (*Timeline)(nil)

// New creates a Timeline with the given sample rate and the clock at zero.
func New(rate int) *Timeline {
	return &Timeline{rate: rate}
}

// Now implements [timeline.Timeline].
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// SampleRate implements [timeline.Timeline].
func (t *Timeline) SampleRate() int { return t.rate }

// Schedule implements [timeline.Timeline].
func (t *Timeline) Schedule(samples []float32, start time.Duration, onEnded func()) (timeline.Segment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, timeline.ErrClosed
	}
	if err := t.ScheduleErr; err != nil {
		t.ScheduleErr = nil
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	cp := make([]float32, len(samples))
	copy(cp, samples)
	seg := &Segment{
		tl:      t,
		Samples: cp,
		StartAt: start,
		onEnded: onEnded,
	}
	t.segs = append(t.segs, seg)
	return seg, nil
}

// Resume implements [timeline.Timeline].
func (t *Timeline) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumeCalls++
	return t.ResumeErr
}

// ResumeCalls returns how many times Resume has been called.
func (t *Timeline) ResumeCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumeCalls
}

// Close implements [timeline.Timeline].
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Scheduled returns all segments scheduled so far, in scheduling order.
func (t *Timeline) Scheduled() []*Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Segment, len(t.segs))
	copy(out, t.segs)
	return out
}

// Advance moves the clock forward by d and synchronously fires the end
// notification of every segment whose effective end the clock has passed,
// in start order.
func (t *Timeline) Advance(d time.Duration) {
	t.mu.Lock()
	t.now += d
	now := t.now
	segs := make([]*Segment, len(t.segs))
	copy(segs, t.segs)
	t.mu.Unlock()

	for _, seg := range segs {
		if seg.endsAt() > now {
			continue
		}
		seg.mu.Lock()
		fire := !seg.ended
		seg.ended = true
		cb := seg.onEnded
		seg.mu.Unlock()
		if fire && cb != nil {
			cb()
		}
	}
}
