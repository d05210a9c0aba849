package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/timeline"
)

// PlaybackState describes where the scheduler is in an utterance's lifecycle.
type PlaybackState int

const (
	// StateIdle means nothing is scheduled and nothing is pending.
	StateIdle PlaybackState = iota

	// StateBuffering means samples are accumulating before first emission.
	StateBuffering

	// StateStreaming means segments are being emitted back-to-back.
	StateStreaming

	// StateDraining means no more input is expected and the remainder has
	// been flushed to the timeline.
	StateDraining
)

// String returns the human-readable name of the state.
func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// placeFunc submits a segment to the timeline at the given start position.
// The engine injects it so that every placed segment is also registered with
// the completion tracker.
type placeFunc func(samples []float32, start time.Duration) (timeline.Segment, error)

// scheduler decides when to cut the accumulator into a segment and where on
// the timeline to place it. It owns the monotonic next-start cursor that
// guarantees zero-gap, zero-overlap adjacency between consecutive segments:
// arrival irregularity is absorbed entirely by the accumulator, never by the
// timeline.
//
// scheduler is not safe for concurrent use; the engine event loop is its only
// caller.
type scheduler struct {
	tl    timeline.Timeline
	acc   *audio.Accumulator
	place placeFunc

	rate        int
	minStartup  int // samples
	steadyChunk int // samples
	maxBuffer   int // samples

	lookahead      time.Duration
	firstLookahead time.Duration

	cursor       time.Duration
	state        PlaybackState
	firstSegment bool
	suspended    bool
}

func newScheduler(cfg Config, tl timeline.Timeline, acc *audio.Accumulator, place placeFunc) *scheduler {
	return &scheduler{
		tl:             tl,
		acc:            acc,
		place:          place,
		rate:           cfg.SampleRate,
		minStartup:     audio.SampleCount(cfg.MinStartupBuffer, cfg.SampleRate),
		steadyChunk:    audio.SampleCount(cfg.SteadyChunk, cfg.SampleRate),
		maxBuffer:      audio.SampleCount(cfg.MaxBuffer, cfg.SampleRate),
		lookahead:      cfg.Lookahead,
		firstLookahead: cfg.FirstLookahead,
		state:          StateIdle,
		firstSegment:   true,
	}
}

// append adds decoded samples in arrival order and applies the buffering
// policy. Data arriving while idle implicitly begins a new utterance.
func (s *scheduler) append(samples []float32) {
	s.acc.Append(samples)
	if s.state == StateIdle || s.state == StateDraining {
		s.state = StateBuffering
	}
	s.tick()
}

// tick evaluates the buffering thresholds and emits a segment when one is
// crossed. The max-buffer bound applies in every state so latency debt and
// memory stay bounded even under a misconfigured threshold pair.
func (s *scheduler) tick() {
	n := s.acc.Len()
	switch s.state {
	case StateBuffering:
		if n >= s.minStartup || n >= s.maxBuffer {
			if s.emit() {
				s.state = StateStreaming
			}
		}
	case StateStreaming:
		if n >= s.steadyChunk {
			s.emit()
		}
	}
}

// drain emits whatever remains regardless of thresholds. Draining an empty
// accumulator is a no-op: no segment is created and no state changes, so
// rapid consecutive flushes are idempotent.
func (s *scheduler) drain() {
	if s.acc.Len() == 0 {
		return
	}
	if s.emit() {
		s.state = StateDraining
	}
}

// emit flushes the entire pending buffer into one segment placed at the
// next-start cursor. The cursor is reset to now+lookahead when it has fallen
// into the past (or too close to it), which both prevents scheduling behind
// the hardware clock and silently recovers from event-loop stalls. The very
// first segment of an utterance uses the larger stability lookahead.
func (s *scheduler) emit() bool {
	samples := s.acc.FlushAll()
	if len(samples) == 0 {
		return false
	}

	now := s.tl.Now()
	la := s.lookahead
	if s.firstSegment {
		la = s.firstLookahead
	}
	if s.cursor <= now+la {
		s.cursor = now + la
	}

	if _, err := s.place(samples, s.cursor); err != nil {
		// Keep the samples: the device may come back on the next arrival.
		s.acc.Restore(samples)
		s.suspended = errors.Is(err, timeline.ErrSuspended)
		slog.Warn("segment placement failed, retaining samples",
			"err", err,
			"samples", len(samples),
			"state", s.state.String(),
		)
		return false
	}

	s.cursor += audio.Duration(len(samples), s.rate)
	s.firstSegment = false
	return true
}

// beginUtterance resets buffering mode for the next remote response.
func (s *scheduler) beginUtterance() {
	s.state = StateBuffering
	s.firstSegment = true
}

// utteranceFinished is called when all scheduled audio has actually finished
// sounding; it returns the scheduler to rest for the next utterance.
func (s *scheduler) utteranceFinished() {
	if s.state == StateStreaming || s.state == StateDraining {
		s.state = StateIdle
		s.firstSegment = true
	}
}

// interrupt discards all pending samples and rebases the cursor at the
// current hardware time so the next utterance starts fresh.
func (s *scheduler) interrupt() {
	s.acc.Reset()
	s.cursor = s.tl.Now()
	s.state = StateBuffering
	s.firstSegment = true
}

// shutdown clears all pending state.
func (s *scheduler) shutdown() {
	s.acc.Reset()
	s.state = StateIdle
	s.firstSegment = true
}
