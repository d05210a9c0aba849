// Package timeline defines the hardware playback timeline abstraction used by
// the Parley engine.
//
// A [Timeline] models an output clock that only moves forward: audio is
// placed on it as immutable [Segment] values with fixed start times, and the
// clock cannot be paused or rewound by the caller. The engine owns exactly
// one Timeline per session and is the only writer.
//
// Implementations are provided by device-specific packages (see
// timeline/malgodev for the miniaudio playback device) and by
// timeline/timelinetest for a manually-advanced test double.
package timeline

import (
	"errors"
	"time"
)

// ErrClosed is returned by [Timeline.Schedule] after the timeline has been
// closed.
var ErrClosed = errors.New("timeline: closed")

// ErrSuspended is returned by [Timeline.Schedule] while the underlying output
// device is suspended. The caller should retain the samples, call
// [Timeline.Resume], and try again on the next data arrival.
var ErrSuspended = errors.New("timeline: output device suspended")

// Segment is the engine's weak handle to audio already submitted to the
// timeline. The timeline owns the samples once scheduled; the handle only
// allows early termination and start/duration inspection.
//
// Implementations must be safe for concurrent use.
type Segment interface {
	// Start returns the timeline position at which the segment begins.
	Start() time.Duration

	// Duration returns the segment's playback duration at the timeline's
	// sample rate.
	Duration() time.Duration

	// Stop terminates the segment early. A non-zero fade applies a linear
	// gain ramp of that length before silencing, avoiding an audible click
	// on a segment that is physically sounding. Stopping a segment that has
	// already ended is a no-op. The end notification still fires exactly
	// once.
	Stop(fade time.Duration)
}

// Timeline is a monotonic hardware output clock that plays scheduled
// segments.
//
// Implementations must be safe for concurrent use, although Parley drives a
// Timeline from a single goroutine.
type Timeline interface {
	// Now returns the current position of the hardware clock. It is
	// monotonic: successive calls never go backwards.
	Now() time.Duration

	// SampleRate returns the sample rate segments are scheduled at.
	SampleRate() int

	// Schedule places samples on the timeline starting at start and returns
	// a handle to the new segment. onEnded is invoked exactly once, from an
	// unspecified goroutine, when the segment finishes sounding or is
	// stopped; it must not block. Scheduling zero samples is a no-op and
	// returns a nil Segment.
	Schedule(samples []float32, start time.Duration, onEnded func()) (Segment, error)

	// Resume attempts to (re)start a suspended output device. It is a no-op
	// when the device is already running.
	Resume() error

	// Close stops playback, releases the device, and discards all scheduled
	// segments without firing their end notifications. Close is idempotent.
	Close() error
}
