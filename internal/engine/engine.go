// Package engine implements the client-side playback and turn-taking core of
// a Parley session: it accumulates streamed assistant audio, schedules it
// gaplessly on a hardware timeline, tracks when the assistant is audibly
// speaking, and arbitrates user barge-ins against that state.
//
// All mutable state is owned by a single event-loop goroutine. Transport
// callbacks, timer callbacks and timeline end notifications post closures
// onto the loop instead of touching state directly, so no component below the
// Engine needs a lock.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyvoice/parley/internal/latency"
	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/timeline"
)

// Config holds the tunable playback and interruption parameters. The zero
// value of any field is replaced by its default.
type Config struct {
	// SampleRate is the session sample rate in Hz.
	SampleRate int

	// MinStartupBuffer is the amount of audio accumulated before the first
	// segment of an utterance is scheduled.
	MinStartupBuffer time.Duration

	// SteadyChunk is the emission threshold once streaming.
	SteadyChunk time.Duration

	// MaxBuffer bounds how much audio may sit unscheduled in the
	// accumulator.
	MaxBuffer time.Duration

	// Lookahead is the safety margin ahead of the hardware clock used when
	// the next-start cursor has to be rebased.
	Lookahead time.Duration

	// FirstLookahead is the larger margin used for the first segment of an
	// utterance, giving the pipeline time to settle.
	FirstLookahead time.Duration

	// FlushTimeout drains the accumulator when the audio stream stalls
	// mid-response without a terminal event.
	FlushTimeout time.Duration

	// CompletionGrace debounces the transition from speaking to silent.
	CompletionGrace time.Duration

	// InterruptionDebounce is how long a barge-in candidate may remain
	// unresolved before it is decided on the evidence so far.
	InterruptionDebounce time.Duration

	// MinSustainedSpeech is the minimum user speech length for a barge-in;
	// half of it suffices when speech is still ongoing at debounce time.
	MinSustainedSpeech time.Duration

	// FadeOut is the gain ramp applied when cancelling audible segments.
	FadeOut time.Duration
}

// DefaultConfig returns the tuning used in production sessions.
func DefaultConfig() Config {
	return Config{
		SampleRate:           24000,
		MinStartupBuffer:     150 * time.Millisecond,
		SteadyChunk:          120 * time.Millisecond,
		MaxBuffer:            500 * time.Millisecond,
		Lookahead:            50 * time.Millisecond,
		FirstLookahead:       150 * time.Millisecond,
		FlushTimeout:         time.Second,
		CompletionGrace:      150 * time.Millisecond,
		InterruptionDebounce: 300 * time.Millisecond,
		MinSustainedSpeech:   400 * time.Millisecond,
		FadeOut:              50 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.MinStartupBuffer <= 0 {
		c.MinStartupBuffer = d.MinStartupBuffer
	}
	if c.SteadyChunk <= 0 {
		c.SteadyChunk = d.SteadyChunk
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = d.MaxBuffer
	}
	if c.Lookahead <= 0 {
		c.Lookahead = d.Lookahead
	}
	if c.FirstLookahead <= 0 {
		c.FirstLookahead = d.FirstLookahead
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	if c.CompletionGrace <= 0 {
		c.CompletionGrace = d.CompletionGrace
	}
	if c.InterruptionDebounce <= 0 {
		c.InterruptionDebounce = d.InterruptionDebounce
	}
	if c.MinSustainedSpeech <= 0 {
		c.MinSustainedSpeech = d.MinSustainedSpeech
	}
	if c.FadeOut < 0 {
		c.FadeOut = d.FadeOut
	}
	return c
}

// Option customises an Engine.
type Option func(*Engine)

// WithMetrics attaches session metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLatencyTracker attaches a shared latency tracker, usually the same one
// the transport client reports connection timings to.
func WithLatencyTracker(t *latency.Tracker) Option {
	return func(e *Engine) { e.lat = t }
}

// WithStatusCallback registers a callback invoked on every speaking or phase
// change. The callback runs on the event loop and must not block.
func WithStatusCallback(fn func(Snapshot)) Option {
	return func(e *Engine) { e.onStatus = fn }
}

// WithResponseCancel registers a callback invoked after a confirmed barge-in,
// wired to the transport's response cancellation so the server stops
// generating audio the client will no longer play. It runs on the event loop
// and must not block; callers doing network writes should hand off to their
// own goroutine.
func WithResponseCancel(fn func()) Option {
	return func(e *Engine) { e.cancelResponse = fn }
}

// WithSessionID overrides the generated session id used in log lines.
func WithSessionID(id string) Option {
	return func(e *Engine) { e.sessionID = id }
}

// Engine coordinates one playback session. Its exported methods are safe to
// call from any goroutine; they post work onto the internal event loop.
type Engine struct {
	cfg Config
	tl  timeline.Timeline

	acc     *audio.Accumulator
	sched   *scheduler
	tracker *completionTracker
	arb     *arbiter
	status  *Status

	metrics        *observe.Metrics
	lat            *latency.Tracker
	onStatus       func(Snapshot)
	cancelResponse func()
	sessionID      string
	log            *slog.Logger

	events    chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	cancelFlush func()
}

// New creates an Engine on the given timeline and starts its event loop. The
// Engine takes ownership of the timeline and closes it on [Engine.Close].
func New(cfg Config, tl timeline.Timeline, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		tl:      tl,
		events:  make(chan func(), 128),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sessionID == "" {
		e.sessionID = uuid.NewString()
	}
	e.log = slog.With("session", e.sessionID)
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	if e.lat == nil {
		e.lat = latency.New(e.sessionID, e.metrics)
	}

	e.status = newStatus(e.onStatus)
	e.acc = audio.NewAccumulator(audio.SampleCount(cfg.MaxBuffer, cfg.SampleRate))
	e.sched = newScheduler(cfg, tl, e.acc, e.place)
	e.tracker = newCompletionTracker(cfg.CompletionGrace, e.after, e.post, e.speakingChanged)
	e.arb = newArbiter(cfg, e.after, e.tracker.speakingNow, e.confirmInterruption, e.dismissedNoise)

	go e.run()
	e.log.Info("session engine started",
		"sample_rate", cfg.SampleRate,
		"min_startup", cfg.MinStartupBuffer,
		"steady_chunk", cfg.SteadyChunk,
	)
	return e
}

// OnAudioDelta feeds one frame of assistant audio as PCM16 little-endian
// bytes.
func (e *Engine) OnAudioDelta(frame []byte) {
	e.post(func() { e.handleAudio(frame) })
}

// OnSpeechStarted reports that the speech detector heard the user start
// talking.
func (e *Engine) OnSpeechStarted() {
	e.post(func() {
		e.lat.SpeechStarted()
		e.status.log("user speech started")
		e.arb.speechStarted()
	})
}

// OnSpeechStopped reports that the speech detector heard the user stop.
func (e *Engine) OnSpeechStopped() {
	e.post(func() {
		e.lat.SpeechStopped()
		e.arb.speechStopped()
	})
}

// OnTranscriptDelta reports a fragment of the assistant's transcript. Text
// streams ahead of audio, so its first fragment is the earliest proof the
// model is responding; only that timing is kept, the text itself is not.
func (e *Engine) OnTranscriptDelta(string) {
	e.post(func() { e.lat.TranscriptDelta() })
}

// OnResponseCreated marks the start of a new assistant response.
func (e *Engine) OnResponseCreated() {
	e.post(func() {
		e.lat.ResponseCreated()
		e.sched.beginUtterance()
		e.status.setPhase("responding")
	})
}

// OnResponseDone marks the end of the assistant response stream; remaining
// buffered audio is flushed regardless of thresholds.
func (e *Engine) OnResponseDone() {
	e.post(func() {
		e.lat.ResponseDone()
		e.stopFlushTimer()
		e.sched.drain()
	})
}

// OnServerError surfaces a server-reported error on the status journal.
func (e *Engine) OnServerError(err error) {
	e.post(func() {
		e.log.Error("server reported error", "err", err)
		e.status.log("server error: " + err.Error())
	})
}

// Speaking reports whether assistant audio is audibly playing.
func (e *Engine) Speaking() bool { return e.status.Snapshot().Speaking }

// Listening reports whether the session currently treats user speech as the
// primary turn.
func (e *Engine) Listening() bool { return e.status.Snapshot().Listening }

// Status returns the current status snapshot.
func (e *Engine) Status() Snapshot { return e.status.Snapshot() }

// Journal returns the bounded in-memory event journal.
func (e *Engine) Journal() []LogEntry { return e.status.Journal() }

// State reports the scheduler's playback state. It round-trips through the
// event loop, so it also serves as a synchronisation point in tests.
func (e *Engine) State() PlaybackState {
	ch := make(chan PlaybackState, 1)
	e.post(func() { ch <- e.sched.state })
	select {
	case s := <-ch:
		return s
	case <-e.stopped:
		return StateIdle
	}
}

// Close cancels all playback, releases the timeline, and stops the event
// loop. It is idempotent and safe to call concurrently; every call blocks
// until shutdown has completed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.post(e.shutdown)
	})
	<-e.stopped
	return nil
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			return
		case fn := <-e.events:
			fn()
		}
	}
}

// post enqueues fn for the event loop; it is dropped if the engine has shut
// down.
func (e *Engine) post(fn func()) {
	select {
	case e.events <- fn:
	case <-e.done:
	}
}

// after arms a timer whose callback runs on the event loop.
func (e *Engine) after(d time.Duration, fn func()) (cancel func()) {
	t := time.AfterFunc(d, func() { e.post(fn) })
	return func() { t.Stop() }
}

// handleAudio ingests one wire frame. While the output device is suspended
// the accumulator keeps filling so short outages lose nothing; retention is
// bounded at MaxBuffer, beyond which frames are dropped and counted rather
// than growing the backlog without limit.
func (e *Engine) handleAudio(frame []byte) {
	e.metrics.FrameReceived(len(frame))

	if e.sched.suspended {
		if err := e.tl.Resume(); err != nil {
			e.log.Warn("output device still unavailable", "err", err)
			e.metrics.DeviceResume("failed")
		} else {
			e.log.Info("output device resumed")
			e.metrics.DeviceResume("ok")
			e.sched.suspended = false
		}
	}
	if e.sched.suspended && e.acc.Len() >= e.sched.maxBuffer {
		// Bounded retention while the device is down.
		e.metrics.FrameDropped("device_suspended")
		return
	}

	samples, err := audio.DecodePCM16(frame)
	if err != nil {
		e.log.Warn("dropping malformed audio frame", "err", err, "bytes", len(frame))
		e.metrics.FrameDropped("malformed")
		return
	}

	e.lat.AudioDelta(len(frame))
	e.sched.append(samples)
	e.resetFlushTimer()
}

// place registers a segment with the completion tracker and submits it to
// the timeline.
func (e *Engine) place(samples []float32, start time.Duration) (timeline.Segment, error) {
	seg, err := e.tracker.track(func(onEnded func()) (timeline.Segment, error) {
		return e.tl.Schedule(samples, start, onEnded)
	})
	if err == nil && seg != nil {
		e.metrics.SegmentScheduled(audio.Duration(len(samples), e.cfg.SampleRate))
	}
	return seg, err
}

func (e *Engine) speakingChanged(speaking bool) {
	e.metrics.SpeakingChanged(speaking)
	e.status.setSpeaking(speaking)
	if speaking {
		e.status.setPhase("speaking")
	} else {
		e.sched.utteranceFinished()
		e.status.setPhase("listening")
	}
	e.log.Debug("speaking state changed", "speaking", speaking)
}

// confirmInterruption tears playback down after the arbiter confirms a
// barge-in: audible segments fade out, pending samples are discarded, the
// cursor rebases at the current hardware time, and the transport is asked to
// stop generating the rest of the response.
func (e *Engine) confirmInterruption() {
	e.stopFlushTimer()
	n := e.tracker.cancelAll(e.cfg.FadeOut)
	e.sched.interrupt()
	if e.cancelResponse != nil {
		e.cancelResponse()
	}
	e.metrics.Interruption("confirmed")
	e.metrics.SegmentsStopped(n)
	e.status.setPhase("interrupted")
	e.status.log("barge-in confirmed, playback cancelled")
	e.log.Info("barge-in confirmed, playback cancelled", "segments", n, "fade", e.cfg.FadeOut)
}

func (e *Engine) dismissedNoise() {
	e.metrics.Interruption("dismissed")
}

func (e *Engine) resetFlushTimer() {
	e.stopFlushTimer()
	e.cancelFlush = e.after(e.cfg.FlushTimeout, e.flushTimerFired)
}

func (e *Engine) stopFlushTimer() {
	if e.cancelFlush != nil {
		e.cancelFlush()
		e.cancelFlush = nil
	}
}

func (e *Engine) flushTimerFired() {
	e.cancelFlush = nil
	if e.acc.Len() == 0 {
		return
	}
	e.log.Debug("audio stream stalled, flushing remainder", "samples", e.acc.Len())
	e.sched.drain()
}

func (e *Engine) shutdown() {
	e.stopFlushTimer()
	e.arb.reset()
	e.tracker.cancelAll(0)
	e.sched.shutdown()
	if err := e.tl.Close(); err != nil {
		e.log.Warn("closing timeline", "err", err)
	}
	e.lat.SessionEnded()
	e.status.setPhase("stopped")
	e.status.log("session stopped")
	e.log.Info("session engine stopped")
	close(e.done)
}
