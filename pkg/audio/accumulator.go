package audio

// Accumulator is a growable buffer of pending, not-yet-scheduled samples.
// It makes no timing decisions: the playback scheduler inspects Len and cuts
// segments out of it; the accumulator only stores samples in arrival order.
//
// Accumulator is not safe for concurrent use. Appends and flushes must be
// sequenced by the caller — in Parley all mutation happens on the engine's
// single event-loop goroutine.
type Accumulator struct {
	samples []float32
}

// NewAccumulator creates an empty Accumulator with capacity for roughly
// hint samples. A hint of zero is valid.
func NewAccumulator(hint int) *Accumulator {
	return &Accumulator{samples: make([]float32, 0, hint)}
}

// Append adds samples to the end of the pending buffer in arrival order.
// Empty chunks are accepted and have no effect.
func (a *Accumulator) Append(chunk []float32) {
	a.samples = append(a.samples, chunk...)
}

// FlushAll atomically drains the entire pending buffer and returns it.
// Returns nil when the buffer is empty. The returned slice is owned by the
// caller; the accumulator retains its backing capacity for reuse.
func (a *Accumulator) FlushAll() []float32 {
	if len(a.samples) == 0 {
		return nil
	}
	out := make([]float32, len(a.samples))
	copy(out, a.samples)
	a.samples = a.samples[:0]
	return out
}

// Restore prepends samples back onto the front of the pending buffer. It is
// the undo path for a flush whose segment could not be placed on the
// timeline (e.g. the output device was suspended): the samples keep their
// original arrival order ahead of anything appended since.
func (a *Accumulator) Restore(samples []float32) {
	if len(samples) == 0 {
		return
	}
	merged := make([]float32, 0, len(samples)+len(a.samples))
	merged = append(merged, samples...)
	merged = append(merged, a.samples...)
	a.samples = merged
}

// Len reports the number of pending samples.
func (a *Accumulator) Len() int {
	return len(a.samples)
}

// Reset discards all pending samples, keeping the backing capacity.
func (a *Accumulator) Reset() {
	a.samples = a.samples[:0]
}
