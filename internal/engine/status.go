package engine

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the conversational state, suitable for
// a status surface (health endpoint, TUI, logging).
type Snapshot struct {
	// Speaking reports whether assistant audio is audibly playing.
	Speaking bool `json:"speaking"`

	// Listening reports whether the session is accepting user speech as the
	// primary turn. It is the complement of Speaking while the session runs.
	Listening bool `json:"listening"`

	// Phase is a short human-readable description of the current phase, one
	// of: idle, listening, responding, speaking, interrupted, stopped.
	Phase string `json:"phase"`
}

// LogEntry is one line of the bounded in-memory event journal.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

const journalCap = 128

// Status is the engine's externally readable state. Writes happen only on the
// event loop; reads may come from any goroutine (health handlers, tests), so
// a mutex guards the fields.
type Status struct {
	mu        sync.Mutex
	speaking  bool
	listening bool
	phase     string
	journal   []LogEntry
	onChange  func(Snapshot)
}

func newStatus(onChange func(Snapshot)) *Status {
	return &Status{phase: "idle", listening: true, onChange: onChange}
}

// Snapshot returns the current state.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Speaking: s.speaking, Listening: s.listening, Phase: s.phase}
}

// Journal returns a copy of the bounded event journal, oldest first.
func (s *Status) Journal() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.journal))
	copy(out, s.journal)
	return out
}

func (s *Status) setSpeaking(speaking bool) {
	s.mu.Lock()
	s.speaking = speaking
	s.listening = !speaking
	snap := s.snapshotLocked()
	cb := s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb(snap)
	}
}

func (s *Status) setPhase(phase string) {
	s.mu.Lock()
	s.phase = phase
	snap := s.snapshotLocked()
	cb := s.onChange
	s.mu.Unlock()
	if cb != nil {
		cb(snap)
	}
}

func (s *Status) log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.journal) >= journalCap {
		copy(s.journal, s.journal[1:])
		s.journal = s.journal[:journalCap-1]
	}
	s.journal = append(s.journal, LogEntry{Time: time.Now(), Message: msg})
}

func (s *Status) snapshotLocked() Snapshot {
	return Snapshot{Speaking: s.speaking, Listening: s.listening, Phase: s.phase}
}
