package stream

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/streamchat/pkg/metrics"
)

// State is the lifecycle position of a session.
type State int

const (
	// StateIdle means the assistant turn has not been inserted yet.
	StateIdle State = iota
	// StateStarted means the assistant turn is in the thread and receiving pushes.
	StateStarted
	// StateFinalized means the stream ended and the turn holds the full buffer.
	StateFinalized
	// StateAborted means the stream failed or was superseded.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateFinalized:
		return "finalized"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Session tracks one in-progress assistant response. It is created by
// Thread.Begin, never persisted and never reused.
type Session struct {
	id        string
	turnID    string
	createdAt time.Time
	clock     func() time.Time

	mu       sync.Mutex
	buf      strings.Builder
	throttle *Throttler
	state    State
	deltas   int
}

func newSession(clock func() time.Time, interval time.Duration) *Session {
	return &Session{
		id:        uuid.NewString(),
		turnID:    uuid.Must(uuid.NewV7()).String(),
		createdAt: clock(),
		clock:     clock,
		throttle:  NewThrottler(interval),
	}
}

// ID identifies the session.
func (s *Session) ID() string {
	return s.id
}

// TurnID is the id reserved for the assistant turn.
func (s *Session) TurnID() string {
	return s.turnID
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns the accumulated buffer.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Deltas returns how many fragments were appended.
func (s *Session) Deltas() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deltas
}

// Append adds a fragment to the buffer and reports whether a push should be
// scheduled for it.
func (s *Session) Append(delta string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateFinalized || s.state == StateAborted {
		return false
	}
	s.buf.WriteString(delta)
	s.deltas++
	metrics.StreamDeltasTotal.Inc()

	return s.throttle.Ready(s.clock())
}

func (s *Session) release() {
	s.mu.Lock()
	s.throttle.Release()
	s.mu.Unlock()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateFinalized || s.state == StateAborted
}
