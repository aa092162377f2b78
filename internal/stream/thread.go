// Package stream merges streamed assistant responses into an ordered
// conversation thread.
package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/pkg/metrics"
)

var (
	// ErrSuperseded is returned when a session is no longer the thread's current one.
	ErrSuperseded = errors.New("stream session superseded")
	// ErrNoUserTurn is returned by Rewind when the thread has no user turn.
	ErrNoUserTurn = errors.New("no user turn to regenerate from")
	// ErrTurnNotFound is returned when a turn id is not in the thread.
	ErrTurnNotFound = errors.New("turn not found")
)

// Option configures a Thread.
type Option func(*Thread)

// WithClock overrides the time source used for throttling and timestamps.
func WithClock(clock func() time.Time) Option {
	return func(t *Thread) {
		t.clock = clock
	}
}

// WithInterval overrides the minimum push interval of new sessions.
func WithInterval(interval time.Duration) Option {
	return func(t *Thread) {
		t.interval = interval
	}
}

// WithObserver registers a callback that receives a copy of the turns after
// every change a push applies. Calls are serialized and never go back to an
// older state. The callback must not push to the thread.
func WithObserver(fn func([]model.Turn)) Option {
	return func(t *Thread) {
		t.observer = fn
	}
}

// Thread is the ordered turn sequence of one conversation. At most one session
// is current; its turn, once inserted, is always the last element.
type Thread struct {
	clock    func() time.Time
	interval time.Duration
	observer func([]model.Turn)

	mu             sync.Mutex
	conversationID string
	turns          []model.Turn
	current        *Session
	version        uint64

	// notifyMu serializes observer calls; delivered is the newest version
	// handed to the observer.
	notifyMu  sync.Mutex
	delivered uint64
}

// snapshot is a copy of the turns tagged with the version it was taken at.
type snapshot struct {
	turns   []model.Turn
	version uint64
}

// NewThread creates a thread seeded with existing turns.
func NewThread(conversationID string, turns []model.Turn, opts ...Option) *Thread {
	t := &Thread{
		clock:          time.Now,
		interval:       DefaultInterval,
		conversationID: conversationID,
		turns:          append([]model.Turn(nil), turns...),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ConversationID returns the owning conversation.
func (t *Thread) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID
}

// Reset replaces the thread contents, aborting any current session.
func (t *Thread) Reset(conversationID string, turns []model.Turn) {
	t.mu.Lock()
	t.abortLocked()
	t.conversationID = conversationID
	t.turns = append([]model.Turn(nil), turns...)
	t.mu.Unlock()
}

// Turns returns a copy of the sequence.
func (t *Thread) Turns() []model.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Append commits a turn at the end of the sequence. A session still in flight
// is aborted first so that its turn can never end up before this one.
func (t *Thread) Append(turn model.Turn) {
	t.mu.Lock()
	t.abortLocked()
	if turn.ConversationID == "" {
		turn.ConversationID = t.conversationID
	}
	t.turns = append(t.turns, turn)
	t.mu.Unlock()
}

// Begin starts a session for the next assistant response, superseding any
// previous one.
func (t *Thread) Begin() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.abortLocked()
	s := newSession(t.clock, t.interval)
	t.current = s
	return s
}

// Current returns the in-flight session, if any.
func (t *Thread) Current() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Push reconciles the session buffer into the thread. It reports whether the
// sequence changed. Pushes from superseded or ended sessions are ignored.
func (t *Thread) Push(s *Session) bool {
	s.release()

	t.mu.Lock()
	if t.current != s || s.terminal() {
		t.mu.Unlock()
		metrics.StreamPushesTotal.WithLabelValues("ignored").Inc()
		return false
	}
	changed := t.reconcileLocked(s)
	snap := t.notifyLocked(changed)
	t.mu.Unlock()

	t.notify(snap)
	return changed
}

// Finalize runs the terminal reconciliation and ends the session. It returns
// the finished assistant turn, or nil when the stream produced no text.
func (t *Thread) Finalize(s *Session) (*model.Turn, error) {
	t.mu.Lock()
	if t.current != s || s.terminal() {
		t.mu.Unlock()
		return nil, ErrSuperseded
	}

	changed := t.reconcileLocked(s)
	s.setState(StateFinalized)
	t.current = nil
	metrics.StreamSessionsTotal.WithLabelValues(StateFinalized.String()).Inc()

	var final *model.Turn
	if i := t.indexLocked(s.turnID); i >= 0 {
		turn := t.turns[i]
		final = &turn
	}
	snap := t.notifyLocked(changed)
	t.mu.Unlock()

	t.notify(snap)
	return final, nil
}

// Abort ends the session and removes its speculative turn.
func (t *Thread) Abort(s *Session) {
	t.mu.Lock()
	if t.current != s {
		t.mu.Unlock()
		return
	}
	removed := t.abortLocked()
	snap := t.notifyLocked(removed)
	t.mu.Unlock()

	t.notify(snap)
}

// Rewind prepares a regeneration: it drops every turn after the most recent
// user turn and returns the remaining history together with the dropped ids.
func (t *Thread) Rewind() ([]model.Turn, []string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.abortLocked()

	last := -1
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].Role == model.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		return nil, nil, ErrNoUserTurn
	}

	var dropped []string
	for _, turn := range t.turns[last+1:] {
		dropped = append(dropped, turn.ID)
	}
	t.turns = t.turns[:last+1]

	return t.snapshotLocked(), dropped, nil
}

// SetPinned toggles the pinned flag of a turn.
func (t *Thread) SetPinned(id string, pinned bool) (model.Turn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(id)
	if i < 0 {
		return model.Turn{}, ErrTurnNotFound
	}
	t.turns[i].Pinned = pinned
	return t.turns[i], nil
}

func (t *Thread) reconcileLocked(s *Session) bool {
	text := s.Text()

	if n := len(t.turns); n > 0 && t.turns[n-1].ID == s.turnID {
		if t.turns[n-1].Content == text {
			metrics.StreamPushesTotal.WithLabelValues("unchanged").Inc()
			return false
		}
		t.turns[n-1].Content = text
		metrics.StreamPushesTotal.WithLabelValues("update").Inc()
		return true
	}

	// No blank assistant turn is ever shown.
	if text == "" {
		metrics.StreamPushesTotal.WithLabelValues("empty").Inc()
		return false
	}

	t.turns = append(t.turns, model.Turn{
		ID:             s.turnID,
		ConversationID: t.conversationID,
		Role:           model.RoleAssistant,
		Content:        text,
		CreatedAt:      s.createdAt,
	})
	s.setState(StateStarted)
	metrics.StreamPushesTotal.WithLabelValues("insert").Inc()
	return true
}

// abortLocked ends the current session, if any, and reports whether its turn
// had to be removed.
func (t *Thread) abortLocked() bool {
	s := t.current
	if s == nil {
		return false
	}
	t.current = nil
	s.setState(StateAborted)
	metrics.StreamSessionsTotal.WithLabelValues(StateAborted.String()).Inc()

	i := t.indexLocked(s.turnID)
	if i < 0 {
		return false
	}
	t.turns = append(t.turns[:i], t.turns[i+1:]...)
	return true
}

func (t *Thread) indexLocked(id string) int {
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Thread) snapshotLocked() []model.Turn {
	out := make([]model.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Thread) notifyLocked(changed bool) *snapshot {
	if !changed || t.observer == nil {
		return nil
	}
	t.version++
	return &snapshot{turns: t.snapshotLocked(), version: t.version}
}

// notify hands a snapshot to the observer unless a newer one has already been
// delivered. Snapshots are taken under t.mu but delivered after it is
// released, so a push on a scheduler goroutine can arrive late.
func (t *Thread) notify(snap *snapshot) {
	if snap == nil {
		return
	}
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if snap.version <= t.delivered {
		metrics.StreamPushesTotal.WithLabelValues("stale").Inc()
		return
	}
	t.delivered = snap.version
	t.observer(snap.turns)
}
