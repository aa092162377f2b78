package stream

import (
	"time"
)

// DefaultInterval is the minimum spacing between pushes of one session.
const DefaultInterval = 50 * time.Millisecond

// Throttler decides when a buffered session should be pushed to the thread.
// It only gates pushes; the session buffer is updated on every delta.
type Throttler struct {
	interval time.Duration
	last     time.Time
	pending  bool
}

// NewThrottler creates a throttler. A non-positive interval uses DefaultInterval.
func NewThrottler(interval time.Duration) *Throttler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Throttler{interval: interval}
}

// Ready reports whether a push should be scheduled now. A true result marks a
// push as pending until Release is called.
func (t *Throttler) Ready(now time.Time) bool {
	if t.pending {
		return false
	}
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.pending = true
	t.last = now
	return true
}

// Release clears the pending flag once the scheduled push has run.
func (t *Throttler) Release() {
	t.pending = false
}

// Pending reports whether a push is scheduled but has not run yet.
func (t *Throttler) Pending() bool {
	return t.pending
}
