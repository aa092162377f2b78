package stream

import (
	"sync"
	"time"
)

// DefaultFrame approximates one display refresh.
const DefaultFrame = 16 * time.Millisecond

// Scheduler runs a push at the next render opportunity.
type Scheduler interface {
	Schedule(fn func())
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(fn func())

// Schedule calls f(fn).
func (f SchedulerFunc) Schedule(fn func()) {
	f(fn)
}

// Immediate runs every push inline.
var Immediate Scheduler = SchedulerFunc(func(fn func()) { fn() })

// FrameScheduler batches scheduled pushes onto a ticker goroutine.
type FrameScheduler struct {
	mu     sync.Mutex
	queue  []func()
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// NewFrameScheduler starts a scheduler that drains its queue every frame.
func NewFrameScheduler(frame time.Duration) *FrameScheduler {
	if frame <= 0 {
		frame = DefaultFrame
	}
	s := &FrameScheduler{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop(frame)
	return s
}

// Schedule queues fn for the next frame. After Close it runs fn inline.
func (s *FrameScheduler) Schedule(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
}

// Close stops the ticker after draining the queue.
func (s *FrameScheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}

func (s *FrameScheduler) loop(frame time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.drain()
			return
		case <-ticker.C:
			s.drain()
		}
	}
}

func (s *FrameScheduler) drain() {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, fn := range queue {
		fn()
	}
}
