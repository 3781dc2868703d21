package cartsync

import (
	"sync"
	"time"
)

// Sequencer hands out strictly increasing push sequence numbers. Values track
// wall-clock nanoseconds so a restarted or second device keeps outranking
// older writes. Observe lifts the floor when the server reports a higher seq
// written by a device whose clock runs ahead.
type Sequencer struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewSequencer(now func() time.Time) *Sequencer {
	if now == nil {
		now = time.Now
	}
	return &Sequencer{now: now}
}

// Observe makes later values exceed seen.
func (s *Sequencer) Observe(seen int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seen > s.last {
		s.last = seen
	}
}

func (s *Sequencer) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.now().UnixNano()
	if next <= s.last {
		next = s.last + 1
	}
	s.last = next
	return next
}
