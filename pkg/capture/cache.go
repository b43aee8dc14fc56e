package capture

import (
	"context"
	"sync"
)

// latestSlot is a single-slot, overwrite-on-arrival holder for the most
// recent frame paired with a wake signal. A newly arrived frame always
// replaces an unconsumed one; slow consumers silently lose intermediate
// frames.
type latestSlot struct {
	mu     sync.Mutex
	frame  *Frame
	closed bool

	// wake is 1-buffered so a signal sent just before a waiter registers is
	// not lost.
	wake chan struct{}
}

func newLatestSlot() *latestSlot {
	return &latestSlot{wake: make(chan struct{}, 1)}
}

// put stores the frame, replacing any unconsumed one, and reports whether an
// unconsumed frame was dropped. No-op after close.
func (s *latestSlot) put(frame *Frame) (dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	dropped = s.frame != nil
	s.frame = frame
	s.mu.Unlock()
	s.signal()
	return dropped
}

// take atomically removes and returns the cached frame if present; otherwise
// it suspends on the wake signal and retries. After close it keeps returning
// a still-cached frame first, then fails with ErrSourceClosed.
func (s *latestSlot) take(ctx context.Context) (*Frame, error) {
	for {
		s.mu.Lock()
		if s.frame != nil {
			frame := s.frame
			s.frame = nil
			s.mu.Unlock()
			return frame, nil
		}
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSourceClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.wake:
		}
	}
}

func (s *latestSlot) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *latestSlot) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
