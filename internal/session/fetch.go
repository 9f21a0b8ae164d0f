package session

import (
	"context"
	"sync"
)

// fetchSlot serializes fetches of one resource by generation. Starting a new
// fetch cancels the in-flight one; a superseded fetch's result is ignored,
// not applied.
type fetchSlot struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// begin supersedes any in-flight fetch. It returns the context for the new
// fetch and a commit func reporting whether this fetch is still the current
// generation (call it before applying the result).
func (s *fetchSlot) begin(parent context.Context) (context.Context, func() bool) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	commit := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gen == gen
	}
	return ctx, commit
}
