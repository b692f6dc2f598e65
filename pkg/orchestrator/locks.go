package orchestrator

import (
	"errors"
	"sync"
	"time"
)

// ErrSessionLockTimeout is returned when a turn cannot acquire its session's
// lock within the configured window.
var ErrSessionLockTimeout = errors.New("session lock timeout")

// sessionLocks serializes turns per session. Each session gets a one-slot
// token channel; acquisition blocks up to the caller's timeout.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]chan struct{})}
}

func (s *sessionLocks) tokens(sessionID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[sessionID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[sessionID] = ch
	}
	return ch
}

func (s *sessionLocks) acquire(sessionID string, timeout time.Duration) error {
	select {
	case s.tokens(sessionID) <- struct{}{}:
		return nil
	case <-time.After(timeout):
		return ErrSessionLockTimeout
	}
}

func (s *sessionLocks) release(sessionID string) {
	<-s.tokens(sessionID)
}
