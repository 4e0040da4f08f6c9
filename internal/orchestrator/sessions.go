package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/sessionpool"
)

// sessionSet binds pool slots to driver sessions. A slot's session is
// opened the first time a worker takes the slot and kept until the set is
// closed. Slot 0 is the primary session.
type sessionSet struct {
	driver   driver.FormDriver
	targetID string
	pool     *sessionpool.Pool

	mu      sync.Mutex
	handles map[int]driver.SessionHandle
	closed  bool
}

func newSessionSet(d driver.FormDriver, targetID string, size int) *sessionSet {
	return &sessionSet{
		driver:   d,
		targetID: targetID,
		pool:     sessionpool.New(size),
		handles:  make(map[int]driver.SessionHandle),
	}
}

// acquire takes a free slot and returns it with its session. The caller
// must pass the slot to release when done.
func (s *sessionSet) acquire(ctx context.Context) (int, driver.SessionHandle, error) {
	slot, err := s.pool.Acquire(ctx)
	if err != nil {
		return -1, driver.SessionHandle{}, fmt.Errorf("%w: %w", errors.ErrTaskStopped, err)
	}
	h, err := s.session(ctx, slot)
	if err != nil {
		s.pool.Release(slot)
		return -1, driver.SessionHandle{}, err
	}
	return slot, h, nil
}

func (s *sessionSet) release(slot int) {
	s.pool.Release(slot)
}

// session returns slot's session, opening it if needed. The caller holds the
// slot, so no other goroutine opens the same one concurrently.
func (s *sessionSet) session(ctx context.Context, slot int) (driver.SessionHandle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return driver.SessionHandle{}, errors.ErrTaskStopped
	}
	if h, ok := s.handles[slot]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	h, err := s.driver.AcquireSession(ctx, s.targetID)
	if err != nil {
		if ctx.Err() != nil {
			return driver.SessionHandle{}, fmt.Errorf("%w: %w", errors.ErrTaskStopped, ctx.Err())
		}
		return driver.SessionHandle{}, errors.NewDriverError("acquire session",
			fmt.Errorf("%w: %w", errors.ErrSessionUnavailable, err)).WithSession(slot)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.driver.ReleaseSession(h)
		return driver.SessionHandle{}, errors.ErrTaskStopped
	}
	s.handles[slot] = h
	s.mu.Unlock()
	return h, nil
}

// closeSecondary releases every session except the primary one and refuses
// to open new sessions. It runs as the task's stop hook.
func (s *sessionSet) closeSecondary() {
	s.mu.Lock()
	s.closed = true
	var release []driver.SessionHandle
	for slot, h := range s.handles {
		if slot != 0 {
			release = append(release, h)
			delete(s.handles, slot)
		}
	}
	s.mu.Unlock()

	s.pool.Close()
	for _, h := range release {
		s.driver.ReleaseSession(h)
	}
}

// closeAll releases every session.
func (s *sessionSet) closeAll() {
	s.mu.Lock()
	s.closed = true
	release := make([]driver.SessionHandle, 0, len(s.handles))
	for _, h := range s.handles {
		release = append(release, h)
	}
	clear(s.handles)
	s.mu.Unlock()

	s.pool.Close()
	for _, h := range release {
		s.driver.ReleaseSession(h)
	}
}

// opened returns the number of sessions currently open.
func (s *sessionSet) opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
