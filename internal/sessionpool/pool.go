// Package sessionpool tracks logical ownership of a fixed set of sessions.
//
// A session is one browser tab owned by the form driver; the pool never opens
// or closes tabs. It only hands out indexes in [0, size) so that no two
// workers drive the same tab at once.
package sessionpool

import (
	"context"
	"fmt"
	"sync"
)

// Pool is a context-aware counting semaphore over size session slots with a
// busy flag per slot. Both live under one mutex.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	busy   []bool
	inUse  int
	closed bool
}

// New creates a pool of size slots. size below 1 is treated as 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{busy: make([]bool, size)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Acquire blocks until a slot is free or ctx is done, marks the lowest free
// slot busy, and returns its index.
func (p *Pool) Acquire(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Wake waiters on cancellation so they can observe ctx.Err().
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()

	for p.inUse >= len(p.busy) && !p.closed {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		p.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if p.closed {
		return -1, fmt.Errorf("session pool is closed")
	}

	for i, b := range p.busy {
		if !b {
			p.busy[i] = true
			p.inUse++
			return i, nil
		}
	}
	// Unreachable while inUse matches the busy flags.
	return -1, fmt.Errorf("session pool is inconsistent: %d of %d in use", p.inUse, len(p.busy))
}

// Release frees slot index. Releasing a slot that is not held, or an index
// out of range, is a no-op.
func (p *Pool) Release(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.busy) || !p.busy[index] {
		return
	}
	p.busy[index] = false
	p.inUse--
	p.cond.Broadcast()
}

// Close makes pending and future Acquire calls fail. Held slots may still be
// released.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

// Busy returns the number of slots currently held.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.busy)
}
