package driver

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Noop accepts every step, saves every form, and reports every record
// complete. It backs the "noop" driver kind, which exercises the pipeline
// and the store without a browser.
type Noop struct {
	sessions atomic.Int64
	saves    atomic.Int64
}

// NewNoop returns a Noop driver.
func NewNoop() *Noop {
	return &Noop{}
}

// AcquireSession returns a fresh handle.
func (n *Noop) AcquireSession(_ context.Context, targetID string) (SessionHandle, error) {
	id := n.sessions.Add(1)
	return SessionHandle{ID: fmt.Sprintf("noop-%d", id), TargetID: targetID}, nil
}

// ReleaseSession does nothing.
func (n *Noop) ReleaseSession(SessionHandle) {}

// FillFields does nothing.
func (n *Noop) FillFields(ctx context.Context, _ SessionHandle, _ []Payload) error {
	return ctx.Err()
}

// Submit accepts the step.
func (n *Noop) Submit(ctx context.Context, _ SessionHandle, _ bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{Accepted: true}, nil
}

// EditRecord does nothing.
func (n *Noop) EditRecord(ctx context.Context, _ SessionHandle, _ string) error {
	return ctx.Err()
}

// Save returns a sequential identifier scoped to the session's target.
func (n *Noop) Save(ctx context.Context, s SessionHandle) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", s.TargetID, n.saves.Add(1)), nil
}

// Probe reports every record complete.
func (n *Noop) Probe(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return true, nil
}

var _ FormDriver = (*Noop)(nil)
