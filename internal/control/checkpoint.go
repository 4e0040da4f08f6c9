package control

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/poll"
)

type stateKey struct{}

// WithState returns a context carrying s.
func WithState(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

// FromContext returns the State carried by ctx, or nil.
func FromContext(ctx context.Context) *State {
	s, _ := ctx.Value(stateKey{}).(*State)
	return s
}

// Checkpoint is the cooperative cancellation point. It returns
// errors.ErrTaskStopped if the task is stopped or ctx is done, blocks while
// the task is paused, and returns nil otherwise. A context without a State
// only honours ctx cancellation.
func Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrTaskStopped, err)
	}

	s := FromContext(ctx)
	if s == nil {
		return nil
	}
	if s.Stopped() {
		return errors.ErrTaskStopped
	}
	if !s.Paused() {
		return nil
	}

	err := poll.Until(ctx, s.pollOpts, func(context.Context) (bool, error) {
		return !s.Paused() || s.Stopped(), nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrTaskStopped, err)
	}
	if s.Stopped() {
		return errors.ErrTaskStopped
	}
	return nil
}
