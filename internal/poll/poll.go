// Package poll waits for a condition with bounded, backed-off polling.
package poll

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Iron-Ham/formrunner/internal/errors"
)

// Default intervals used when Options leaves them zero.
const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMaxInterval = 2 * time.Second
)

// Condition reports whether the awaited state has been reached. A non-nil
// error ends polling immediately and is returned from Until.
type Condition func(ctx context.Context) (bool, error)

// Options configures Until.
type Options struct {
	// Interval is the first wait between checks. It doubles after every
	// unsuccessful check up to MaxInterval.
	Interval time.Duration
	// MaxInterval caps the wait between checks.
	MaxInterval time.Duration
	// Timeout bounds the total wait. Zero waits until ctx is done.
	Timeout time.Duration
	// Operation names the wait in timeout errors.
	Operation string
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = DefaultMaxInterval
	}
	if o.MaxInterval < o.Interval {
		o.MaxInterval = o.Interval
	}
	if o.Operation == "" {
		o.Operation = "poll"
	}
	return o
}

var errNotReady = errors.New("condition not met")

// Until checks cond immediately and then after each backoff interval until it
// returns true. It returns nil once the condition holds, the condition's own
// error if it fails, a *errors.TimeoutError if Timeout elapses first, or
// ctx.Err() if the context ends.
func Until(ctx context.Context, opts Options, cond Condition) error {
	opts = opts.withDefaults()

	backoff := retry.WithCappedDuration(opts.MaxInterval, retry.NewExponential(opts.Interval))
	if opts.Timeout > 0 {
		backoff = retry.WithMaxDuration(opts.Timeout, backoff)
	}

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(errNotReady)
		}
		return nil
	})

	if errors.Is(err, errNotReady) {
		return errors.NewTimeoutError(opts.Operation, opts.Timeout)
	}
	return err
}
