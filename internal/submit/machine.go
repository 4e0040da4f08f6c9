// Package submit drives one form through fill, submit, and save with a
// bounded number of retries.
package submit

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/formrunner/internal/control"
	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/logging"
)

// Status is the terminal outcome of running a step.
type Status int

// Outcome statuses. There are no others.
const (
	// Saved means the step was accepted; on the last step the record was saved.
	Saved Status = iota
	// Failed means the step could not be completed; Outcome.Reason says why.
	Failed
	// Stopped means the task was stopped at a checkpoint.
	Stopped
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Saved:
		return "saved"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is the result of Run or RunForm.
type Outcome struct {
	Status Status
	// Reason classifies a failure (see errors.Reason). Empty unless Failed.
	Reason string
	// ExternalID is set when the last step was saved.
	ExternalID string
	// Attempts counts fill/submit rounds across all steps run.
	Attempts int
	// Err is the underlying error for Failed and Stopped outcomes.
	Err error
}

// Step is one page of the form.
type Step struct {
	// Number is the 0-based page index, used for logging.
	Number int
	// Last marks the page that is saved instead of validated.
	Last bool
	// Payloads are entered on this page.
	Payloads []driver.Payload
}

// Default settings.
const (
	DefaultMaxRetries  = 2
	DefaultCallTimeout = 30 * time.Second
)

// Machine runs form steps against a driver. It holds no per-run state and
// may be shared by all sessions.
type Machine struct {
	driver      driver.FormDriver
	maxRetries  int
	callTimeout time.Duration
	logger      *logging.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithMaxRetries sets how many times a rejected step is refilled and
// resubmitted. Negative values are treated as zero.
func WithMaxRetries(n int) Option {
	return func(m *Machine) {
		m.maxRetries = max(n, 0)
	}
}

// WithCallTimeout bounds every driver call.
func WithCallTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Machine. It panics if d is nil.
func New(d driver.FormDriver, opts ...Option) *Machine {
	if d == nil {
		panic("submit.New: driver must not be nil")
	}
	m := &Machine{
		driver:      d,
		maxRetries:  DefaultMaxRetries,
		callTimeout: DefaultCallTimeout,
		logger:      logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxRetries returns the configured retry bound.
func (m *Machine) MaxRetries() int { return m.maxRetries }

// Run drives one step: fill, submit, and then validate (intermediate step) or
// save (last step). A rejected or timed-out step is retried from the fill
// until it has been attempted MaxRetries+1 times.
func (m *Machine) Run(ctx context.Context, s driver.SessionHandle, step Step) Outcome {
	log := m.logger.With("step", step.Number, "last_step", step.Last)

	for attempt := 1; ; attempt++ {
		out, retryable := m.attempt(ctx, s, step)
		out.Attempts = attempt

		if out.Status != Failed || !retryable || attempt > m.maxRetries {
			if out.Status == Failed {
				out.Reason = errors.Reason(out.Err)
				log.Warn("step failed", "attempts", attempt, "reason", out.Reason, "error", out.Err.Error())
			}
			return out
		}

		log.Info("retrying step", "attempt", attempt, "max_retries", m.maxRetries, "error", out.Err.Error())
	}
}

// RunForm runs steps 0..steps-1 in order, stopping at the first step that
// does not end Saved. The returned Outcome sums attempts over all steps.
func (m *Machine) RunForm(ctx context.Context, s driver.SessionHandle, payloads []driver.Payload, steps int) Outcome {
	steps = max(steps, 1)
	total := 0
	var out Outcome
	for n := range steps {
		out = m.Run(ctx, s, Step{Number: n, Last: n == steps-1, Payloads: payloads})
		total += out.Attempts
		if out.Status != Saved {
			break
		}
	}
	out.Attempts = total
	return out
}

// attempt makes one pass through the step. The bool reports whether a
// failure may be retried.
func (m *Machine) attempt(ctx context.Context, s driver.SessionHandle, step Step) (Outcome, bool) {
	if err := control.Checkpoint(ctx); err != nil {
		return stopped(err), false
	}

	err := m.call(ctx, func(callCtx context.Context) error {
		return m.driver.FillFields(callCtx, s, step.Payloads)
	})
	if err != nil {
		return m.classify(ctx, "fill", err)
	}

	if err := control.Checkpoint(ctx); err != nil {
		return stopped(err), false
	}

	var res driver.Result
	err = m.call(ctx, func(callCtx context.Context) error {
		var err error
		res, err = m.driver.Submit(callCtx, s, step.Last)
		return err
	})
	if err != nil {
		return m.classify(ctx, "submit", err)
	}

	if !step.Last {
		if !res.Accepted {
			cause := errors.ErrFormValidation
			if len(res.Messages) > 0 {
				cause = fmt.Errorf("%w: %v", errors.ErrFormValidation, res.Messages)
			}
			return failed(driverError("submit", cause)), true
		}
		return Outcome{Status: Saved}, false
	}

	var externalID string
	err = m.call(ctx, func(callCtx context.Context) error {
		var err error
		externalID, err = m.driver.Save(callCtx, s)
		return err
	})
	if err != nil {
		return m.classify(ctx, "save", err)
	}
	return Outcome{Status: Saved, ExternalID: externalID}, false
}

// call runs fn under the per-call timeout. A deadline hit by the call itself
// (not by ctx) is reported as a TimeoutError.
func (m *Machine) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return errors.NewTimeoutError("driver call", m.callTimeout).WithCause(err)
	}
	return err
}

// classify maps a driver error to an outcome. A stopped task wins over
// whatever the driver reported, since stopping closes tabs under it.
func (m *Machine) classify(ctx context.Context, op string, err error) (Outcome, bool) {
	if cpErr := stopCause(ctx, err); cpErr != nil {
		return stopped(cpErr), false
	}
	derr := driverError(op, err)
	return failed(derr), derr.IsRetryable()
}

// driverError classifies err. A form rejecting the record's data is a
// warning; the driver itself worked.
func driverError(op string, err error) *errors.DriverError {
	derr := errors.NewDriverError(op, err)
	if errors.Is(err, errors.ErrFormValidation) {
		derr.WithSeverity(errors.SeverityWarning)
	}
	return derr
}

func stopCause(ctx context.Context, err error) error {
	if errors.IsStopped(err) {
		return err
	}
	if s := control.FromContext(ctx); s != nil && s.Stopped() {
		return errors.ErrTaskStopped
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", errors.ErrTaskStopped, ctx.Err())
	}
	return nil
}

func stopped(err error) Outcome {
	return Outcome{Status: Stopped, Err: err}
}

func failed(err error) Outcome {
	return Outcome{Status: Failed, Err: err}
}
