package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/formrunner/internal/control"
	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/store"
)

// Kind selects what a task does.
type Kind int

// Task kinds.
const (
	// KindSubmit submits pending items, checks them, and retries stragglers once.
	KindSubmit Kind = iota
	// KindRetry runs one retry pass over incomplete items.
	KindRetry
	// KindCheck probes items without submitting anything.
	KindCheck
)

// Phase returns the event phase reported for the kind.
func (k Kind) Phase() event.Phase {
	switch k {
	case KindRetry:
		return event.PhaseRetry
	case KindCheck:
		return event.PhaseCheck
	default:
		return event.PhaseSubmit
	}
}

// Job describes one task run.
type Job struct {
	Kind Kind
	// Sessions caps concurrent sessions for this task. Zero means the
	// configured maximum.
	Sessions int
}

// outcome is what a task body hands to the result reporter.
type outcome struct {
	// warn describes non-fatal failures, e.g. a session that aborted.
	warn error
}

// Run executes job for the task in st and publishes exactly one RESULT
// event, which it also returns. Panics in the task body are recovered and
// reported as FAILED. Run does not remove the task from any registry.
func (o *Orchestrator) Run(ctx context.Context, st *control.State, job Job) (res event.ResultEvent) {
	ctx = control.WithState(ctx, st)
	phase := job.Kind.Phase()
	log := o.logger.WithTask(st.TaskID()).WithTarget(st.TargetID()).WithPhase(string(phase))

	defer func() {
		if r := recover(); r != nil {
			if rec, ok := r.(*panics.Recovered); ok {
				r = rec.Value
			}
			log.Error("task panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err := errors.NewTaskError(fmt.Sprintf("unexpected panic: %v", r), nil).
				WithTaskID(st.TaskID()).
				WithTargetID(st.TargetID()).
				WithPhase(string(phase))
			res = o.result(ctx, st, phase, outcome{}, err)
		}
		o.events.Publish(res)
	}()

	log.Info("task started", "sessions", o.sessionsFor(job.Sessions))

	var (
		out outcome
		err error
	)
	switch job.Kind {
	case KindSubmit:
		out, err = o.runSubmit(ctx, st, job)
	case KindRetry:
		var res RetryResult
		res, err = o.Retry(ctx, st, job.Sessions)
		out.warn = res.Err
	case KindCheck:
		_, err = o.Check(ctx, st, job.Sessions)
	default:
		err = errors.NewValidationError(fmt.Sprintf("unknown task kind %d", job.Kind))
	}
	return o.result(ctx, st, phase, out, err)
}

// runSubmit is the full pipeline: submit pending items over K sessions,
// check what the portal recorded, and retry incomplete items once.
func (o *Orchestrator) runSubmit(ctx context.Context, st *control.State, job Job) (outcome, error) {
	items, err := o.store.LoadItems(ctx, st.TargetID())
	if err != nil {
		return outcome{}, fmt.Errorf("load items: %w", err)
	}
	if len(items) == 0 {
		return outcome{}, nil
	}

	k := o.sessionsFor(job.Sessions)
	set := newSessionSet(o.driver, st.TargetID(), k)
	st.OnStop(set.closeSecondary)
	defer set.closeAll()

	pending := make([]store.Item, 0, len(items))
	for _, it := range items {
		if it.SubmitState == store.Pending {
			pending = append(pending, it)
		}
	}

	batches := PlanBatches(pending, k, o.settings.BatchSize)
	o.logger.WithTask(st.TaskID()).Info("batches planned",
		"pending", len(pending), "sessions", len(batches), "distribution", batchSizes(batches))

	prog := newProgress(o.events, st, event.PhaseSubmit, len(pending))
	prog.start()
	run := o.runBatches(ctx, set, batches, prog)
	if run.Stopped() || st.Stopped() {
		return outcome{warn: run.Err()}, errors.ErrTaskStopped
	}

	items, err = o.store.LoadItems(ctx, st.TargetID())
	if err != nil {
		return outcome{warn: run.Err()}, fmt.Errorf("reload items: %w", err)
	}
	if _, err := o.check(ctx, st, items, k); err != nil {
		return outcome{warn: run.Err()}, err
	}

	items, err = o.store.LoadItems(ctx, st.TargetID())
	if err != nil {
		return outcome{warn: run.Err()}, fmt.Errorf("reload items: %w", err)
	}
	res, err := o.retry(ctx, st, set, incompleteItems(items))
	warn := errors.Join(run.Err(), res.Err)
	if err != nil {
		return outcome{warn: warn}, err
	}
	return outcome{warn: warn}, nil
}

// result builds the final event and records the terminal status on st.
// Current counts the target's Complete items.
func (o *Orchestrator) result(ctx context.Context, st *control.State, phase event.Phase, out outcome, err error) event.ResultEvent {
	log := o.logger.WithTask(st.TaskID()).WithTarget(st.TargetID()).WithPhase(string(phase))

	complete, total := 0, 0
	if items, lerr := o.store.LoadItems(context.WithoutCancel(ctx), st.TargetID()); lerr == nil {
		total = len(items)
		complete = store.Counts(items)[store.Complete]
	}

	var (
		status control.Status
		msg    string
	)
	switch {
	case errors.IsStopped(err) || st.Stopped() || ctx.Err() != nil:
		status = control.StatusStopped
		log.Info("task stopped", "complete", complete, "total", total)
	case err != nil:
		status = control.StatusFailed
		msg = err.Error()
		log.Error("task failed", "error", msg)
	default:
		status = control.StatusCompleted
		if out.warn != nil {
			msg = out.warn.Error()
		}
		log.Info("task completed", "complete", complete, "total", total)
	}

	st.Finish(status)
	return event.NewResultEvent(st.TaskID(), st.TargetID(), phase, string(status), complete, total, msg)
}

func batchSizes(batches []Batch) []int {
	sizes := make([]int, len(batches))
	for i, b := range batches {
		sizes[i] = len(b.Items)
	}
	return sizes
}

// fanOut runs fn(i) for every i in [0, n) and waits for all of them, at
// most limit at a time when limit is positive. Workers share no context, so
// one failure never cancels a sibling; stopping comes only from the task's
// ctx and control state. A panic in fn becomes that worker's error.
func fanOut(n, limit int, fn func(i int) error) error {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	errs := make([]error, n)
	for i := range n {
		g.Go(func() error {
			var pc panics.Catcher
			pc.Try(func() { errs[i] = fn(i) })
			if r := pc.Recovered(); r != nil {
				errs[i] = r.AsError()
			}
			return nil
		})
	}
	_ = g.Wait()
	return joinFailures(errs)
}

// joinFailures joins every error that is not a stop. With only stops among
// errs it returns the first of them.
func joinFailures(errs []error) error {
	var (
		failed  []error
		stopped error
	)
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.IsStopped(err):
			if stopped == nil {
				stopped = err
			}
		default:
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	return stopped
}
