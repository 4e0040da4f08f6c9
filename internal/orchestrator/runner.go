package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/formrunner/internal/batch"
	"github.com/Iron-Ham/formrunner/internal/control"
	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/logging"
	"github.com/Iron-Ham/formrunner/internal/store"
	"github.com/Iron-Ham/formrunner/internal/submit"
)

// Batch is the contiguous run of items one session submits, in order.
type Batch struct {
	SessionIndex int
	Items        []store.Item
}

// ItemResult is what happened to one item during a run.
type ItemResult struct {
	Index      int
	Status     submit.Status
	Reason     string
	ExternalID string
}

// SessionResult is one session's share of a run. Items lists the items the
// session got to, in submission order; items after a failure or stop are
// absent.
type SessionResult struct {
	SessionIndex int
	Items        []ItemResult
	Err          error
}

// RunResult is the outcome of a batch run, keyed by item index.
type RunResult struct {
	Total    int
	Items    map[int]ItemResult
	Sessions []SessionResult
}

// Saved returns how many items were saved.
func (r RunResult) Saved() int {
	n := 0
	for _, it := range r.Items {
		if it.Status == submit.Saved {
			n++
		}
	}
	return n
}

// Stopped reports whether any session ended because the task was stopped.
func (r RunResult) Stopped() bool {
	for _, s := range r.Sessions {
		if errors.IsStopped(s.Err) {
			return true
		}
	}
	return false
}

// Err joins the failures of every session that did not stop cleanly.
func (r RunResult) Err() error {
	var errs []error
	for _, s := range r.Sessions {
		if s.Err != nil && !errors.IsStopped(s.Err) {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}

// PlanBatches splits items into one contiguous batch per session according
// to batch.Plan.
func PlanBatches(items []store.Item, maxSessions, batchSize int) []Batch {
	counts := batch.Plan(len(items), maxSessions, batchSize)
	offsets := batch.Offsets(counts)
	batches := make([]Batch, len(counts))
	for i, n := range counts {
		batches[i] = Batch{SessionIndex: i, Items: items[offsets[i] : offsets[i]+n]}
	}
	return batches
}

// runBatches runs every batch on its own session and waits for all of them.
// One session's failure does not cancel the others.
func (o *Orchestrator) runBatches(ctx context.Context, set *sessionSet, batches []Batch, prog *progress) RunResult {
	res := RunResult{Items: make(map[int]ItemResult)}
	for _, b := range batches {
		res.Total += len(b.Items)
	}
	if len(batches) == 0 {
		return res
	}

	p := pool.NewWithResults[SessionResult]().WithMaxGoroutines(len(batches))
	for _, b := range batches {
		p.Go(func() SessionResult {
			return o.runSession(ctx, set, b, prog)
		})
	}
	res.Sessions = p.Wait()

	slices.SortFunc(res.Sessions, func(a, b SessionResult) int { return a.SessionIndex - b.SessionIndex })
	for _, s := range res.Sessions {
		for _, it := range s.Items {
			res.Items[it.Index] = it
		}
	}
	return res
}

// runSession submits b's items in sub-batches, one form per sub-batch. The
// first failed sub-batch ends the session.
func (o *Orchestrator) runSession(ctx context.Context, set *sessionSet, b Batch, prog *progress) SessionResult {
	res := SessionResult{SessionIndex: b.SessionIndex}
	log := o.logger.WithSession(b.SessionIndex)

	slot, h, err := set.acquire(ctx)
	if err != nil {
		res.Err = err
		if !errors.IsStopped(err) {
			log.Warn("could not open session", "error", err.Error())
			prog.fail(err)
		}
		return res
	}
	defer set.release(slot)

	log.Debug("session started", "slot", slot, "session", h.ID, "items", len(b.Items))

	for _, sub := range batch.SubBatches(b.Items, o.settings.SubBatchSize) {
		if err := control.Checkpoint(ctx); err != nil {
			res.Err = err
			return res
		}

		first, last := sub[0].Index, sub[len(sub)-1].Index+1
		out := o.machine.RunForm(ctx, h, payloadsOf(sub), o.settings.FormSteps)

		switch out.Status {
		case submit.Saved:
			if err := o.markSubmitted(ctx, set.targetID, sub, out.ExternalID); err != nil {
				res.Err = err
				prog.fail(err)
				return res
			}
			for _, it := range sub {
				res.Items = append(res.Items, ItemResult{Index: it.Index, Status: submit.Saved, ExternalID: out.ExternalID})
			}
			prog.add(len(sub))

		case submit.Stopped:
			res.Err = out.Err
			log.Info("session stopped", "items", fmt.Sprintf("%d-%d", first, last-1))
			return res

		default:
			for _, it := range sub {
				res.Items = append(res.Items, ItemResult{Index: it.Index, Status: submit.Failed, Reason: out.Reason})
			}
			err := out.Err
			var derr *errors.DriverError
			if errors.As(err, &derr) {
				derr.WithSession(b.SessionIndex).WithItems(first, last)
			} else {
				err = fmt.Errorf("session %d items %d-%d: %w", b.SessionIndex, first, last-1, err)
			}
			res.Err = err
			logBySeverity(log, err, "session aborted", "reason", out.Reason, "attempts", out.Attempts, "error", err.Error())
			prog.fail(err)
			return res
		}
	}
	return res
}

// markSubmitted records a saved sub-batch. Writes outlive ctx cancellation
// so that a saved form is never forgotten.
func (o *Orchestrator) markSubmitted(ctx context.Context, targetID string, items []store.Item, externalID string) error {
	ctx = context.WithoutCancel(ctx)
	for _, it := range items {
		if err := o.store.SaveItemState(ctx, targetID, it.Index, store.Submitted); err != nil {
			return fmt.Errorf("persist item %d: %w", it.Index, err)
		}
		if externalID == "" {
			continue
		}
		if err := o.store.SaveExternalID(ctx, targetID, it.Index, externalID); err != nil {
			return fmt.Errorf("persist external id of item %d: %w", it.Index, err)
		}
	}
	return nil
}

func payloadsOf(items []store.Item) []driver.Payload {
	payloads := make([]driver.Payload, len(items))
	for i, it := range items {
		payloads[i] = it.Payload
	}
	return payloads
}

// progress publishes PROGRESS events for one phase of a task. Sessions call
// it concurrently.
type progress struct {
	events event.Publisher
	state  *control.State
	phase  event.Phase
	total  int
	done   atomic.Int64
}

func newProgress(events event.Publisher, st *control.State, phase event.Phase, total int) *progress {
	return &progress{events: events, state: st, phase: phase, total: total}
}

func (p *progress) add(n int) {
	current := p.done.Add(int64(n))
	p.events.Publish(p.event(int(current)))
}

func (p *progress) fail(err error) {
	p.events.Publish(p.event(int(p.done.Load())).WithError(err.Error()))
}

func (p *progress) start() {
	p.events.Publish(p.event(0))
}

func (p *progress) event(current int) event.ProgressEvent {
	return event.NewProgressEvent(p.state.TaskID(), p.state.TargetID(), p.phase,
		string(p.state.Status()), current, p.total)
}

// logBySeverity logs msg at the level matching err's severity.
func logBySeverity(log *logging.Logger, err error, msg string, args ...any) {
	switch errors.GetSeverity(err) {
	case errors.SeverityDebug:
		log.Debug(msg, args...)
	case errors.SeverityInfo:
		log.Info(msg, args...)
	case errors.SeverityWarning:
		log.Warn(msg, args...)
	default:
		log.Error(msg, args...)
	}
}
