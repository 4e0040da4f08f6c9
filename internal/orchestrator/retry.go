package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/Iron-Ham/formrunner/internal/batch"
	"github.com/Iron-Ham/formrunner/internal/control"
	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/store"
	"github.com/Iron-Ham/formrunner/internal/submit"
)

// RetryResult summarises one retry pass over a target's incomplete items.
type RetryResult struct {
	// Total is the number of items that were Incomplete when the pass began.
	Total int
	// Complete counts retried items the portal now reports complete.
	Complete int
	// Incomplete counts retried items that are still incomplete.
	Incomplete int
	// Unverified counts items that were saved but could not be probed.
	Unverified int
	// Failed counts items whose resubmission failed, including the items of
	// a session that could not be opened.
	Failed int
	// Err joins the failures of sessions that could not be opened. The other
	// sessions finish their chunks regardless.
	Err error
}

// Retry runs one pass over the target's Incomplete items: each is
// resubmitted on its own, probed, and persisted. When nothing is incomplete
// it returns immediately without touching the driver.
func (o *Orchestrator) Retry(ctx context.Context, st *control.State, sessions int) (RetryResult, error) {
	ctx = control.WithState(ctx, st)
	items, err := o.store.LoadItems(ctx, st.TargetID())
	if err != nil {
		return RetryResult{}, fmt.Errorf("load items: %w", err)
	}

	incomplete := incompleteItems(items)
	if len(incomplete) == 0 {
		return RetryResult{}, nil
	}

	n := min(o.sessionsFor(sessions), len(incomplete))
	set := newSessionSet(o.driver, st.TargetID(), n)
	st.OnStop(set.closeSecondary)
	defer set.closeAll()

	return o.retry(ctx, st, set, incomplete)
}

func incompleteItems(items []store.Item) []store.Item {
	var out []store.Item
	for _, it := range items {
		if it.SubmitState == store.Incomplete {
			out = append(out, it)
		}
	}
	return out
}

// retryPass is the shared bookkeeping of one retry pass.
type retryPass struct {
	set  *sessionSet
	prog *progress

	mu          sync.Mutex
	res         RetryResult
	sessionErrs []error
}

func (p *retryPass) record(state store.SubmitState, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case failed:
		p.res.Failed++
	case state == store.Complete:
		p.res.Complete++
	case state == store.Incomplete:
		p.res.Incomplete++
	default:
		p.res.Unverified++
	}
}

// sessionFailed counts a chunk whose session never opened. Its items stay
// Incomplete for the next pass.
func (p *retryPass) sessionFailed(items []store.Item, err error) {
	p.mu.Lock()
	p.res.Failed += len(items)
	p.sessionErrs = append(p.sessionErrs, err)
	p.mu.Unlock()
	p.prog.fail(err)
}

// retry spreads items over the set's sessions in balanced contiguous chunks.
// A chunk whose session fails to open is reported in RetryResult.Err; the
// returned error is for stops and store failures.
func (o *Orchestrator) retry(ctx context.Context, st *control.State, set *sessionSet, items []store.Item) (RetryResult, error) {
	if len(items) == 0 {
		return RetryResult{}, nil
	}

	chunks := batch.BalancedChunks(items, min(set.pool.Size(), len(items)))
	pass := &retryPass{
		set:  set,
		prog: newProgress(o.events, st, event.PhaseRetry, len(items)),
		res:  RetryResult{Total: len(items)},
	}
	pass.prog.start()

	err := fanOut(len(chunks), 0, func(i int) error {
		return o.retryChunk(ctx, pass, i, chunks[i])
	})

	res := pass.res
	res.Err = errors.Join(pass.sessionErrs...)
	o.logger.WithPhase(string(event.PhaseRetry)).Info("retry pass finished",
		"total", res.Total, "complete", res.Complete, "incomplete", res.Incomplete,
		"unverified", res.Unverified, "failed", res.Failed, "failed_sessions", len(pass.sessionErrs))
	return res, err
}

// retryChunk resubmits items one at a time on a single session. A failed
// item is recorded and the chunk moves on; only a stop or a store failure
// ends it early.
func (o *Orchestrator) retryChunk(ctx context.Context, pass *retryPass, index int, items []store.Item) error {
	log := o.logger.WithSession(index).WithPhase(string(event.PhaseRetry))
	set := pass.set

	slot, h, err := set.acquire(ctx)
	if err != nil {
		if errors.IsStopped(err) {
			return err
		}
		log.Warn("could not open session", "items", len(items), "error", err.Error())
		pass.sessionFailed(items, err)
		return nil
	}
	defer set.release(slot)

	writeCtx := context.WithoutCancel(ctx)
	for _, it := range items {
		if err := control.Checkpoint(ctx); err != nil {
			return err
		}

		out := o.resubmit(ctx, h, it)
		switch out.Status {
		case submit.Stopped:
			return out.Err
		case submit.Failed:
			log.Warn("resubmit failed", "item", it.Index, "reason", out.Reason, "error", out.Err.Error())
			pass.record(it.SubmitState, true)
			pass.prog.fail(fmt.Errorf("item %d: %w", it.Index, out.Err))
			continue
		}

		externalID := it.ExternalID
		if out.ExternalID != "" && out.ExternalID != externalID {
			externalID = out.ExternalID
			if err := o.store.SaveExternalID(writeCtx, set.targetID, it.Index, externalID); err != nil {
				return fmt.Errorf("persist external id of item %d: %w", it.Index, err)
			}
		}

		state := store.Submitted
		if externalID != "" {
			complete, err := o.probe(ctx, externalID)
			switch {
			case errors.IsStopped(err):
				if serr := o.store.SaveItemState(writeCtx, set.targetID, it.Index, store.Submitted); serr != nil {
					log.Warn("could not persist item after stop", "item", it.Index, "error", serr.Error())
				}
				return err
			case err != nil:
				log.Warn("probe after resubmit failed", "item", it.Index, "error", err.Error())
			case complete:
				state = store.Complete
			default:
				state = store.Incomplete
			}
		}

		if err := o.store.SaveItemState(writeCtx, set.targetID, it.Index, state); err != nil {
			return fmt.Errorf("persist item %d: %w", it.Index, err)
		}
		pass.record(state, false)
		pass.prog.add(1)
	}
	return nil
}

// resubmit drives one item through the form again. An item with an
// external ID has its existing record reopened at the final step; one
// without is submitted as a new record.
func (o *Orchestrator) resubmit(ctx context.Context, h driver.SessionHandle, it store.Item) submit.Outcome {
	payloads := []driver.Payload{it.Payload}
	if it.ExternalID == "" {
		return o.machine.RunForm(ctx, h, payloads, o.settings.FormSteps)
	}

	err := o.call(ctx, "edit", func(callCtx context.Context) error {
		return o.driver.EditRecord(callCtx, h, it.ExternalID)
	})
	if err != nil {
		if errors.IsStopped(err) {
			return submit.Outcome{Status: submit.Stopped, Err: err}
		}
		return submit.Outcome{Status: submit.Failed, Reason: errors.Reason(err), Err: err, Attempts: 1}
	}
	return o.machine.Run(ctx, h, submit.Step{
		Number:   o.settings.FormSteps - 1,
		Last:     true,
		Payloads: payloads,
	})
}
