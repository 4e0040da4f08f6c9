package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/Iron-Ham/formrunner/internal/control"
	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/store"
)

// CheckResult summarises a completion check. The state counts describe all
// of the target's items after the check.
type CheckResult struct {
	Total       int
	Probed      int
	ProbeErrors int
	Complete    int
	Incomplete  int
	Pending     int
	Submitted   int
}

// Check probes every item with an external ID and records whether the
// portal considers it complete. Items without an external ID are not probed:
// a Submitted one becomes Incomplete, the rest keep their state. Probes run
// concurrently, at most sessions at a time. A store failure for one item
// is returned after the remaining probes finish.
func (o *Orchestrator) Check(ctx context.Context, st *control.State, sessions int) (CheckResult, error) {
	ctx = control.WithState(ctx, st)
	items, err := o.store.LoadItems(ctx, st.TargetID())
	if err != nil {
		return CheckResult{}, fmt.Errorf("load items: %w", err)
	}
	return o.check(ctx, st, items, o.sessionsFor(sessions))
}

func (o *Orchestrator) check(ctx context.Context, st *control.State, items []store.Item, limit int) (CheckResult, error) {
	targetID := st.TargetID()
	log := o.logger.WithPhase(string(event.PhaseCheck))
	writeCtx := context.WithoutCancel(ctx)

	var (
		mu     sync.Mutex
		states = make(map[int]store.SubmitState, len(items))
		res    = CheckResult{Total: len(items)}
	)
	setState := func(index int, s store.SubmitState) {
		mu.Lock()
		states[index] = s
		mu.Unlock()
	}

	var probe []store.Item
	for _, it := range items {
		states[it.Index] = it.SubmitState
		switch {
		case it.ExternalID != "":
			probe = append(probe, it)
		case it.SubmitState == store.Submitted:
			if err := o.store.SaveItemState(writeCtx, targetID, it.Index, store.Incomplete); err != nil {
				return res, fmt.Errorf("persist item %d: %w", it.Index, err)
			}
			states[it.Index] = store.Incomplete
		}
	}

	prog := newProgress(o.events, st, event.PhaseCheck, len(probe))
	prog.start()

	// A failed probe or store write affects only its own item.
	err := fanOut(len(probe), max(limit, 1), func(i int) error {
		it := probe[i]
		if err := control.Checkpoint(ctx); err != nil {
			return err
		}

		complete, err := o.probe(ctx, it.ExternalID)
		if err != nil {
			if errors.IsStopped(err) {
				return err
			}
			log.Warn("probe failed", "item", it.Index, "external_id", it.ExternalID, "error", err.Error())
			mu.Lock()
			res.ProbeErrors++
			mu.Unlock()
			prog.fail(fmt.Errorf("probe item %d: %w", it.Index, err))
			return nil
		}

		state := store.Incomplete
		if complete {
			state = store.Complete
		}
		if err := o.store.SaveItemState(writeCtx, targetID, it.Index, state); err != nil {
			return fmt.Errorf("persist item %d: %w", it.Index, err)
		}
		setState(it.Index, state)

		mu.Lock()
		res.Probed++
		mu.Unlock()
		prog.add(1)
		return nil
	})

	for _, s := range states {
		switch s {
		case store.Complete:
			res.Complete++
		case store.Incomplete:
			res.Incomplete++
		case store.Submitted:
			res.Submitted++
		default:
			res.Pending++
		}
	}
	log.Info("check finished", "total", res.Total, "probed", res.Probed,
		"complete", res.Complete, "incomplete", res.Incomplete, "probe_errors", res.ProbeErrors)
	return res, err
}

// probe asks the driver about one record under the call timeout.
func (o *Orchestrator) probe(ctx context.Context, externalID string) (bool, error) {
	var complete bool
	err := o.call(ctx, "probe", func(callCtx context.Context) error {
		var err error
		complete, err = o.driver.Probe(callCtx, externalID)
		return err
	})
	return complete, err
}

// call runs a driver call outside the state machine under the call timeout.
// A stopped task or cancelled ctx yields ErrTaskStopped.
func (o *Orchestrator) call(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, o.settings.CallTimeout)
	defer cancel()

	err := fn(callCtx)
	switch {
	case err == nil:
		return nil
	case errors.IsStopped(err):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", errors.ErrTaskStopped, ctx.Err())
	case control.FromContext(ctx) != nil && control.FromContext(ctx).Stopped():
		return errors.ErrTaskStopped
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return errors.NewDriverError(op, errors.NewTimeoutError(op, o.settings.CallTimeout).WithCause(err))
	default:
		return errors.NewDriverError(op, err)
	}
}
