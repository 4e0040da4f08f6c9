package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/formrunner/internal/control"
	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/logging"
	"github.com/Iron-Ham/formrunner/internal/orchestrator"
	"github.com/Iron-Ham/formrunner/internal/store"
)

// StatusClosed acknowledges a close command.
const StatusClosed = "CLOSED"

// maxLineSize bounds one command line.
const maxLineSize = 1 << 20

// Runner executes a task to completion and publishes its result.
// *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, st *control.State, job orchestrator.Job) event.ResultEvent
}

// Dispatcher applies commands to the task registry. Tasks it starts run in
// the background; Shutdown stops and drains them.
type Dispatcher struct {
	tasks  *control.TaskManager
	runner Runner
	events event.Publisher
	store  store.Store
	logger *logging.Logger

	wg conc.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStore lets status replies report item counts for the task's target.
func WithStore(s store.Store) Option {
	return func(d *Dispatcher) {
		d.store = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Dispatcher.
func New(tasks *control.TaskManager, runner Runner, events event.Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tasks:  tasks,
		runner: runner,
		events: events,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Serve reads commands from r until EOF, a close command, or ctx is done,
// then stops every live task and waits for them to finish. A malformed line
// is answered with a FAILED result and does not end the loop.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader) error {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		readErr <- scanLines(readCtx, r, lines)
	}()

	defer d.Shutdown()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher cancelled", "error", ctx.Err().Error())
			return nil
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("read commands: %w", err)
				}
				d.logger.Info("command stream closed")
				return nil
			}
			cmd, err := ParseCommand(line)
			if err != nil {
				d.logger.Warn("invalid command", "line", string(line), "error", err.Error())
				d.fail(cmd, err)
				continue
			}
			if d.Handle(ctx, cmd) {
				return nil
			}
		}
	}
}

// scanLines sends each non-blank line of r to lines until EOF or ctx is done.
func scanLines(ctx context.Context, r io.Reader, lines chan<- []byte) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		select {
		case lines <- bytes.Clone(line):
		case <-ctx.Done():
			return nil
		}
	}
	return sc.Err()
}

// Handle applies one command. It reports true when the command asks the
// loop to end.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) (closed bool) {
	log := d.logger.With("action", cmd.Action.String())
	if cmd.TaskID != "" {
		log = log.WithTask(cmd.TaskID)
	}
	if cmd.TargetID != "" {
		log = log.WithTarget(cmd.TargetID)
	}
	log.Debug("command received")

	switch cmd.Action {
	case ActionStart:
		d.start(ctx, cmd, orchestrator.KindSubmit)
	case ActionRetry:
		d.start(ctx, cmd, orchestrator.KindRetry)
	case ActionCheck:
		d.start(ctx, cmd, orchestrator.KindCheck)
	case ActionPause:
		d.control(cmd, (*control.State).Pause)
	case ActionResume:
		d.control(cmd, (*control.State).Resume)
	case ActionStop:
		d.control(cmd, (*control.State).Stop)
	case ActionStatus:
		d.status(ctx, cmd)
	case ActionClose:
		d.events.Publish(event.NewProgressEvent("", "", event.PhaseCommand, StatusClosed, 0, 0))
		return true
	default:
		d.fail(cmd, fmt.Errorf("%w: %s", errors.ErrUnknownAction, cmd.Action))
	}
	return false
}

// start registers a task and runs it in the background. The task leaves the
// registry when its pipeline returns, whatever the outcome.
func (d *Dispatcher) start(ctx context.Context, cmd Command, kind orchestrator.Kind) {
	if cmd.TaskID == "" {
		cmd.TaskID = uuid.NewString()
	}
	st, err := d.tasks.Create(cmd.TaskID, cmd.TargetID)
	if err != nil {
		d.logger.WithTask(cmd.TaskID).Warn("task not started", "error", err.Error())
		d.fail(cmd, err)
		return
	}

	d.logger.WithTask(st.TaskID()).WithTarget(st.TargetID()).Info("task started",
		"action", cmd.Action.String(), "sessions", cmd.Sessions)

	// The task leaves the registry before its RESULT is published.
	st.OnFinish(func() { d.tasks.Remove(st.TaskID()) })

	job := orchestrator.Job{Kind: kind, Sessions: cmd.Sessions}
	d.wg.Go(func() {
		defer d.tasks.Remove(st.TaskID())
		d.runner.Run(ctx, st, job)
	})
}

// control applies a pause, resume or stop and acknowledges it with the
// task's resulting status.
func (d *Dispatcher) control(cmd Command, apply func(*control.State)) {
	st, err := d.tasks.Get(cmd.lookupID())
	if err != nil {
		d.fail(cmd, err)
		return
	}
	apply(st)
	d.logger.WithTask(st.TaskID()).Info("task "+cmd.Action.String(), "status", string(st.Status()))
	d.events.Publish(event.NewProgressEvent(st.TaskID(), st.TargetID(), event.PhaseCommand, string(st.Status()), 0, 0))
}

// status reports a task's state without changing it. With a store, the
// counts are the target's complete and total items.
func (d *Dispatcher) status(ctx context.Context, cmd Command) {
	st, err := d.tasks.Get(cmd.lookupID())
	if err != nil {
		d.fail(cmd, err)
		return
	}

	complete, total := 0, 0
	if d.store != nil {
		items, err := d.store.LoadItems(ctx, st.TargetID())
		if err != nil {
			d.logger.WithTask(st.TaskID()).Warn("status could not load items", "error", err.Error())
		} else {
			total = len(items)
			complete = store.Counts(items)[store.Complete]
		}
	}
	d.events.Publish(event.NewProgressEvent(st.TaskID(), st.TargetID(), event.PhaseCommand,
		string(st.Status()), complete, total))
}

func (d *Dispatcher) fail(cmd Command, err error) {
	d.events.Publish(event.NewResultEvent(cmd.TaskID, cmd.TargetID, event.PhaseCommand,
		string(control.StatusFailed), 0, 0, err.Error()))
}

// Shutdown stops every live task and waits for their pipelines to return.
// It is safe to call more than once.
func (d *Dispatcher) Shutdown() {
	if n := d.tasks.Len(); n > 0 {
		d.logger.Info("stopping tasks", "count", n)
	}
	d.tasks.StopAll()
	if r := d.wg.WaitAndRecover(); r != nil {
		d.logger.Error("task goroutine panicked", "panic", fmt.Sprint(r.Value), "stack", string(r.Stack))
	}
}
