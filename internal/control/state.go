// Package control holds the per-task control state that lets external
// commands pause, resume, and stop long-running work.
//
// Work never gets interrupted mid-call. Instead, long-running loops call
// [Checkpoint] at every item and batch boundary; a checkpoint blocks while
// the task is paused and returns [errors.ErrTaskStopped] once it is stopped.
package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/formrunner/internal/poll"
)

// Status is the lifecycle state of a task.
type Status string

// Task statuses.
const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusStopped   Status = "STOPPED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusFailed
}

// Task is a point-in-time snapshot of a registered task.
type Task struct {
	ID        string    `json:"taskId"`
	TargetID  string    `json:"targetId"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}

// State is the mutable control block of one task. Pause and stop flags are
// read at every checkpoint by every session worker, so they are atomics;
// the remaining fields are guarded by mu.
type State struct {
	taskID    string
	targetID  string
	startedAt time.Time
	pollOpts  poll.Options

	paused  atomic.Bool
	stopped atomic.Bool

	mu       sync.Mutex
	status   Status
	finished bool
	onStop   []func()
	onFinish []func()
}

// NewState creates a running control state. Most callers obtain one through
// [TaskManager.Create] instead.
func NewState(taskID, targetID string, pollOpts poll.Options) *State {
	pollOpts.Operation = "pause"
	return &State{
		taskID:    taskID,
		targetID:  targetID,
		startedAt: time.Now(),
		pollOpts:  pollOpts,
		status:    StatusRunning,
	}
}

// TaskID returns the task's identifier.
func (s *State) TaskID() string { return s.taskID }

// TargetID returns the identifier of the record the task works on.
func (s *State) TargetID() string { return s.targetID }

// Paused reports whether the task is paused.
func (s *State) Paused() bool { return s.paused.Load() }

// Stopped reports whether the task has been asked to stop.
func (s *State) Stopped() bool { return s.stopped.Load() }

// Pause makes subsequent checkpoints block. It has no effect on a stopped
// task.
func (s *State) Pause() {
	if s.Stopped() {
		return
	}
	s.paused.Store(true)
	s.mu.Lock()
	if s.status == StatusRunning {
		s.status = StatusPaused
	}
	s.mu.Unlock()
}

// Resume releases blocked checkpoints.
func (s *State) Resume() {
	s.paused.Store(false)
	s.mu.Lock()
	if s.status == StatusPaused {
		s.status = StatusRunning
	}
	s.mu.Unlock()
}

// Stop marks the task stopped and clears the pause flag so that a paused
// worker wakes up and unwinds through its checkpoint. Hooks registered with
// OnStop run once, on the first call.
func (s *State) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	s.paused.Store(false)

	s.mu.Lock()
	if !s.status.IsTerminal() {
		s.status = StatusStopped
	}
	hooks := s.onStop
	s.onStop = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// OnStop registers fn to run when the task is stopped. If the task is
// already stopped, fn runs immediately.
func (s *State) OnStop(fn func()) {
	s.mu.Lock()
	if !s.Stopped() {
		s.onStop = append(s.onStop, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Status returns the current lifecycle status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Finish records a terminal status. A task that was stopped stays stopped.
// Hooks registered with OnFinish run once, on the first call.
func (s *State) Finish(status Status) {
	s.mu.Lock()
	if s.status != StatusStopped {
		s.status = status
	}
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	hooks := s.onFinish
	s.onFinish = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// OnFinish registers fn to run when the task records its terminal status.
// If the task has already finished, fn runs immediately.
func (s *State) OnFinish(fn func()) {
	s.mu.Lock()
	if !s.finished {
		s.onFinish = append(s.onFinish, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Snapshot returns a copy of the task's public fields.
func (s *State) Snapshot() Task {
	return Task{
		ID:        s.taskID,
		TargetID:  s.targetID,
		Status:    s.Status(),
		StartedAt: s.startedAt,
	}
}
