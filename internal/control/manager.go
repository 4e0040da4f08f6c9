package control

import (
	"slices"
	"strings"
	"sync"

	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/poll"
)

// TaskManager is the registry of live tasks. It is safe for concurrent use.
type TaskManager struct {
	mu       sync.Mutex
	tasks    map[string]*State
	pollOpts poll.Options
}

// Option configures a TaskManager.
type Option func(*TaskManager)

// WithPollOptions sets how paused checkpoints poll for resumption.
func WithPollOptions(opts poll.Options) Option {
	return func(m *TaskManager) {
		m.pollOpts = opts
	}
}

// NewTaskManager creates an empty registry.
func NewTaskManager(opts ...Option) *TaskManager {
	m := &TaskManager{
		tasks: make(map[string]*State),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new running task. It fails if taskID is already
// registered or another live task works on the same target, since two
// pipelines on one target would race on its items.
func (m *TaskManager) Create(taskID, targetID string) (*State, error) {
	if taskID == "" {
		return nil, errors.NewValidationError("task id is required").WithField("taskId")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[taskID]; ok {
		return nil, errors.NewAlreadyExistsError("task", taskID).WithCause(errors.ErrTaskExists)
	}
	if targetID != "" {
		for _, s := range m.tasks {
			if s.targetID == targetID {
				return nil, errors.NewAlreadyExistsError("task for target", targetID).WithCause(errors.ErrTaskExists)
			}
		}
	}

	s := NewState(taskID, targetID, m.pollOpts)
	m.tasks[taskID] = s
	return s, nil
}

// Get looks a task up by task ID, falling back to target ID.
func (m *TaskManager) Get(id string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.tasks[id]; ok {
		return s, nil
	}
	if id != "" {
		for _, s := range m.tasks {
			if s.targetID == id {
				return s, nil
			}
		}
	}
	return nil, errors.NewNotFoundError("task", id).WithCause(errors.ErrTaskNotFound)
}

// Remove unregisters a task. Removing an unknown task is a no-op.
func (m *TaskManager) Remove(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
}

// List returns snapshots of all live tasks ordered by task ID.
func (m *TaskManager) List() []Task {
	m.mu.Lock()
	states := make([]*State, 0, len(m.tasks))
	for _, s := range m.tasks {
		states = append(states, s)
	}
	m.mu.Unlock()

	tasks := make([]Task, 0, len(states))
	for _, s := range states {
		tasks = append(tasks, s.Snapshot())
	}
	slices.SortFunc(tasks, func(a, b Task) int {
		return strings.Compare(a.ID, b.ID)
	})
	return tasks
}

// StopAll stops every live task. Tasks stay registered until their
// pipelines unwind and remove them.
func (m *TaskManager) StopAll() {
	m.mu.Lock()
	states := make([]*State, 0, len(m.tasks))
	for _, s := range m.tasks {
		states = append(states, s)
	}
	m.mu.Unlock()

	// Stop hooks call into the driver; never run them under mu.
	for _, s := range states {
		s.Stop()
	}
}

// Len returns the number of live tasks.
func (m *TaskManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}
