package event

import (
	"math"
	"time"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.progress").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers used on the bus.
const (
	TypeTaskProgress = "task.progress"
	TypeTaskResult   = "task.result"
)

// Wire types written to the output stream.
const (
	WireProgress = "PROGRESS"
	WireResult   = "RESULT"
)

// Phase names the stage of a task that produced an event.
type Phase string

// Task phases.
const (
	PhaseSubmit  Phase = "submit"
	PhaseCheck   Phase = "check"
	PhaseRetry   Phase = "retry"
	PhaseCommand Phase = "command"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// ProgressEvent reports how far a task phase has come. Progress events are
// best-effort; nothing reads them back.
type ProgressEvent struct {
	baseEvent
	TaskID   string
	TargetID string
	Phase    Phase
	Status   string // task status at the time of the event, usually RUNNING
	Current  int    // items processed so far in this phase
	Total    int    // items in this phase
	Error    string // set when a session failed; the task keeps running
}

// NewProgressEvent creates a ProgressEvent.
func NewProgressEvent(taskID, targetID string, phase Phase, status string, current, total int) ProgressEvent {
	return ProgressEvent{
		baseEvent: newBaseEvent(TypeTaskProgress),
		TaskID:    taskID,
		TargetID:  targetID,
		Phase:     phase,
		Status:    status,
		Current:   current,
		Total:     total,
	}
}

// WithError returns a copy of the event carrying errMsg.
func (e ProgressEvent) WithError(errMsg string) ProgressEvent {
	e.Error = errMsg
	return e
}

// Percentage returns Current/Total as a percentage rounded to two decimals.
func (e ProgressEvent) Percentage() float64 {
	return percentage(e.Current, e.Total)
}

// ResultEvent is the single final event of a task.
type ResultEvent struct {
	baseEvent
	TaskID   string
	TargetID string
	Phase    Phase
	Status   string // COMPLETED, FAILED or STOPPED
	Current  int    // items that ended in the wanted state
	Total    int
	Error    string
}

// NewResultEvent creates a ResultEvent.
func NewResultEvent(taskID, targetID string, phase Phase, status string, current, total int, errMsg string) ResultEvent {
	return ResultEvent{
		baseEvent: newBaseEvent(TypeTaskResult),
		TaskID:    taskID,
		TargetID:  targetID,
		Phase:     phase,
		Status:    status,
		Current:   current,
		Total:     total,
		Error:     errMsg,
	}
}

// Percentage returns Current/Total as a percentage rounded to two decimals.
func (e ResultEvent) Percentage() float64 {
	return percentage(e.Current, e.Total)
}

func percentage(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(current)/float64(total)*10000) / 100
}
