// Package dispatch reads control commands from a line-delimited JSON stream
// and turns them into task lifecycle operations.
package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/formrunner/internal/errors"
)

// Action is the verb of a command.
type Action int

// Actions accepted on the command stream.
const (
	ActionUnknown Action = iota
	ActionStart
	ActionPause
	ActionResume
	ActionStop
	ActionRetry
	ActionCheck
	ActionStatus
	ActionClose
)

var actionNames = map[Action]string{
	ActionStart:  "start",
	ActionPause:  "pause",
	ActionResume: "resume",
	ActionStop:   "stop",
	ActionRetry:  "retry",
	ActionCheck:  "check",
	ActionStatus: "status",
	ActionClose:  "close",
}

// String returns the wire name of the action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if _, ok := actionNames[a]; !ok {
		return nil, fmt.Errorf("%w: %d", errors.ErrUnknownAction, int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Names are matched
// case-insensitively.
func (a *Action) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for action, n := range actionNames {
		if n == name {
			*a = action
			return nil
		}
	}
	return fmt.Errorf("%w: %q", errors.ErrUnknownAction, string(text))
}

// NeedsTask reports whether the action addresses a live task.
func (a Action) NeedsTask() bool {
	switch a {
	case ActionPause, ActionResume, ActionStop, ActionStatus:
		return true
	default:
		return false
	}
}

// Command is one line of the command stream.
type Command struct {
	Action   Action `json:"action"`
	TaskID   string `json:"taskId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	// Sessions caps concurrent sessions for start, retry and check. Zero
	// means the configured maximum.
	Sessions int `json:"sessions,omitempty"`
}

// ParseCommand decodes and validates one command line. Errors wrap
// errors.ErrInvalidCommand.
func ParseCommand(line []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %w", errors.ErrInvalidCommand, err)
	}
	if err := cmd.Validate(); err != nil {
		return cmd, fmt.Errorf("%w: %w", errors.ErrInvalidCommand, err)
	}
	return cmd, nil
}

// Validate checks that the command carries the identifiers its action needs.
func (c Command) Validate() error {
	switch c.Action {
	case ActionStart, ActionRetry, ActionCheck:
		if c.TargetID == "" {
			return errors.NewValidationError(c.Action.String() + " requires a target").WithField("targetId")
		}
	case ActionPause, ActionResume, ActionStop, ActionStatus:
		if c.TaskID == "" && c.TargetID == "" {
			return errors.NewValidationError(c.Action.String() + " requires a task or target").WithField("taskId")
		}
	case ActionClose:
	default:
		return errors.ErrUnknownAction
	}
	if c.Sessions < 0 {
		return errors.NewValidationError("sessions must not be negative").WithField("sessions").WithValue(c.Sessions)
	}
	return nil
}

// lookupID is the identifier used to find the command's task.
func (c Command) lookupID() string {
	if c.TaskID != "" {
		return c.TaskID
	}
	return c.TargetID
}
