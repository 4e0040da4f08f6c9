// Package errors provides centralized error definitions and error handling utilities
// for formrunner. It defines the submission error taxonomy, typed errors carrying
// session and task context, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - DriverError: a Form Driver call failed for a session and item range
//   - TaskError: an orchestration task failed in a given phase
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - AlreadyExistsError: resource already exists
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Taxonomy
//
// Form Driver failures are classified by sentinel:
//
//	ErrElementNotFound     non-retryable within the current attempt
//	ErrFormValidation      retried up to the configured bound
//	ErrTimeout             retried like ErrFormValidation
//	ErrSaveButtonNotFound  terminal
//	ErrTaskStopped         cooperative cancellation, not a failure
//
// # Usage
//
//	err := errors.NewDriverError("submit", errors.ErrFormValidation).
//	    WithSession(2).
//	    WithItems(10, 20)
//
//	if errors.IsStopped(err) { ... }
//	if errors.IsRetryable(err) { ... }
//	reason := errors.Reason(err) // "ValidationError"
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Form Driver sentinel errors
var (
	// ErrElementNotFound indicates the driver could not locate a required control.
	ErrElementNotFound = New("element not found")
	// ErrFormValidation indicates the external form rejected the submitted input.
	ErrFormValidation = New("form validation failed")
	// ErrSaveButtonNotFound indicates the save affordance never appeared.
	ErrSaveButtonNotFound = New("save button not found")
	// ErrSessionUnavailable indicates the driver could not provide a session.
	ErrSessionUnavailable = New("session unavailable")
)

// Task-related sentinel errors
var (
	// ErrTaskStopped indicates a task was stopped at a control checkpoint.
	ErrTaskStopped = New("task was stopped")
	// ErrTaskNotFound indicates that a task could not be found.
	ErrTaskNotFound = New("task not found")
	// ErrTaskExists indicates that a task with the same ID is already registered.
	ErrTaskExists = New("task already exists")
)

// Command-related sentinel errors
var (
	// ErrInvalidCommand indicates a command line could not be decoded.
	ErrInvalidCommand = New("invalid command")
	// ErrUnknownAction indicates a command named an action that does not exist.
	ErrUnknownAction = New("unknown action")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// RunnerError is the base interface for all formrunner errors.
type RunnerError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// DriverError represents a failed Form Driver call.
//
// Retryability defaults from the cause: timeouts and form validation
// rejections are retryable, everything else is not.
//
// Example:
//
//	err := errors.NewDriverError("fill", errors.ErrElementNotFound).WithSession(1)
//	fmt.Println(err) // "driver error [op=fill, session=1]: element not found"
type DriverError struct {
	baseError
	Op           string
	SessionIndex int
	FirstItem    int
	LastItem     int
	hasSession   bool
	hasItems     bool
}

// NewDriverError creates a new DriverError for the given driver operation.
func NewDriverError(op string, cause error) *DriverError {
	msg := op
	if cause != nil {
		msg = cause.Error()
	}
	return &DriverError{
		baseError: baseError{
			message:   msg,
			cause:     cause,
			severity:  SeverityError,
			retryable: Is(cause, ErrTimeout) || Is(cause, ErrFormValidation) || Is(cause, context.DeadlineExceeded),
		},
		Op: op,
	}
}

// WithSession adds the session index to the error context.
func (e *DriverError) WithSession(index int) *DriverError {
	e.SessionIndex = index
	e.hasSession = true
	return e
}

// WithItems adds the half-open item index range [first, last) to the error context.
func (e *DriverError) WithItems(first, last int) *DriverError {
	e.FirstItem = first
	e.LastItem = last
	e.hasItems = true
	return e
}

// WithSeverity sets the error severity.
func (e *DriverError) WithSeverity(s Severity) *DriverError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *DriverError) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.hasSession {
		parts = append(parts, fmt.Sprintf("session=%d", e.SessionIndex))
	}
	if e.hasItems {
		parts = append(parts, fmt.Sprintf("items=%d-%d", e.FirstItem, e.LastItem))
	}

	prefix := "driver error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("driver error [%s]", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// TaskError represents a failure of an orchestration task.
//
// Example:
//
//	err := errors.NewTaskError("batch run failed", cause).WithTaskID("t-1").WithPhase("submit")
type TaskError struct {
	baseError
	TaskID   string
	TargetID string
	Phase    string
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithTaskID adds a task ID to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// WithTargetID adds a target ID to the error context.
func (e *TaskError) WithTargetID(id string) *TaskError {
	e.TargetID = id
	return e
}

// WithPhase adds a phase name to the error context.
func (e *TaskError) WithPhase(phase string) *TaskError {
	e.Phase = phase
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.TargetID != "" {
		parts = append(parts, fmt.Sprintf("target=%s", e.TargetID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}

	prefix := "task error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("task error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("task", "t-123")
//	fmt.Println(err) // "task not found: t-123"
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
	}
	return fmt.Sprintf("%s not found", e.ResourceType)
}

// Unwrap returns the underlying error.
func (e *NotFoundError) Unwrap() error {
	return e.cause
}

// AlreadyExistsError represents a resource that already exists.
type AlreadyExistsError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.ResourceType, e.ResourceID)
}

// Unwrap returns the underlying error.
func (e *AlreadyExistsError) Unwrap() error {
	return e.cause
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("must be positive").WithField("sessions").WithValue(-1)
//	fmt.Println(err) // "validation error: sessions: must be positive (got: -1)"
type ValidationError struct {
	Field   string
	Value   any
	Message string
	cause   error
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation error")
	if e.Field != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Field)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Value != nil {
		fmt.Fprintf(&sb, " (got: %v)", e.Value)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.cause
}

// Is matches ErrInvalidInput so callers can test for input errors generically.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("probe", 10*time.Second)
//	fmt.Println(err) // "probe timed out after 10s"
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	retryable bool
	cause     error
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
		retryable: true,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	if e.Duration > 0 {
		return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
	}
	return fmt.Sprintf("%s timed out", e.Operation)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.cause
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing RunnerError with IsRetryable() returning true
//   - TimeoutError instances and errors wrapping ErrTimeout
//   - Errors wrapping ErrFormValidation
//   - context.DeadlineExceeded from a bounded driver call
//
// ErrTaskStopped is never retryable.
func IsRetryable(err error) bool {
	if err == nil || IsStopped(err) {
		return false
	}

	var runnerErr RunnerError
	if As(err, &runnerErr) {
		return runnerErr.IsRetryable()
	}

	var timeout *TimeoutError
	if As(err, &timeout) {
		return timeout.retryable
	}

	return Is(err, ErrTimeout) || Is(err, ErrFormValidation) || Is(err, context.DeadlineExceeded)
}

// IsStopped returns true if the error is a cooperative stop rather than a failure.
func IsStopped(err error) bool {
	return err != nil && Is(err, ErrTaskStopped)
}

// GetSeverity returns the severity level of the error.
// Stops report SeverityInfo; errors that don't implement RunnerError
// report SeverityError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	if IsStopped(err) {
		return SeverityInfo
	}

	var runnerErr RunnerError
	if As(err, &runnerErr) {
		return runnerErr.Severity()
	}

	return SeverityError
}

// Reason maps an error onto the submission taxonomy name reported in RESULT
// events. Unclassified errors return "Error".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrTaskStopped):
		return "TaskStopped"
	case Is(err, ErrSaveButtonNotFound):
		return "SaveButtonNotFound"
	case Is(err, ErrElementNotFound):
		return "ElementNotFound"
	case Is(err, ErrFormValidation):
		return "ValidationError"
	case Is(err, ErrTimeout), Is(err, context.DeadlineExceeded):
		return "Timeout"
	default:
		return "Error"
	}
}
