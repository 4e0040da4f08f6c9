// Package driver defines the contract between the orchestration layer and
// whatever automates the external web form.
//
// A FormDriver owns the browser and its tabs. Everything about locating
// controls, typing values, and reading pages lives behind this interface;
// callers only sequence the calls and interpret their outcomes.
package driver

import (
	"context"
	"encoding/json"
)

// Payload is the opaque data an item contributes to a form.
type Payload = json.RawMessage

// SessionHandle identifies one tab held by the driver.
type SessionHandle struct {
	// ID is the driver's own identifier for the tab.
	ID string
	// TargetID is the record whose form this session fills.
	TargetID string
}

// Result is the outcome of submitting one form step.
type Result struct {
	// Accepted is false when the form showed a validation error.
	Accepted bool
	// Messages holds any validation messages the form displayed.
	Messages []string
}

// FormDriver drives a multi-step web form. Every blocking call takes a
// context whose deadline bounds the call.
//
// Errors should wrap the sentinels in the errors package where they apply:
// ErrElementNotFound when a required control is missing, ErrSaveButtonNotFound
// when Save finds no save affordance, and ErrTimeout when the page did not
// reach the expected state in time.
type FormDriver interface {
	// AcquireSession opens (or reuses) a tab for targetID's form.
	AcquireSession(ctx context.Context, targetID string) (SessionHandle, error)
	// ReleaseSession closes the tab. Releasing twice is harmless.
	ReleaseSession(s SessionHandle)
	// FillFields enters payloads into the current form step. Several payloads
	// are entered as separate rows when the form supports bulk entry.
	FillFields(ctx context.Context, s SessionHandle, payloads []Payload) error
	// Submit submits the current step. For a non-final step the returned
	// Result reports whether the form accepted the input.
	Submit(ctx context.Context, s SessionHandle, isLastStep bool) (Result, error)
	// EditRecord opens the final step of an existing record so that the next
	// FillFields and Submit(ctx, s, true) update it instead of creating a new
	// one.
	EditRecord(ctx context.Context, s SessionHandle, externalID string) error
	// Save persists the record on the final step and returns the identifier
	// the portal assigned to it.
	Save(ctx context.Context, s SessionHandle) (externalID string, err error)
	// Probe reports whether the record is complete on the remote side. It is
	// read-only and may be called from any goroutine.
	Probe(ctx context.Context, externalID string) (complete bool, err error)
}
