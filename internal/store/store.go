// Package store persists the items of each target and their submission
// progress.
//
// The store is a plain key-value layer keyed by (target, item index). It
// holds no workflow logic; the last write for an index wins.
package store

import (
	"context"
	"encoding/json"
	"strings"
)

// SubmitState is the single authoritative completion flag of an item.
type SubmitState string

// Submit states.
const (
	// Pending items have not been submitted yet.
	Pending SubmitState = "PENDING"
	// Submitted items were saved on the portal but not verified.
	Submitted SubmitState = "SUBMITTED"
	// Incomplete items were found unfinished by a probe.
	Incomplete SubmitState = "INCOMPLETE"
	// Complete items were verified by a probe and are never resubmitted.
	Complete SubmitState = "COMPLETE"
)

// ParseSubmitState maps a stored value to a SubmitState. Unknown or empty
// values load as Pending.
func ParseSubmitState(s string) SubmitState {
	switch SubmitState(strings.ToUpper(strings.TrimSpace(s))) {
	case Submitted:
		return Submitted
	case Incomplete:
		return Incomplete
	case Complete:
		return Complete
	default:
		return Pending
	}
}

// Item is one unit of work: a payload that ends up as one row of a remote
// record.
type Item struct {
	// Index is the item's position in the target's original list.
	Index int `json:"index"`
	// Payload is handed to the form driver untouched.
	Payload json.RawMessage `json:"payload"`
	// SubmitState drives all retry decisions.
	SubmitState SubmitState `json:"submitState"`
	// ExternalID is assigned once the portal created a record for the item.
	ExternalID string `json:"externalId,omitempty"`
}

// Store persists items per target. Implementations must be safe for
// concurrent use.
type Store interface {
	// LoadItems returns targetID's items ordered by index. A target with no
	// items yields an empty slice and no error.
	LoadItems(ctx context.Context, targetID string) ([]Item, error)
	// SaveItemState records the submit state of one item.
	SaveItemState(ctx context.Context, targetID string, index int, state SubmitState) error
	// SaveExternalID records the external identifier of one item.
	SaveExternalID(ctx context.Context, targetID string, index int, externalID string) error
	// PutItems inserts or replaces items for targetID.
	PutItems(ctx context.Context, targetID string, items []Item) error
	// Close releases resources held by the store.
	Close() error
}

// Counts tallies items by submit state.
func Counts(items []Item) map[SubmitState]int {
	counts := make(map[SubmitState]int, 4)
	for _, it := range items {
		counts[it.SubmitState]++
	}
	return counts
}
