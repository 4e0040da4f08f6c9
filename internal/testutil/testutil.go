// Package testutil provides testing utilities for formrunner tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/store"
)

// Calls counts the driver calls a FakeDriver has served.
type Calls struct {
	Acquire int
	Release int
	Fill    int
	Submit  int
	Save    int
	Probe   int
	Edit    int
}

// Total returns the number of form and probe calls, excluding session
// acquisition and release.
func (c Calls) Total() int {
	return c.Fill + c.Submit + c.Save + c.Probe + c.Edit
}

// FakeDriver is a scriptable driver.FormDriver. With no hooks set it accepts
// every step, returns ext-1, ext-2, … from Save, and reports every record
// complete. Hooks receive the 1-based call number for their method; a
// failed AcquireFunc call still counts.
type FakeDriver struct {
	AcquireFunc func(n int, targetID string) error
	FillFunc    func(n int, s driver.SessionHandle, payloads []driver.Payload) error
	SubmitFunc  func(n int, s driver.SessionHandle, isLastStep bool) (driver.Result, error)
	SaveFunc    func(n int, s driver.SessionHandle) (string, error)
	ProbeFunc   func(n int, externalID string) (bool, error)
	EditFunc    func(n int, s driver.SessionHandle, externalID string) error

	mu       sync.Mutex
	calls    Calls
	filled   []driver.Payload
	released []driver.SessionHandle
	probed   []string
	edited   []string
}

var _ driver.FormDriver = (*FakeDriver)(nil)

// AcquireSession implements driver.FormDriver.
func (f *FakeDriver) AcquireSession(ctx context.Context, targetID string) (driver.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return driver.SessionHandle{}, err
	}
	f.mu.Lock()
	f.calls.Acquire++
	n := f.calls.Acquire
	f.mu.Unlock()
	if f.AcquireFunc != nil {
		if err := f.AcquireFunc(n, targetID); err != nil {
			return driver.SessionHandle{}, err
		}
	}
	return driver.SessionHandle{ID: fmt.Sprintf("tab-%d", n), TargetID: targetID}, nil
}

// ReleaseSession implements driver.FormDriver.
func (f *FakeDriver) ReleaseSession(s driver.SessionHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Release++
	f.released = append(f.released, s)
}

// FillFields implements driver.FormDriver.
func (f *FakeDriver) FillFields(_ context.Context, s driver.SessionHandle, payloads []driver.Payload) error {
	f.mu.Lock()
	f.calls.Fill++
	n := f.calls.Fill
	f.filled = append(f.filled, payloads...)
	fn := f.FillFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(n, s, payloads)
	}
	return nil
}

// Submit implements driver.FormDriver.
func (f *FakeDriver) Submit(_ context.Context, s driver.SessionHandle, isLastStep bool) (driver.Result, error) {
	f.mu.Lock()
	f.calls.Submit++
	n := f.calls.Submit
	fn := f.SubmitFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(n, s, isLastStep)
	}
	return driver.Result{Accepted: true}, nil
}

// EditRecord implements driver.FormDriver.
func (f *FakeDriver) EditRecord(_ context.Context, s driver.SessionHandle, externalID string) error {
	f.mu.Lock()
	f.calls.Edit++
	n := f.calls.Edit
	f.edited = append(f.edited, externalID)
	fn := f.EditFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(n, s, externalID)
	}
	return nil
}

// Save implements driver.FormDriver.
func (f *FakeDriver) Save(_ context.Context, s driver.SessionHandle) (string, error) {
	f.mu.Lock()
	f.calls.Save++
	n := f.calls.Save
	fn := f.SaveFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(n, s)
	}
	return fmt.Sprintf("ext-%d", n), nil
}

// Probe implements driver.FormDriver.
func (f *FakeDriver) Probe(_ context.Context, externalID string) (bool, error) {
	f.mu.Lock()
	f.calls.Probe++
	n := f.calls.Probe
	f.probed = append(f.probed, externalID)
	fn := f.ProbeFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(n, externalID)
	}
	return true, nil
}

// Calls returns a snapshot of the call counters.
func (f *FakeDriver) Calls() Calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Filled returns every payload passed to FillFields, in call order.
func (f *FakeDriver) Filled() []driver.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.filled)
}

// Released returns the handles passed to ReleaseSession.
func (f *FakeDriver) Released() []driver.SessionHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.released)
}

// Probed returns the external IDs passed to Probe, in call order.
func (f *FakeDriver) Probed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.probed)
}

// Edited returns the external IDs passed to EditRecord, in call order.
func (f *FakeDriver) Edited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.edited)
}

// ItemPayload builds the payload used by SeedItems for index i.
func ItemPayload(i int) driver.Payload {
	data, _ := json.Marshal(map[string]any{"row": i})
	return data
}

// PayloadIndex decodes a payload built by ItemPayload.
func PayloadIndex(t *testing.T, p driver.Payload) int {
	t.Helper()
	var v struct {
		Row int `json:"row"`
	}
	if err := json.Unmarshal(p, &v); err != nil {
		t.Fatalf("decode payload %s: %v", p, err)
	}
	return v.Row
}

// SeedItems stores n pending items for targetID and returns them.
func SeedItems(t *testing.T, s store.Store, targetID string, n int) []store.Item {
	t.Helper()
	items := make([]store.Item, n)
	for i := range items {
		items[i] = store.Item{Index: i, Payload: ItemPayload(i), SubmitState: store.Pending}
	}
	if err := s.PutItems(context.Background(), targetID, items); err != nil {
		t.Fatalf("failed to seed items: %v", err)
	}
	return items
}

// LoadItems loads targetID's items or fails the test.
func LoadItems(t *testing.T, s store.Store, targetID string) []store.Item {
	t.Helper()
	items, err := s.LoadItems(context.Background(), targetID)
	if err != nil {
		t.Fatalf("failed to load items: %v", err)
	}
	return items
}

// WaitFor polls cond until it returns true or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// Recorder collects published events. It satisfies event.Publisher.
type Recorder struct {
	mu     sync.Mutex
	events []event.Event
}

// Publish implements event.Publisher.
func (r *Recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Progress returns the recorded progress events.
func (r *Recorder) Progress() []event.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.ProgressEvent
	for _, e := range r.events {
		if p, ok := e.(event.ProgressEvent); ok {
			out = append(out, p)
		}
	}
	return out
}

// Results returns the recorded result events.
func (r *Recorder) Results() []event.ResultEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.ResultEvent
	for _, e := range r.events {
		if res, ok := e.(event.ResultEvent); ok {
			out = append(out, res)
		}
	}
	return out
}

// WaitResult waits until a result for taskID was published and returns it.
func (r *Recorder) WaitResult(t *testing.T, taskID string, timeout time.Duration) event.ResultEvent {
	t.Helper()
	var found event.ResultEvent
	WaitFor(t, timeout, func() bool {
		for _, res := range r.Results() {
			if res.TaskID == taskID {
				found = res
				return true
			}
		}
		return false
	})
	return found
}
