package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/formrunner/internal/control"
	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/errors"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/store"
	"github.com/Iron-Ham/formrunner/internal/testutil"
)

func TestKind_Phase(t *testing.T) {
	tests := []struct {
		kind Kind
		want event.Phase
	}{
		{KindSubmit, event.PhaseSubmit},
		{KindRetry, event.PhaseRetry},
		{KindCheck, event.PhaseCheck},
	}
	for _, tt := range tests {
		if got := tt.kind.Phase(); got != tt.want {
			t.Errorf("Kind(%d).Phase() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestRun_Submit(t *testing.T) {
	tests := []struct {
		name         string
		items        int
		sessions     int
		wantSessions int
	}{
		{"25 items over 5 sessions", 25, 5, 3},
		{"3 items fit one session", 3, 10, 1},
		{"request above the configured maximum", 100, 50, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, testSettings)
			testutil.SeedItems(t, f.store, target, tt.items)
			st := newState("t1")

			res := f.orch.Run(context.Background(), st, Job{Kind: KindSubmit, Sessions: tt.sessions})

			if res.Status != string(control.StatusCompleted) {
				t.Fatalf("Status = %q, want COMPLETED (error %q)", res.Status, res.Error)
			}
			if res.Current != tt.items || res.Total != tt.items {
				t.Errorf("result = %d/%d, want %d/%d", res.Current, res.Total, tt.items, tt.items)
			}
			if res.Percentage() != 100 {
				t.Errorf("Percentage() = %v, want 100", res.Percentage())
			}
			if st.Status() != control.StatusCompleted {
				t.Errorf("state status = %s, want COMPLETED", st.Status())
			}

			calls := f.fake.Calls()
			if calls.Acquire != tt.wantSessions {
				t.Errorf("sessions opened = %d, want %d", calls.Acquire, tt.wantSessions)
			}
			if calls.Release != calls.Acquire {
				t.Errorf("released %d of %d sessions", calls.Release, calls.Acquire)
			}
			if calls.Edit != 0 {
				t.Error("nothing was incomplete, retry should not run")
			}

			seen := make(map[int]int)
			for _, p := range f.fake.Filled() {
				seen[testutil.PayloadIndex(t, p)]++
			}
			for i := range tt.items {
				if seen[i] != testSettings.FormSteps {
					t.Errorf("item %d filled %d times, want once per step", i, seen[i])
				}
			}

			for _, it := range testutil.LoadItems(t, f.store, target) {
				if it.SubmitState != store.Complete {
					t.Errorf("item %d = %s, want COMPLETE", it.Index, it.SubmitState)
				}
			}

			results := f.events.Results()
			if len(results) != 1 || results[0].TaskID != "t1" {
				t.Errorf("results = %+v, want exactly one for t1", results)
			}
		})
	}
}

func TestRun_SubmitChecksAndRetries(t *testing.T) {
	fake := &testutil.FakeDriver{
		SaveFunc: func(n int, _ driver.SessionHandle) (string, error) {
			if n > 3 {
				return "", nil
			}
			return fmt.Sprintf("ext-%d", n), nil
		},
	}
	// The second form is incomplete until its record has been edited.
	fake.ProbeFunc = func(_ int, externalID string) (bool, error) {
		return externalID != "ext-2" || len(fake.Edited()) > 0, nil
	}
	s := testSettings
	s.SubBatchSize = 5
	f := newFixture(t, fake, s)
	testutil.SeedItems(t, f.store, target, 15)

	res := f.orch.Run(context.Background(), newState("t1"), Job{Kind: KindSubmit, Sessions: 1})

	if res.Status != string(control.StatusCompleted) || res.Current != 15 {
		t.Fatalf("result = %+v, want COMPLETED 15/15", res)
	}
	edited := fake.Edited()
	if len(edited) != 5 {
		t.Errorf("edited %d records, want the 5 items of the incomplete form", len(edited))
	}
	for _, id := range edited {
		if id != "ext-2" {
			t.Errorf("edited %q, want only ext-2", id)
		}
	}

	phases := make(map[event.Phase]bool)
	for _, p := range f.events.Progress() {
		phases[p.Phase] = true
	}
	for _, want := range []event.Phase{event.PhaseSubmit, event.PhaseCheck, event.PhaseRetry} {
		if !phases[want] {
			t.Errorf("no progress reported for phase %s", want)
		}
	}
}

func TestRun_PartialFailureStillCompletes(t *testing.T) {
	fake := &testutil.FakeDriver{
		FillFunc: func(_ int, _ driver.SessionHandle, payloads []driver.Payload) error {
			if row(payloads[0]) == 9 {
				return errors.ErrElementNotFound
			}
			return nil
		},
	}
	f := newFixture(t, fake, testSettings)
	testutil.SeedItems(t, f.store, target, 25)

	res := f.orch.Run(context.Background(), newState("t1"), Job{Kind: KindSubmit, Sessions: 3})

	if res.Status != string(control.StatusCompleted) {
		t.Fatalf("Status = %q, want COMPLETED", res.Status)
	}
	if res.Current != 17 || res.Total != 25 {
		t.Errorf("result = %d/%d, want 17/25", res.Current, res.Total)
	}
	if !strings.Contains(res.Error, "element not found") {
		t.Errorf("Error = %q, want the session failure", res.Error)
	}
}

func TestRun_EmptyTarget(t *testing.T) {
	f := newFixture(t, nil, testSettings)

	for _, kind := range []Kind{KindSubmit, KindRetry, KindCheck} {
		res := f.orch.Run(context.Background(), newState("t1"), Job{Kind: kind})
		if res.Status != string(control.StatusCompleted) || res.Total != 0 {
			t.Errorf("kind %d: result = %+v, want COMPLETED with total 0", kind, res)
		}
	}
	if calls := f.fake.Calls(); calls.Total() != 0 || calls.Acquire != 0 {
		t.Errorf("driver calls = %+v, want none", calls)
	}
}

func TestRun_PauseAndResume(t *testing.T) {
	st := newState("t1")
	fake := &testutil.FakeDriver{
		FillFunc: func(n int, _ driver.SessionHandle, _ []driver.Payload) error {
			if n == 1 {
				st.Pause()
			}
			return nil
		},
	}
	f := newFixture(t, fake, testSettings)
	testutil.SeedItems(t, f.store, target, 3)

	done := make(chan event.ResultEvent, 1)
	go func() {
		done <- f.orch.Run(context.Background(), st, Job{Kind: KindSubmit, Sessions: 1})
	}()

	testutil.WaitFor(t, time.Second, func() bool { return st.Paused() })
	time.Sleep(50 * time.Millisecond)
	if calls := fake.Calls(); calls.Fill != 1 || calls.Submit != 0 || calls.Save != 0 {
		t.Fatalf("calls while paused = %+v, want only the first fill", calls)
	}

	st.Resume()
	select {
	case res := <-done:
		if res.Status != string(control.StatusCompleted) || res.Current != 3 {
			t.Errorf("result = %+v, want COMPLETED 3/3", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish after resume")
	}

	// The paused step continued with its submit instead of refilling.
	if calls := fake.Calls(); calls.Fill != 2 || calls.Submit != 2 || calls.Save != 1 {
		t.Errorf("calls = %+v, want 2 fills, 2 submits, 1 save", calls)
	}
}

func TestRun_Stop(t *testing.T) {
	st := newState("t1")
	fake := &testutil.FakeDriver{
		FillFunc: func(n int, _ driver.SessionHandle, _ []driver.Payload) error {
			if n == 1 {
				st.Stop()
			}
			return nil
		},
	}
	f := newFixture(t, fake, testSettings)
	testutil.SeedItems(t, f.store, target, 25)

	res := f.orch.Run(context.Background(), st, Job{Kind: KindSubmit, Sessions: 1})

	if res.Status != string(control.StatusStopped) {
		t.Fatalf("Status = %q, want STOPPED", res.Status)
	}
	if res.Error != "" {
		t.Errorf("Error = %q, a stop is not an error", res.Error)
	}
	after := fake.Calls()
	if after.Fill != 1 || after.Submit != 0 || after.Save != 0 || after.Probe != 0 {
		t.Errorf("calls = %+v, want nothing after the stopping fill", after)
	}
	if after.Release != after.Acquire {
		t.Errorf("released %d of %d sessions", after.Release, after.Acquire)
	}
	for _, it := range testutil.LoadItems(t, f.store, target) {
		if it.SubmitState != store.Pending {
			t.Errorf("item %d = %s, want PENDING", it.Index, it.SubmitState)
		}
	}
}

func TestRun_StopReleasesSecondarySessions(t *testing.T) {
	st := newState("t1")
	var released []driver.SessionHandle
	fake := &testutil.FakeDriver{}
	fake.SubmitFunc = func(int, driver.SessionHandle, bool) (driver.Result, error) {
		st.Stop()
		released = fake.Released()
		return driver.Result{Accepted: true}, nil
	}
	f := newFixture(t, fake, testSettings)
	testutil.SeedItems(t, f.store, target, 3)

	res := f.orch.Run(context.Background(), st, Job{Kind: KindSubmit, Sessions: 1})
	if res.Status != string(control.StatusStopped) {
		t.Fatalf("Status = %q, want STOPPED", res.Status)
	}
	// A single session is the primary one and survives the stop hook.
	if len(released) != 0 {
		t.Errorf("stop released %d sessions, want the primary kept", len(released))
	}
	if got := len(fake.Released()); got != 1 {
		t.Errorf("released at task end = %d, want 1", got)
	}
}

func TestRun_PanicIsReportedAsFailed(t *testing.T) {
	fake := &testutil.FakeDriver{
		FillFunc: func(int, driver.SessionHandle, []driver.Payload) error {
			panic("driver bug")
		},
	}
	f := newFixture(t, fake, testSettings)
	testutil.SeedItems(t, f.store, target, 3)
	st := newState("t1")

	res := f.orch.Run(context.Background(), st, Job{Kind: KindSubmit})

	if res.Status != string(control.StatusFailed) {
		t.Fatalf("Status = %q, want FAILED", res.Status)
	}
	if !strings.Contains(res.Error, "driver bug") {
		t.Errorf("Error = %q, want the panic value", res.Error)
	}
	if st.Status() != control.StatusFailed {
		t.Errorf("state status = %s, want FAILED", st.Status())
	}
	if got := len(f.events.Results()); got != 1 {
		t.Errorf("published %d results, want 1", got)
	}
	if got := len(fake.Released()); got != fake.Calls().Acquire {
		t.Errorf("released %d of %d sessions after panic", got, fake.Calls().Acquire)
	}
}

type failingStore struct{ store.Store }

func (failingStore) LoadItems(context.Context, string) ([]store.Item, error) {
	return nil, errors.New("database is locked")
}

func TestRun_StoreFailure(t *testing.T) {
	o := New(&testutil.FakeDriver{}, failingStore{store.NewMemoryStore()}, WithSettings(testSettings))
	res := o.Run(context.Background(), newState("t1"), Job{Kind: KindSubmit})
	if res.Status != string(control.StatusFailed) || !strings.Contains(res.Error, "database is locked") {
		t.Errorf("result = %+v, want FAILED with the store error", res)
	}
}

func TestRun_CancelledContextStops(t *testing.T) {
	f := newFixture(t, nil, testSettings)
	testutil.SeedItems(t, f.store, target, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.orch.Run(ctx, newState("t1"), Job{Kind: KindSubmit})

	if res.Status != string(control.StatusStopped) {
		t.Errorf("Status = %q, want STOPPED", res.Status)
	}
	if res.Total != 5 {
		t.Errorf("Total = %d, want 5 (read after cancellation)", res.Total)
	}
}

func TestFanOut(t *testing.T) {
	t.Run("failure does not stop siblings", func(t *testing.T) {
		var ran atomic.Int32
		err := fanOut(4, 0, func(i int) error {
			ran.Add(1)
			if i == 0 {
				return errors.New("boom")
			}
			return nil
		})
		if err == nil || err.Error() != "boom" {
			t.Errorf("fanOut() = %v, want boom", err)
		}
		if ran.Load() != 4 {
			t.Errorf("ran %d workers, want 4", ran.Load())
		}
	})

	t.Run("failures win over stops", func(t *testing.T) {
		err := fanOut(3, 1, func(i int) error {
			switch i {
			case 0:
				return errors.ErrTaskStopped
			case 1:
				return errors.New("first")
			default:
				return errors.New("second")
			}
		})
		if errors.IsStopped(err) {
			t.Errorf("fanOut() = %v, want the failures only", err)
		}
		if err == nil || !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "second") {
			t.Errorf("fanOut() = %v, want both failures joined", err)
		}
	})

	t.Run("only stops", func(t *testing.T) {
		err := fanOut(2, 0, func(int) error { return errors.ErrTaskStopped })
		if !errors.IsStopped(err) {
			t.Errorf("fanOut() = %v, want ErrTaskStopped", err)
		}
	})

	t.Run("panic becomes an error", func(t *testing.T) {
		err := fanOut(2, 0, func(i int) error {
			if i == 1 {
				panic("worker bug")
			}
			return nil
		})
		if err == nil || !strings.Contains(err.Error(), "worker bug") {
			t.Errorf("fanOut() = %v, want the panic as an error", err)
		}
	})
}
