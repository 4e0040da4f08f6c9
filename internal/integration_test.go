// Package internal contains integration tests that run the command loop,
// the pipeline, and the sqlite store together.
package internal

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/formrunner/internal/control"
	"github.com/Iron-Ham/formrunner/internal/dispatch"
	"github.com/Iron-Ham/formrunner/internal/driver"
	"github.com/Iron-Ham/formrunner/internal/event"
	"github.com/Iron-Ham/formrunner/internal/logging"
	"github.com/Iron-Ham/formrunner/internal/orchestrator"
	"github.com/Iron-Ham/formrunner/internal/poll"
	"github.com/Iron-Ham/formrunner/internal/store"
	"github.com/Iron-Ham/formrunner/internal/submit"
	"github.com/Iron-Ham/formrunner/internal/testutil"
)

type harness struct {
	store *store.SQLiteStore
	rec   *testutil.Recorder
	in    *io.PipeWriter
	done  chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "formrunner.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := logging.NopLogger()
	noop := driver.NewNoop()
	bus := event.NewBus(logger)
	rec := &testutil.Recorder{}
	bus.SubscribeAll(rec.Publish)
	bus.SubscribeAll(event.NewNDJSONWriter(io.Discard, logger).Handle)

	orch := orchestrator.New(noop, st,
		orchestrator.WithSettings(orchestrator.Settings{
			MaxSessions:  3,
			BatchSize:    4,
			SubBatchSize: 2,
			FormSteps:    2,
			CallTimeout:  time.Second,
		}),
		orchestrator.WithMachine(submit.New(noop, submit.WithCallTimeout(time.Second))),
		orchestrator.WithPublisher(bus),
		orchestrator.WithLogger(logger),
	)
	tasks := control.NewTaskManager(control.WithPollOptions(poll.Options{
		Interval:    time.Millisecond,
		MaxInterval: 5 * time.Millisecond,
	}))
	d := dispatch.New(tasks, orch, bus, dispatch.WithStore(st), dispatch.WithLogger(logger))

	pr, pw := io.Pipe()
	h := &harness{store: st, rec: rec, in: pw, done: make(chan error, 1)}
	go func() { h.done <- d.Serve(context.Background(), pr) }()
	t.Cleanup(func() { _ = pw.Close() })
	return h
}

func (h *harness) send(t *testing.T, line string) {
	t.Helper()
	if _, err := io.WriteString(h.in, line+"\n"); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func (h *harness) close(t *testing.T) {
	t.Helper()
	h.send(t, `{"action":"close"}`)
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Serve error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after close")
	}
}

// TestSubmitRetryCheck walks a target through a full submission, a retry of
// items marked incomplete, and a final check, all persisted in sqlite.
func TestSubmitRetryCheck(t *testing.T) {
	h := newHarness(t)
	testutil.SeedItems(t, h.store, "r-1", 7)

	h.send(t, `{"action":"start","taskId":"submit-1","targetId":"r-1"}`)
	res := h.rec.WaitResult(t, "submit-1", 3*time.Second)
	if res.Status != string(control.StatusCompleted) || res.Current != 7 || res.Total != 7 {
		t.Fatalf("submit result = %+v, want COMPLETED 7/7", res)
	}

	items := testutil.LoadItems(t, h.store, "r-1")
	for _, it := range items {
		if it.SubmitState != store.Complete || it.ExternalID == "" {
			t.Errorf("item %d = %s %q, want COMPLETE with an external id", it.Index, it.SubmitState, it.ExternalID)
		}
	}

	ctx := context.Background()
	for _, idx := range []int{2, 5} {
		if err := h.store.SaveItemState(ctx, "r-1", idx, store.Incomplete); err != nil {
			t.Fatal(err)
		}
	}

	h.send(t, `{"action":"retry","taskId":"retry-1","targetId":"r-1"}`)
	res = h.rec.WaitResult(t, "retry-1", 3*time.Second)
	if res.Status != string(control.StatusCompleted) || res.Current != 7 {
		t.Fatalf("retry result = %+v, want COMPLETED with 7 complete", res)
	}

	h.send(t, `{"action":"check","taskId":"check-1","targetId":"r-1"}`)
	res = h.rec.WaitResult(t, "check-1", 3*time.Second)
	if res.Status != string(control.StatusCompleted) || res.Current != 7 || res.Total != 7 {
		t.Fatalf("check result = %+v, want COMPLETED 7/7", res)
	}

	h.close(t)

	counts := store.Counts(testutil.LoadItems(t, h.store, "r-1"))
	if counts[store.Complete] != 7 {
		t.Errorf("counts = %v, want all 7 complete", counts)
	}
}

func TestUnknownTargetCompletesEmpty(t *testing.T) {
	h := newHarness(t)

	h.send(t, `{"action":"start","taskId":"empty-1","targetId":"nothing"}`)
	res := h.rec.WaitResult(t, "empty-1", 3*time.Second)
	if res.Status != string(control.StatusCompleted) || res.Total != 0 {
		t.Errorf("result = %+v, want COMPLETED 0/0", res)
	}
	h.close(t)
}
