package driver

import (
	"context"
	"testing"
)

func TestNoop(t *testing.T) {
	ctx := context.Background()
	n := NewNoop()

	a, err := n.AcquireSession(ctx, "r-1")
	if err != nil {
		t.Fatalf("AcquireSession: %v", err)
	}
	b, _ := n.AcquireSession(ctx, "r-1")
	if a.ID == b.ID || a.TargetID != "r-1" {
		t.Errorf("sessions = %+v, %+v; want distinct handles for r-1", a, b)
	}

	res, err := n.Submit(ctx, a, false)
	if err != nil || !res.Accepted {
		t.Errorf("Submit = %+v, %v; want accepted", res, err)
	}

	id1, _ := n.Save(ctx, a)
	id2, _ := n.Save(ctx, b)
	if id1 != "r-1-1" || id2 != "r-1-2" {
		t.Errorf("saved ids = %q, %q; want r-1-1, r-1-2", id1, id2)
	}

	if ok, err := n.Probe(ctx, id1); err != nil || !ok {
		t.Errorf("Probe = %v, %v; want complete", ok, err)
	}
}

func TestNoop_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := NewNoop()
	h := SessionHandle{ID: "noop-1", TargetID: "r-1"}

	if err := n.FillFields(ctx, h, []Payload{Payload(`{}`)}); err == nil {
		t.Error("FillFields should fail on a cancelled context")
	}
	if _, err := n.Save(ctx, h); err == nil {
		t.Error("Save should fail on a cancelled context")
	}
	if _, err := n.Probe(ctx, "x"); err == nil {
		t.Error("Probe should fail on a cancelled context")
	}
}
