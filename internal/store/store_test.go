package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/Iron-Ham/formrunner/internal/errors"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "items.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func seed(t *testing.T, s Store, target string, n int) {
	t.Helper()
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{Index: i, Payload: json.RawMessage(`{"row":` + strconv.Itoa(i) + `}`)}
	}
	if err := s.PutItems(context.Background(), target, items); err != nil {
		t.Fatalf("PutItems() error = %v", err)
	}
}

func TestParseSubmitState(t *testing.T) {
	tests := []struct {
		in   string
		want SubmitState
	}{
		{"PENDING", Pending},
		{"submitted", Submitted},
		{" Incomplete ", Incomplete},
		{"COMPLETE", Complete},
		{"", Pending},
		{"0", Pending},
		{"bogus", Pending},
	}
	for _, tt := range tests {
		if got := ParseSubmitState(tt.in); got != tt.want {
			t.Errorf("ParseSubmitState(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStore_RoundTrip(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, "r-1", 3)

			if err := s.SaveItemState(ctx, "r-1", 1, Submitted); err != nil {
				t.Fatalf("SaveItemState() error = %v", err)
			}
			if err := s.SaveExternalID(ctx, "r-1", 1, "ext-9"); err != nil {
				t.Fatalf("SaveExternalID() error = %v", err)
			}

			items, err := s.LoadItems(ctx, "r-1")
			if err != nil {
				t.Fatalf("LoadItems() error = %v", err)
			}
			if len(items) != 3 {
				t.Fatalf("LoadItems() returned %d items, want 3", len(items))
			}
			for i, it := range items {
				if it.Index != i {
					t.Errorf("items[%d].Index = %d, want ordered by index", i, it.Index)
				}
			}
			if items[0].SubmitState != Pending {
				t.Errorf("items[0].SubmitState = %q, want PENDING", items[0].SubmitState)
			}
			if items[1].SubmitState != Submitted || items[1].ExternalID != "ext-9" {
				t.Errorf("items[1] = %+v, want SUBMITTED with ext-9", items[1])
			}
			if string(items[2].Payload) != `{"row":2}` {
				t.Errorf("items[2].Payload = %s", items[2].Payload)
			}
		})
	}
}

func TestStore_UnknownTargetIsEmpty(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			items, err := s.LoadItems(context.Background(), "nobody")
			if err != nil {
				t.Fatalf("LoadItems() error = %v", err)
			}
			if items == nil || len(items) != 0 {
				t.Errorf("LoadItems() = %v, want empty non-nil slice", items)
			}
		})
	}
}

func TestStore_UpdateMissingItem(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, "r-1", 1)
			err := s.SaveItemState(context.Background(), "r-1", 5, Complete)
			var nf *errors.NotFoundError
			if !errors.As(err, &nf) {
				t.Errorf("SaveItemState() error = %v, want NotFoundError", err)
			}
		})
	}
}

func TestStore_LastWriteWins(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, "r-1", 1)
			_ = s.SaveItemState(ctx, "r-1", 0, Incomplete)
			_ = s.SaveItemState(ctx, "r-1", 0, Complete)

			items, _ := s.LoadItems(ctx, "r-1")
			if items[0].SubmitState != Complete {
				t.Errorf("SubmitState = %q, want COMPLETE", items[0].SubmitState)
			}
		})
	}
}

func TestStore_PutItemsNormalizesState(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.PutItems(ctx, "r-1", []Item{
				{Index: 0, SubmitState: "weird"},
				{Index: 1, SubmitState: Complete, ExternalID: "ext-1"},
			})
			if err != nil {
				t.Fatalf("PutItems() error = %v", err)
			}
			items, _ := s.LoadItems(ctx, "r-1")
			if items[0].SubmitState != Pending {
				t.Errorf("unknown state loaded as %q, want PENDING", items[0].SubmitState)
			}
			if items[1].SubmitState != Complete {
				t.Errorf("items[1].SubmitState = %q, want COMPLETE", items[1].SubmitState)
			}
		})
	}
}

func TestStore_TargetsAreIsolated(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, "a", 2)
			seed(t, s, "b", 1)
			_ = s.SaveItemState(ctx, "a", 0, Complete)

			b, _ := s.LoadItems(ctx, "b")
			if len(b) != 1 || b[0].SubmitState != Pending {
				t.Errorf("target b = %+v, want one pending item", b)
			}
		})
	}
}

func TestStore_ConcurrentWrites(t *testing.T) {
	for name, s := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seed(t, s, "r-1", 20)

			var wg sync.WaitGroup
			for i := range 20 {
				wg.Add(1)
				go func(idx int) {
					defer wg.Done()
					if err := s.SaveItemState(ctx, "r-1", idx, Submitted); err != nil {
						t.Errorf("SaveItemState(%d) error = %v", idx, err)
					}
				}(i)
			}
			wg.Wait()

			items, _ := s.LoadItems(ctx, "r-1")
			if got := Counts(items)[Submitted]; got != 20 {
				t.Errorf("submitted = %d, want 20", got)
			}
		})
	}
}
