package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLock(t *testing.T) {
	db := filepath.Join(t.TempDir(), "formrunner.db")

	first := NewFileLock(db)
	if err := first.TryLock(); err != nil {
		t.Fatalf("first TryLock: %v", err)
	}
	if err := first.TryLock(); err != nil {
		t.Errorf("relocking a held lock should be a no-op, got %v", err)
	}

	data, err := os.ReadFile(first.Path())
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		t.Error("lock file should record the holder pid")
	}

	second := NewFileLock(db)
	if err := second.TryLock(); !errors.Is(err, ErrLocked) {
		t.Fatalf("second TryLock error = %v, want ErrLocked", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if err := first.Unlock(); err != nil {
		t.Errorf("second Unlock should be a no-op, got %v", err)
	}

	if err := second.TryLock(); err != nil {
		t.Fatalf("TryLock after release: %v", err)
	}
	_ = second.Unlock()
}
