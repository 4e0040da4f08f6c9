package logging

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRotatingWriter_AppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("existing\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rw, err := NewRotatingWriter(path, RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	if rw.Size() != int64(len("existing\n")) {
		t.Errorf("Size() = %d, want %d", rw.Size(), len("existing\n"))
	}
}

func TestRotatingWriter_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()
	rw.maxBytes = 16

	for _, line := range []string{"aaaaaaaaaa\n", "bbbbbbbbbb\n", "cccccccccc\n", "dddddddddd\n"} {
		if _, err := rw.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	current, _ := os.ReadFile(path)
	if string(current) != "dddddddddd\n" {
		t.Errorf("current = %q, want last line only", current)
	}
	b1, _ := os.ReadFile(path + ".1")
	if string(b1) != "cccccccccc\n" {
		t.Errorf("backup .1 = %q", b1)
	}
	b2, _ := os.ReadFile(path + ".2")
	if string(b2) != "bbbbbbbbbb\n" {
		t.Errorf("backup .2 = %q", b2)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backup .3 should not exist with MaxBackups=2")
	}
}

func TestRotatingWriter_NoBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	rw, err := NewRotatingWriter(path, RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()
	rw.maxBytes = 8

	_, _ = rw.Write([]byte("first-line\n"))
	_, _ = rw.Write([]byte("second\n"))

	current, _ := os.ReadFile(path)
	if string(current) != "second\n" {
		t.Errorf("current = %q, want %q", current, "second\n")
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup should be kept when MaxBackups=0")
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	rw, err := NewRotatingWriter(path, RotationConfig{MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()
	rw.maxBytes = 8

	_, _ = rw.Write([]byte("old-content\n"))
	_, _ = rw.Write([]byte("new\n"))

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}
	f, err := os.Open(path + ".1.gz")
	if err != nil {
		t.Fatalf("open gz backup: %v", err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gz: %v", err)
	}
	if !strings.Contains(string(data), "old-content") {
		t.Errorf("compressed backup = %q", data)
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "app.log"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB != 10 || cfg.MaxBackups != 3 || cfg.Compress {
		t.Errorf("DefaultRotationConfig() = %+v", cfg)
	}
}
