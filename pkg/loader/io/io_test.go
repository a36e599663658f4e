package io

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestGetFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "batches"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "batches", "a.json"), []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := NewIORecordFileLoader(dir)
	if err != nil {
		t.Fatalf("NewIORecordFileLoader() error = %v", err)
	}

	got, err := l.GetFile(context.Background(), "batches/a.json")
	if err != nil || string(got) != "[]" {
		t.Fatalf("GetFile() = %q, %v", got, err)
	}
	if _, err := l.GetFile(context.Background(), "../outside.json"); err == nil {
		t.Fatalf("GetFile() should reject paths outside the root")
	}
	if _, err := l.GetFile(context.Background(), "batches/missing.json"); err == nil {
		t.Fatalf("GetFile() should fail for a missing file")
	}
}
