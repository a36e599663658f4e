package io

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IORecordFileLoader reads record batches from a directory on the local
// filesystem. Paths are resolved relative to the root and may not leave it.
type IORecordFileLoader struct {
	root string
}

// NewIORecordFileLoader creates a loader rooted at dir.
func NewIORecordFileLoader(dir string) (*IORecordFileLoader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &IORecordFileLoader{root: abs}, nil
}

// GetFile reads filePath below the loader root.
func (l *IORecordFileLoader) GetFile(ctx context.Context, filePath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := filepath.Join(l.root, filepath.FromSlash(filePath))
	rel, err := filepath.Rel(l.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("path %q escapes the record directory", filePath)
	}

	return os.ReadFile(full)
}
