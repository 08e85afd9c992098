// Package storagefs provides the os-backed filesystem adapter used by the
// organize pipeline's storage stage and the batch CSV export.
package storagefs

import (
	"fmt"
	"os"
	"path/filepath"
)

// FS is the filesystem contract the organize pipeline and batch exporter
// depend on.
type FS struct {
	root string
}

// New scopes every operation under root, creating it if necessary.
func New(root string) (*FS, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FS{root: root}, nil
}

// CreateSubDirectory creates (or confirms) {root}/{name} and returns its
// absolute path.
func (f *FS) CreateSubDirectory(name string) (string, error) {
	path := filepath.Join(f.root, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create subdirectory %q: %w", name, err)
	}
	return path, nil
}

// SaveCSVFile writes data to {root}/{subDirectory}/{fileName} and returns the
// resulting absolute path.
func (f *FS) SaveCSVFile(subDirectory, fileName string, data []byte) (string, error) {
	dir, err := f.CreateSubDirectory(subDirectory)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write csv file %q: %w", path, err)
	}
	return path, nil
}
