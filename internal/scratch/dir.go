// Package scratch manages short-lived working directories for in-flight
// transfers and transcription jobs. Every directory it creates is expected
// to be removed when the owning operation settles, so removal never fails
// loudly.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is a handle to one scratch directory on disk.
type Dir struct {
	path string
}

// Create makes a deterministically named scratch directory under parent.
func Create(parent, name string) (Dir, error) {
	path := filepath.Join(parent, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Dir{}, fmt.Errorf("create scratch directory %s: %w", path, err)
	}
	return Dir{path: path}, nil
}

// CreateTemp makes a randomly named scratch directory in the OS temp root.
func CreateTemp(pattern string) (Dir, error) {
	path, err := os.MkdirTemp("", pattern)
	if err != nil {
		return Dir{}, fmt.Errorf("create temp scratch directory: %w", err)
	}
	return Dir{path: path}, nil
}

// Open wraps an existing path in a Dir handle without touching disk.
func Open(path string) Dir {
	return Dir{path: path}
}

// Path returns the directory location.
func (d Dir) Path() string {
	return d.path
}

// Join builds a path for a file inside the scratch directory.
func (d Dir) Join(name string) string {
	return filepath.Join(d.path, name)
}

// Remove deletes the directory and everything in it.
func (d Dir) Remove() error {
	if d.path == "" {
		return nil
	}
	return os.RemoveAll(d.path)
}
