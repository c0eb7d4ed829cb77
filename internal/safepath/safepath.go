// Package safepath confirms that destination paths handed over by the
// frontend stay inside the roots the user has granted access to.
package safepath

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowedRoots is returned for paths escaping every allowed root.
var ErrOutsideAllowedRoots = errors.New("path is outside the allowed roots")

// Validator checks candidate paths against a fixed set of allowed roots.
type Validator struct {
	roots []string
}

// NewValidator builds a validator for the given root directories.
func NewValidator(roots ...string) *Validator {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(root))
	}
	return &Validator{roots: cleaned}
}

// Roots returns the configured allowed roots.
func (v *Validator) Roots() []string {
	out := make([]string, len(v.roots))
	copy(out, v.roots)
	return out
}

// Validate reports whether path is absolute and contained in an allowed root.
func (v *Validator) Validate(path string) error {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		return fmt.Errorf("path is empty: %w", ErrOutsideAllowedRoots)
	}
	if !filepath.IsAbs(candidate) {
		return fmt.Errorf("path %s is not absolute: %w", candidate, ErrOutsideAllowedRoots)
	}

	candidate = filepath.Clean(candidate)
	for _, root := range v.roots {
		if contains(root, candidate) {
			return nil
		}
	}
	return fmt.Errorf("path %s: %w", candidate, ErrOutsideAllowedRoots)
}

// contains reports whether candidate sits at or below root.
func contains(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
