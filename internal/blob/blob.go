// Package blob abstracts storage of uploaded media so the pipeline never
// depends on a specific backend.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store resolves uploaded-blob references.
type Store interface {
	// Stat reports whether the blob exists. Used for cheap validation at
	// submission time.
	Stat(ref string) error

	// Path returns a local filesystem path for the blob, for handing to the
	// audio encoder.
	Path(ref string) (string, error)
}

// LocalStore keeps blobs as files under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{root: dir}
}

func (s *LocalStore) resolve(ref string) (string, error) {
	clean := filepath.Clean(ref)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid blob reference %q", ref)
	}
	return filepath.Join(s.root, clean), nil
}

// Stat reports whether the blob exists.
func (s *LocalStore) Stat(ref string) error {
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("blob %q not found: %w", ref, err)
	}
	if info.IsDir() {
		return fmt.Errorf("blob %q is a directory", ref)
	}
	return nil
}

// Path returns the local path for the blob.
func (s *LocalStore) Path(ref string) (string, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("blob %q not found: %w", ref, err)
	}
	return path, nil
}
