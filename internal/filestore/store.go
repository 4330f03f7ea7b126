// Package filestore keeps uploaded file contents on local disk under one
// root directory.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrUnsafePath is returned for names that are absolute or escape the root.
var ErrUnsafePath = errors.New("filestore: path escapes upload directory")

type Store struct {
	root string
}

func New(root string) *Store { return &Store{root: root} }

func (s *Store) Root() string { return s.root }

// Path resolves name under the root. Only local names (no "..", not
// absolute) are accepted.
func (s *Store) Path(name string) (string, error) {
	clean := filepath.FromSlash(name)
	if name == "" || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(s.root, clean), nil
}

// Write creates or truncates name, creating parent directories.
func (s *Store) Write(name string, content []byte) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", name, err)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) Read(name string) ([]byte, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Exists reports whether name is present. Unsafe names never exist.
func (s *Store) Exists(name string) bool {
	p, err := s.Path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Remove deletes name; a missing file is not an error.
func (s *Store) Remove(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}
