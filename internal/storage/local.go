package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore keeps objects on the local (or network-mounted) filesystem.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a new local filesystem store rooted at baseDir.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// Create opens a writer for key, failing with ErrExists if present.
func (s *LocalStore) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	path := s.path(key)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", key, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("create %s: %w", key, ErrExists)
		}
		return nil, fmt.Errorf("create %s: %w", key, err)
	}
	return f, nil
}

// Open opens a reader for key.
func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w", key, ErrNotExist)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

// Rename links oldKey into place at newKey and removes oldKey. Link is used
// instead of rename because rename replaces an existing destination, and the
// no-replace failure is what duplicate-writer convergence is built on.
func (s *LocalStore) Rename(ctx context.Context, oldKey, newKey string) error {
	oldPath, newPath := s.path(oldKey), s.path(newKey)

	if err := os.MkdirAll(filepath.Dir(newPath), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", newKey, err)
	}

	if err := os.Link(oldPath, newPath); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("rename %s to %s: %w", oldKey, newKey, ErrExists)
		}
		if os.IsNotExist(err) {
			return fmt.Errorf("rename %s to %s: %w", oldKey, newKey, ErrNotExist)
		}
		return fmt.Errorf("rename %s to %s: %w", oldKey, newKey, err)
	}

	if err := os.Remove(oldPath); err != nil {
		return fmt.Errorf("remove %s after rename: %w", oldKey, err)
	}
	return nil
}

// Delete removes key. Absent keys are ignored.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List returns keys under prefix, sorted lexically.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	root := s.path(prefix)

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("list %s: %w", prefix, ErrNotExist)
		}
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	var keys []string
	if !info.IsDir() {
		return []string{prefix}, nil
	}

	err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether key is present.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	abs, err := filepath.Abs(s.path(key))
	if err != nil {
		abs = s.path(key)
	}
	return "file://" + strings.ReplaceAll(abs, string(os.PathSeparator), "/")
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}
