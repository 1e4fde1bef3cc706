package fallback

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// LocalStore implements Store using the local file system. Each payload
// lives in its own file under root/<namespace>/<key>, with both path
// segments escaped so arbitrary cache keys stay filename-safe.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at the given directory,
// creating it if necessary.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create fallback root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(namespace, key string) string {
	return filepath.Join(s.root, url.PathEscape(namespace), url.PathEscape(key))
}

// Get returns the payload stored for the key, or ErrNotFound.
func (s *LocalStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(namespace, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Set writes the payload atomically via a temp file and rename.
func (s *LocalStore) Set(_ context.Context, namespace, key string, data []byte) error {
	path := s.path(namespace, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// Delete removes the key. Deleting an absent key is not an error.
func (s *LocalStore) Delete(_ context.Context, namespace, key string) error {
	err := os.Remove(s.path(namespace, key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close is a no-op.
func (s *LocalStore) Close() error {
	return nil
}
