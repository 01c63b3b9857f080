// Package blob provides a durable path-keyed blob store backed by the local
// filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidKey is returned for keys that would escape the store root.
var ErrInvalidKey = errors.New("invalid blob key")

// FileStore persists blobs under a root directory and serves them through a
// base URL.
type FileStore struct {
	root    string
	baseURL string
}

// NewFileStore creates a FileStore rooted at dir. baseURL is prepended to
// keys by URL().
func NewFileStore(dir, baseURL string) *FileStore {
	if dir == "" {
		dir = "data/audio"
	}
	return &FileStore{root: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

func (fs *FileStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.root, clean), nil
}

// Put writes data at key, creating parent directories as needed.
func (fs *FileStore) Put(_ context.Context, key string, data []byte) error {
	path, err := fs.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a non-empty blob is stored at key.
func (fs *FileStore) Exists(_ context.Context, key string) (bool, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return false, err
	}
	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stat.Size() > 0, nil
}

// Get returns the blob stored at key.
func (fs *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the blob at key. Missing blobs are not an error.
func (fs *FileStore) Delete(_ context.Context, key string) error {
	path, err := fs.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// URL returns the public URL for key.
func (fs *FileStore) URL(key string) string {
	return fs.baseURL + "/" + strings.TrimLeft(key, "/")
}
