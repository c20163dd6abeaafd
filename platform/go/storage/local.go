package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects on the local filesystem under BasePath. Used for development.
type LocalStore struct {
	BasePath string
}

func NewLocalStore(basePath string) *LocalStore {
	if basePath == "" {
		panic("local store requires basePath")
	}
	return &LocalStore{BasePath: basePath}
}

func (s *LocalStore) Ensure(_ context.Context, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("storage prefix is required")
	}
	if err := os.MkdirAll(s.path(prefix), 0o755); err != nil {
		return fmt.Errorf("create prefix path: %w", err)
	}
	return nil
}

func (s *LocalStore) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	full := s.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create object dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create object: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close object: %w", err)
	}
	return key, nil
}

func (s *LocalStore) DeletePrefix(_ context.Context, prefix string) error {
	if strings.Trim(prefix, "/") == "" {
		return fmt.Errorf("%w: refusing to delete the store root", ErrInvalidKey)
	}
	if err := os.RemoveAll(s.path(prefix)); err != nil {
		return fmt.Errorf("remove prefix: %w", err)
	}
	return nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.BasePath, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

var _ Store = (*LocalStore)(nil)
