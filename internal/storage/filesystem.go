package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists blobs onto the local filesystem. Intended for
// development and tests where no object-storage service is available.
type FileStore struct {
	baseDir string
	baseURL string
}

func NewFileStore(baseDir, baseURL string) (*FileStore, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure base directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *FileStore) Put(ctx context.Context, data []byte, filename string, category Category) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	key := newKey(category, filename)
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Object{}, fmt.Errorf("create category directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("write blob %s: %w", key, err)
	}

	return Object{URL: s.baseURL + "/" + key, Key: key}, nil
}

func (s *FileStore) Get(ctx context.Context, keyOrURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := s.resolveKey(keyOrURL)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	resolved, err := s.resolveKey(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.baseDir, filepath.FromSlash(resolved))); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", resolved, err)
	}
	return nil
}

// resolveKey maps a stored URL back to its key and rejects keys escaping the
// base directory.
func (s *FileStore) resolveKey(keyOrURL string) (string, error) {
	key := keyOrURL
	if trimmed, ok := strings.CutPrefix(keyOrURL, s.baseURL+"/"); ok {
		key = trimmed
	}

	clean := filepath.ToSlash(filepath.Clean("/" + key))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid blob key: %s", keyOrURL)
	}
	return clean, nil
}
