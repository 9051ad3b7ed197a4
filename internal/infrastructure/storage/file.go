package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileStorage publishes objects into a local directory, typically one served
// by a static file server or CDN origin.
type FileStorage struct {
	basePath  string
	prefix    string
	publicURL string
}

func NewFileStorage(basePath, prefix, publicURL string) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{
		basePath:  basePath,
		prefix:    prefix,
		publicURL: publicURL,
	}, nil
}

func (s *FileStorage) path(key string) (string, error) {
	cleaned, ok := cleanKey(applyPrefix(s.prefix, key))
	if !ok {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleaned)), nil
}

// Put writes body to a temporary file and renames it into place so readers
// never see a partial object. Expiry is kept as the file's modification
// time.
func (s *FileStorage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, expires time.Time) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create object file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("object %s: wrote %d bytes, expected %d", key, written, size)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to publish object %s: %w", key, err)
	}
	if !expires.IsZero() {
		_ = os.Chtimes(target, time.Now(), expires)
	}
	return nil
}

func (s *FileStorage) Delete(ctx context.Context, key string) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

func (s *FileStorage) PublicURL(key string) string {
	return joinURL(s.publicURL, applyPrefix(s.prefix, key))
}
