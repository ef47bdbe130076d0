package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage stages objects as plain files under a single directory.
type LocalStorage struct {
	basePath string
}

// NewLocal creates the staging directory if it does not exist yet.
func NewLocal(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		basePath = "uploads"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Dir returns the directory objects are written to.
func (s *LocalStorage) Dir() string {
	return s.basePath
}

func (s *LocalStorage) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.basePath, key), nil
}

// Put writes the object to disk. Existing files are never overwritten.
func (s *LocalStorage) Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return ObjectInfo{}, err
	}

	// The directory may have been removed while the process was running.
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return ObjectInfo{}, fmt.Errorf("create staging directory: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrObjectExists)
		}
		return ObjectInfo{}, fmt.Errorf("create file: %w", err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(fullPath)
		return ObjectInfo{}, fmt.Errorf("write file: %w", err)
	}

	st, err := os.Stat(fullPath)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat file: %w", err)
	}

	return ObjectInfo{
		Key:          key,
		Size:         n,
		ContentType:  opt.ContentType,
		LastModified: st.ModTime(),
		Metadata:     opt.Metadata,
	}, nil
}

// Get opens a staged file for reading.
func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("open file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectInfo{}, fmt.Errorf("stat file: %w", err)
	}

	return f, ObjectInfo{Key: key, Size: st.Size(), LastModified: st.ModTime()}, nil
}

// Delete removes a staged file.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}
