// Package storage holds the staging area for uploads while they are being
// analyzed. Objects written here are expected to be deleted by the request
// that wrote them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"imagerelay/internal/config"
)

// ErrObjectExists is returned by Put when the key is already taken.
var ErrObjectExists = errors.New("object already exists")

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1.
// ContentType and Metadata are optional.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about a staged object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is the staging backend used by the relay.
// Implementations must be safe for concurrent use by multiple goroutines.
type Storage interface {
	// Put writes an object under the given key using the provided reader and options.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete removes an object by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// New builds the staging backend selected by cfg.StagingBackend.
func New(cfg *config.AppConfig) (Storage, error) {
	switch cfg.StagingBackend {
	case config.StagingLocal, "":
		return NewLocal(cfg.UploadDir)
	case config.StagingMinIO:
		return NewMinIO(cfg.MinIO)
	default:
		return nil, fmt.Errorf("unsupported staging backend: %s", cfg.StagingBackend)
	}
}
