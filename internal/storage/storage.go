package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/folio-press/apiserver/config"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Object is an open object body with its metadata. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get returns ErrObjectNotFound for a missing key.
	Get(ctx context.Context, key string) (*Object, error)
	// Delete is a no-op for a missing key.
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Open builds the backend selected by cfg.Storage.Backend and makes sure its
// bucket exists. It returns nil when object storage is disabled.
func Open(ctx context.Context, cfg config.Config) (ObjectStorage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Storage.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		backend = NewMemoryStorage(cfg.Minio.Bucket)
	case "minio":
		backend, err = NewMinioClient(cfg.Minio)
	case "gcs":
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return backend, nil
}
