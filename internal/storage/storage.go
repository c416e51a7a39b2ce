package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("object not found")

// Reader provides read access to stored objects
type Reader interface {
	// GetObject returns a reader for the object at bucket/key
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Exists checks if an object exists at bucket/key
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// Writer provides write access to stored objects
type Writer interface {
	// PutObject stores the contents of r at bucket/key
	PutObject(ctx context.Context, bucket, key string, r io.Reader, contentType string) error
}

// Store provides read and write access to an object store
type Store interface {
	Reader
	Writer
}
