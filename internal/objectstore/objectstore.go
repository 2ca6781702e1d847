package objectstore

import (
	"context"
	"errors"
)

// StoredImage describes an object persisted in the image bucket.
type StoredImage struct {
	Key         string
	ContentHash string
	Size        int64
	ContentType string
}

var (
	// ErrNotFound indicates the requested key does not exist in the bucket.
	ErrNotFound = errors.New("objectstore: not found")
	// ErrUnavailable indicates the store could not be reached or refused the call.
	ErrUnavailable = errors.New("objectstore: unavailable")
)

// Store exposes the object operations used by the verification flow.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (*StoredImage, error)
	Get(ctx context.Context, key string) ([]byte, error)
}
