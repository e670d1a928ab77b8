package storage

import (
	"context"
	"errors"

	"carstudio/internal/domain"
)

// ErrHandleNotFound is returned for handles that were never issued or have
// already been released.
var ErrHandleNotFound = errors.New("storage: handle not found")

// Handle is an opaque reference to a stored image. Handles are valid until
// released and are never reused.
type Handle string

// BlobStore holds image payloads addressable by handle.
type BlobStore interface {
	Put(ctx context.Context, payload domain.Payload) (Handle, error)
	Get(ctx context.Context, handle Handle) (domain.Payload, error)
	// Release frees the handle. Releasing twice is a no-op.
	Release(handle Handle)
	Len() int
}
