// Package storage is the trusted-side artifact store: sanitized thumbnails
// land here, never raw sandbox output.
package storage

import (
	"context"
	"fmt"
)

// ArtifactStore persists sanitized artifacts by key.
type ArtifactStore interface {
	// Put stores data under key, overwriting any previous content, and
	// returns a stable reference for the queue record.
	Put(ctx context.Context, key string, contentType string, data []byte) (ref string, err error)

	// Get retrieves an artifact by key. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an artifact; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}

// ErrNotFound is returned when an artifact doesn't exist.
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("artifact not found: %s", e.Key)
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}
