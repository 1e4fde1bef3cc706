// Package fallback defines the persistent fallback store used to survive
// process restarts and absorb capacity overflow. Backends exist for local
// disk, plain memory, S3, MinIO and DynamoDB.
//
// Values handed to a fallback store are opaque encoded payloads; the
// backend never inspects them.
package fallback

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist in the backend.
//
// Implementations must return an error that satisfies
// errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("fallback: not found")

// Store is the abstraction for a persistent fallback backend.
type Store interface {
	// Get returns the payload stored for the key, or ErrNotFound.
	Get(ctx context.Context, namespace, key string) ([]byte, error)

	// Set writes the payload, replacing any previous value.
	Set(ctx context.Context, namespace, key string, data []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Close releases backend resources.
	Close() error
}
