package cachego

import (
	"errors"
	"fmt"

	"github.com/hupe1980/cachego/store"
)

var (
	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache closed")

	// ErrCapacity is returned when a value cannot fit even after eviction.
	ErrCapacity = errors.New("value exceeds cache capacity")
)

// EncodeError indicates a value could not be serialized or compressed
// for storage. It is surfaced synchronously from Set.
//
// The original underlying error can be accessed via errors.Unwrap.
type EncodeError struct {
	Namespace string
	Key       string
	cause     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s/%s: %v", e.Namespace, e.Key, e.cause)
}

func (e *EncodeError) Unwrap() error { return e.cause }

// FetchError indicates the loader passed to GetOrFetch failed. The
// cache itself is unaffected.
//
// The original underlying error can be accessed via errors.Unwrap.
type FetchError struct {
	Namespace string
	Key       string
	cause     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s/%s: %v", e.Namespace, e.Key, e.cause)
}

func (e *FetchError) Unwrap() error { return e.cause }

// StorageInitError indicates the persistent fallback store failed to
// initialize. The cache continues memory-only in degraded mode; this
// error is reported through Metrics, never from Get/Set.
type StorageInitError struct {
	cause error
}

func (e *StorageInitError) Error() string {
	return fmt.Sprintf("fallback store init: %v", e.cause)
}

func (e *StorageInitError) Unwrap() error { return e.cause }

func translateError(namespace, key string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, store.ErrEncode) {
		return &EncodeError{Namespace: namespace, Key: key, cause: err}
	}
	if errors.Is(err, store.ErrCapacity) {
		return fmt.Errorf("%w: %w", ErrCapacity, err)
	}

	return err
}
