package cachego

import (
	"context"

	"github.com/hupe1980/cachego/codec"
	"github.com/hupe1980/cachego/store"
)

// View is a typed window onto one namespace of a Cache. Values are
// serialized through the cache codec, so each stored type gets an
// explicit, inspectable wire form.
type View[T any] struct {
	cache     *Cache
	namespace string
	codec     codec.Codec
}

// NewView creates a typed view over a namespace. An optional codec
// overrides the cache-wide one.
func NewView[T any](c *Cache, namespace string, codecs ...codec.Codec) *View[T] {
	cd := c.codec
	if len(codecs) > 0 && codecs[0] != nil {
		cd = codecs[0]
	}
	return &View[T]{
		cache:     c,
		namespace: namespace,
		codec:     cd,
	}
}

// Get returns the decoded value for the key. A decode failure removes
// the corrupt entry and reports a miss with the error.
func (v *View[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	data, ok := v.cache.Get(ctx, v.namespace, key)
	if !ok {
		return zero, false, nil
	}

	var value T
	if err := v.codec.Unmarshal(data, &value); err != nil {
		_ = v.cache.Delete(ctx, v.namespace, key)
		return zero, false, err
	}
	return value, true, nil
}

// Set encodes and stores a value.
func (v *View[T]) Set(ctx context.Context, key string, value T, optFns ...func(*store.SetOptions)) error {
	data, err := v.codec.Marshal(value)
	if err != nil {
		return &EncodeError{Namespace: v.namespace, Key: key, cause: err}
	}
	return v.cache.Set(ctx, v.namespace, key, data, optFns...)
}

// GetOrFetch returns the decoded value, loading it through fetch on a
// miss. Concurrent callers for the same key share a single fetch.
func (v *View[T]) GetOrFetch(ctx context.Context, key string, fetch func(ctx context.Context) (T, error), optFns ...func(*store.SetOptions)) (T, error) {
	var zero T

	if value, ok, err := v.Get(ctx, key); err == nil && ok {
		return value, nil
	}

	data, err := v.cache.GetOrFetch(ctx, v.namespace, key, func(ctx context.Context) ([]byte, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return v.codec.Marshal(value)
	}, optFns...)
	if err != nil {
		return zero, err
	}

	var value T
	if err := v.codec.Unmarshal(data, &value); err != nil {
		return zero, err
	}
	return value, nil
}

// Delete removes the entry for the key.
func (v *View[T]) Delete(ctx context.Context, key string) error {
	return v.cache.Delete(ctx, v.namespace, key)
}
