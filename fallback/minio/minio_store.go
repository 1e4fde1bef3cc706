// Package minio provides a fallback store for MinIO and other
// S3-compatible object storage.
package minio

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/cachego/fallback"
)

// Store implements fallback.Store for MinIO and S3-compatible storage.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore creates a MinIO fallback store.
// rootPrefix is prepended to all keys (e.g. "cache/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(namespace, key string) string {
	return path.Join(s.prefix, namespace, key)
}

// Get returns the payload stored for the key, or fallback.ErrNotFound.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(namespace, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, fallback.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Set uploads the payload, replacing any previous object.
func (s *Store) Set(ctx context.Context, namespace, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(namespace, key),
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// Delete removes the object.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, s.key(namespace, key), minio.RemoveObjectOptions{})
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
