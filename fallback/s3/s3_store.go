// Package s3 provides an S3-backed fallback store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/cachego/fallback"
)

// Store implements fallback.Store on top of an S3 bucket. Each payload
// is a single object under rootPrefix/<namespace>/<key>.
type Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, bucket, rootPrefix string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewFromClient(s3.NewFromConfig(cfg), bucket, rootPrefix), nil
}

// NewFromClient creates a Store around an existing S3 client.
// rootPrefix is prepended to all keys (e.g. "cache/").
func NewFromClient(client *s3.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   rootPrefix,
	}
}

func (s *Store) key(namespace, key string) string {
	return path.Join(s.prefix, namespace, key)
}

// Get returns the payload stored for the key, or fallback.ErrNotFound.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(namespace, key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fallback.ErrNotFound
		}
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, fallback.ErrNotFound
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return io.ReadAll(resp.Body)
}

// Set uploads the payload, replacing any previous object.
func (s *Store) Set(ctx context.Context, namespace, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(namespace, key)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// Delete removes the object. S3 delete is idempotent.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(namespace, key)),
	})
	return err
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
