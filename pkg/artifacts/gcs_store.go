//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore is a Google Cloud Storage-backed Store, built only with -tags gcp
// since it pulls in the full cloud.google.com/go/storage client stack.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig configures a GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a GCS-backed artifact store using application default
// credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	hexDigest, digest := digestOf(data)
	objectPath := s.prefix + hexDigest + ".blob"

	obj := s.client.Bucket(s.bucket).Object(objectPath)
	if _, err := obj.Attrs(ctx); err == nil {
		return digest, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("artifacts: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("artifacts: gcs close: %w", err)
	}
	return digest, nil
}

func (s *GCSStore) Get(ctx context.Context, digest string) ([]byte, error) {
	raw, err := splitDigest(digest)
	if err != nil {
		return nil, err
	}
	objectPath := s.prefix + raw + ".blob"

	reader, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs get %s: %w", digest, err)
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (s *GCSStore) Exists(ctx context.Context, digest string) (bool, error) {
	raw, err := splitDigest(digest)
	if err != nil {
		return false, err
	}
	objectPath := s.prefix + raw + ".blob"

	_, err = s.client.Bucket(s.bucket).Object(objectPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("artifacts: gcs attrs: %w", err)
	}
	return true, nil
}

// Close releases the underlying GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
