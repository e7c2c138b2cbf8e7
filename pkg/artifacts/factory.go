package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects the artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv builds a Store from environment variables.
//
//   - DHI_ARTIFACT_STORE: "fs" (default), "s3", or "gcs"
//   - DHI_DATA_DIR: base dir for the fs store (default "data")
//   - DHI_ARTIFACT_S3_BUCKET / DHI_ARTIFACT_S3_REGION / DHI_ARTIFACT_S3_ENDPOINT / DHI_ARTIFACT_S3_PREFIX
//   - DHI_ARTIFACT_GCS_BUCKET / DHI_ARTIFACT_GCS_PREFIX
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("DHI_ARTIFACT_STORE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("artifacts: unsupported store type %q", storeType)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("DHI_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "artifacts"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("DHI_ARTIFACT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("DHI_ARTIFACT_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("DHI_ARTIFACT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("DHI_ARTIFACT_S3_ENDPOINT"),
		Prefix:   os.Getenv("DHI_ARTIFACT_S3_PREFIX"),
	})
}
