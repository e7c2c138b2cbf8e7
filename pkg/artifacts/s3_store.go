package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store is an AWS S3-backed Store for deployments that want artifacts
// durable across sandbox hosts rather than pinned to local disk.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3StoreConfig configures an S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // for MinIO/LocalStack-compatible endpoints
	Prefix   string
}

// NewS3Store creates an S3-backed artifact store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("artifacts: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) Store(ctx context.Context, data []byte) (string, error) {
	hexDigest, digest := digestOf(data)
	key := s.prefix + hexDigest + ".blob"

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return digest, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("artifacts: s3 put: %w", err)
	}
	return digest, nil
}

func (s *S3Store) Get(ctx context.Context, digest string) ([]byte, error) {
	raw, err := splitDigest(digest)
	if err != nil {
		return nil, err
	}
	key := s.prefix + raw + ".blob"

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("artifacts: s3 get %s: %w", digest, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *S3Store) Exists(ctx context.Context, digest string) (bool, error) {
	raw, err := splitDigest(digest)
	if err != nil {
		return false, err
	}
	key := s.prefix + raw + ".blob"

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		return false, nil
	}
	return true, nil
}
