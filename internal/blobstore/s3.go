package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/kenneth/chart-vault/internal/config"
)

// s3API is the subset of *s3.Client used here.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Objects stores objects in an S3-compatible bucket.
type S3Objects struct {
	client s3API
	bucket string
}

// NewS3Objects builds an S3 backend from configuration. Endpoint and region
// defaults come from the provider table.
func NewS3Objects(ctx context.Context, cfg config.BlobStoreConfig) (*S3Objects, error) {
	endpoint, region, err := ResolveProvider(cfg.Provider, cfg.Endpoint, cfg.Region)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	pathStyle := cfg.UsePathStyle || RequiresPathStyle(cfg.Provider)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Provider != "aws" || cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})
	return &S3Objects{client: client, bucket: cfg.Bucket}, nil
}

func (o *S3Objects) PutObject(ctx context.Context, key string, data []byte) error {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(o.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s/%s: %w", o.bucket, key, err)
	}
	return nil
}

func (o *S3Objects) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object %s/%s: %w", o.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s/%s: %w", o.bucket, key, err)
	}
	return data, nil
}

func (o *S3Objects) DeleteObject(ctx context.Context, key string) error {
	_, err := o.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete object %s/%s: %w", o.bucket, key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// Open builds the Store selected by cfg.
func Open(ctx context.Context, cfg config.BlobStoreConfig) (Store, error) {
	if cfg.Provider == "" || cfg.Provider == "memory" {
		return NewMemoryStore(), nil
	}
	objects, err := NewS3Objects(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewChunkedStore(objects, 0), nil
}
