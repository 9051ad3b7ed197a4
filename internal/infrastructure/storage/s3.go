package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // S3-compatible endpoint, empty for AWS
	AccessKey string
	SecretKey string
	PathStyle bool
	Prefix    string
	PublicURL string // CDN base; falls back to the bucket URL
}

// S3Storage stores recordings in an S3 bucket.
type S3Storage struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3Storage builds a client from the default AWS credential chain, or
// from static keys when both are configured.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return NewS3StorageWithClient(client, cfg), nil
}

func NewS3StorageWithClient(client *s3.Client, cfg S3Config) *S3Storage {
	return &S3Storage{client: client, cfg: cfg}
}

// Put uploads one object. A non-zero expires is stored both as the object's
// Expires header and as an expires-at tag for lifecycle rules.
func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, expires time.Time) error {
	finalKey := applyPrefix(s.cfg.Prefix, key)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(finalKey),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if !expires.IsZero() {
		input.Expires = aws.Time(expires.UTC())
		tags := url.Values{}
		tags.Set("expires-at", expires.UTC().Format(time.RFC3339))
		input.Tagging = aws.String(tags.Encode())
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", finalKey, err)
	}
	return nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	finalKey := applyPrefix(s.cfg.Prefix, key)

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(finalKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from S3: %w", finalKey, err)
	}
	return nil
}

func (s *S3Storage) PublicURL(key string) string {
	finalKey := applyPrefix(s.cfg.Prefix, key)
	if s.cfg.PublicURL != "" {
		return joinURL(s.cfg.PublicURL, finalKey)
	}
	if s.cfg.Endpoint != "" {
		return joinURL(strings.TrimRight(s.cfg.Endpoint, "/")+"/"+s.cfg.Bucket, finalKey)
	}
	return joinURL(fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.cfg.Bucket, s.cfg.Region), finalKey)
}
