package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/ports/adapter"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ adapter.ObjectStorage = (*MinioStorage)(nil)

type MinioOpts func(c *minioConfig)

type minioConfig struct {
	endpoint        string
	bucket          string
	accessKey       string
	secretAccessKey string
	region          string
	publicBaseURL   string
	useSSL          bool
}

func newConfig(opts ...MinioOpts) *minioConfig {
	cfg := &minioConfig{bucket: "briefs"}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

// MinioStorage uploads brief audio to an S3-compatible bucket.
type MinioStorage struct {
	cfg    *minioConfig
	client *minio.Client
}

func NewMinioStorage(opts ...MinioOpts) (*MinioStorage, error) {
	cfg := newConfig(opts...)
	if cfg.endpoint == "" {
		return nil, errors.New("minio: empty endpoint")
	}
	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
		Region: cfg.region,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorage{cfg: cfg, client: client}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStorage) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.cfg.bucket)
	if err != nil {
		return domain.NewUpstreamError("storage", 0, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.bucket, minio.MakeBucketOptions{Region: s.cfg.region}); err != nil {
		return domain.NewUpstreamError("storage", 0, err)
	}
	return nil
}

func (s *MinioStorage) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.cfg.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		status := 0
		if resp := minio.ToErrorResponse(err); resp.StatusCode != 0 {
			status = resp.StatusCode
		}
		return "", domain.NewUpstreamError("storage", status, err)
	}
	return s.PublicURL(key), nil
}

// PublicURL is {public_base_url}/{bucket}/{key}; the endpoint stands in when no base is set.
func (s *MinioStorage) PublicURL(key string) string {
	base := s.cfg.publicBaseURL
	if base == "" {
		scheme := "http"
		if s.cfg.useSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, s.cfg.endpoint)
	}
	return strings.TrimRight(base, "/") + "/" + s.cfg.bucket + "/" + strings.TrimLeft(key, "/")
}

func WithEndpoint(endpoint string) MinioOpts {
	return func(c *minioConfig) { c.endpoint = endpoint }
}

func WithBucket(bucket string) MinioOpts {
	return func(c *minioConfig) {
		if bucket != "" {
			c.bucket = bucket
		}
	}
}

func WithAccessKey(accessKey string) MinioOpts {
	return func(c *minioConfig) { c.accessKey = accessKey }
}

func WithSecretKey(secretKey string) MinioOpts {
	return func(c *minioConfig) { c.secretAccessKey = secretKey }
}

func WithRegion(region string) MinioOpts {
	return func(c *minioConfig) { c.region = region }
}

func WithPublicBaseURL(u string) MinioOpts {
	return func(c *minioConfig) { c.publicBaseURL = u }
}

func WithSSL(useSSL bool) MinioOpts {
	return func(c *minioConfig) { c.useSSL = useSSL }
}
