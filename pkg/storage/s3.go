package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/omnifin/backoffice/pkg/config"
	"github.com/omnifin/backoffice/pkg/logging"
)

// S3Store keeps objects in an S3-compatible bucket (AWS, MinIO, R2).
type S3Store struct {
	bucket string
	client *s3.Client
	logger *zap.Logger
}

// NewS3Store builds a client from static credentials when both keys are set, and
// from the default AWS credential chain otherwise.
func NewS3Store(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*S3Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3 storage requires a bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	logger = logger.Named("storage")
	logger.Info("S3 storage initialized",
		zap.String("bucket", bucket),
		zap.String("region", cfg.Region),
		zap.String("endpoint", logging.SanitizeConnectionString(cfg.Endpoint)))

	return &S3Store{bucket: bucket, client: client, logger: logger}, nil
}

func (s *S3Store) Backend() string { return "s3" }

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := validKey(key); err != nil {
		return err
	}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	start := time.Now()
	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.logger.Error("Failed to put object",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)))
		return fmt.Errorf("put object: %w", err)
	}
	s.logger.Debug("Stored object", zap.String("key", key), zap.Duration("duration", time.Since(start)))
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if err := validKey(key); err != nil {
		return nil, "", err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("get object: %w", err)
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

// Delete removes the object. S3 treats missing keys as success.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3Store) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

var _ Store = (*S3Store)(nil)
