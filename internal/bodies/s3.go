package bodies

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"cortex-gateway/internal/models"
	"cortex-gateway/internal/telemetry"
)

// S3Options locates the body archive bucket.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
	MaxBytes  int64
	Timeout   time.Duration
}

type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads archived bodies stored as {prefix}{id} objects.
type S3Fetcher struct {
	client   objectGetter
	bucket   string
	prefix   string
	maxBytes int64
	timeout  time.Duration
	logger   *zap.Logger
}

// NewS3Client loads AWS configuration and returns an S3 client, honouring a
// custom endpoint for MinIO-style deployments.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	}), nil
}

// NewS3Fetcher wraps an S3 client.
func NewS3Fetcher(client objectGetter, opts S3Options, logger *zap.Logger) *S3Fetcher {
	limit := opts.MaxBytes
	if limit == 0 {
		limit = 25 * 1024 * 1024
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Fetcher{
		client:   client,
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
		maxBytes: limit,
		timeout:  timeout,
		logger:   logger,
	}
}

// Fetch downloads the archived body for id. The whole read, including the
// object stream, is bounded by the configured timeout.
func (f *S3Fetcher) Fetch(ctx context.Context, id string) (Body, error) {
	if id == "" {
		return Body{}, fmt.Errorf("message id is required: %w", models.ErrInvalidArgument)
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	body, err := f.fetch(ctx, id)
	if err != nil {
		telemetry.BodyFetches.WithLabelValues("s3", outcome(err)).Inc()
		if models.KindOf(err) == models.KindUpstream {
			f.logger.Warn("body archive read failed", zap.String("id", id), zap.String("bucket", f.bucket), zap.Error(err))
		}
		return Body{}, fmt.Errorf("fetch body %s: %w", id, err)
	}
	telemetry.BodyFetches.WithLabelValues("s3", "ok").Inc()
	return body, nil
}

func (f *S3Fetcher) fetch(ctx context.Context, id string) (Body, error) {
	key := f.prefix + id
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Body{}, classifyS3(ctx, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, f.maxBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return Body{}, fmt.Errorf("read object %s: %w", key, models.FromContext(ctx.Err()))
		}
		return Body{}, fmt.Errorf("read object %s: %w: %w", key, models.ErrUpstream, err)
	}
	if int64(len(data)) > f.maxBytes {
		return Body{}, fmt.Errorf("object %s too large (>%d bytes): %w", key, f.maxBytes, models.ErrUpstream)
	}
	return Body{ID: id, ContentType: aws.ToString(out.ContentType), Data: data}, nil
}

func classifyS3(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return models.FromContext(ctx.Err())
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %w", models.ErrNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
		return fmt.Errorf("%w: %w", models.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", models.ErrUpstream, err)
}
