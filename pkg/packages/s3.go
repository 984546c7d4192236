package packages

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
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/registrygate/pkg/observability"
)

// S3Config locates the bucket holding package files
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
}

// s3API is the subset of *s3.Client the blob store calls
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Blobs stores file contents in an S3 compatible bucket
type S3Blobs struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Blobs builds a client from cfg and creates the bucket when missing.
// Static keys are used when both are set; otherwise the default AWS
// credential chain applies.
func NewS3Blobs(ctx context.Context, cfg S3Config) (*S3Blobs, error) {
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
		o.UsePathStyle = cfg.UsePathStyle
	})

	b := newS3Blobs(client, cfg.Bucket, cfg.Prefix)
	if err := b.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func newS3Blobs(client s3API, bucket, prefix string) *S3Blobs {
	return &S3Blobs{client: client, bucket: bucket, prefix: prefix}
}

func (b *S3Blobs) key(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *S3Blobs) span(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, "S3."+op,
		trace.WithAttributes(
			attribute.String("s3.operation", op),
			attribute.String("s3.bucket", b.bucket),
			attribute.String("s3.key", key),
		),
	)
}

func (b *S3Blobs) Put(ctx context.Context, key string, data []byte) error {
	ctx, span := b.span(ctx, "PutObject", key)
	defer span.End()
	span.SetAttributes(attribute.Int("content.size", len(data)))

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload to s3: %w", err)
	}
	return nil
}

func (b *S3Blobs) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := b.span(ctx, "GetObject", key)
	defer span.End()

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get object from s3")
		return nil, fmt.Errorf("failed to get object from s3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

func (b *S3Blobs) Delete(ctx context.Context, key string) error {
	ctx, span := b.span(ctx, "DeleteObject", key)
	defer span.End()

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// HealthCheck verifies the bucket is reachable
func (b *S3Blobs) HealthCheck(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("s3 health check failed: %w", err)
	}
	return nil
}

func (b *S3Blobs) ensureBucket(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err == nil {
		return nil
	}

	_, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
