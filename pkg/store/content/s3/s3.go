package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/staffdrive/staffdrive/pkg/store/content"
)

// S3ContentStore stores content as objects in an S3 (or S3-compatible) bucket.
//
// Object keys are the content id with an optional prefix. Download links are
// presigned GET URLs, so clients fetch bytes from the bucket directly instead
// of through the API server.
type S3ContentStore struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	keyPrefix string
	metrics   S3Metrics
}

// S3ContentStoreConfig contains configuration for S3 content store.
type S3ContentStoreConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name. The bucket must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "staffdrive/" results in keys like "staffdrive/<id>"
	KeyPrefix string

	// SkipBucketCheck disables the HeadBucket call on construction.
	SkipBucketCheck bool

	// Metrics receives per-call observations. nil disables them.
	Metrics S3Metrics
}

// NewS3ContentStore verifies bucket access and returns a store.
func NewS3ContentStore(ctx context.Context, cfg S3ContentStoreConfig) (*S3ContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	if !cfg.SkipBucketCheck {
		_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(cfg.Bucket),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
		}
	}

	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	return &S3ContentStore{
		client:    cfg.Client,
		presign:   s3.NewPresignClient(cfg.Client),
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		metrics:   m,
	}, nil
}

func (s *S3ContentStore) objectKey(id string) string {
	return s.keyPrefix + id
}

func (s *S3ContentStore) WriteContent(ctx context.Context, id string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(id)),
		Body:          content.ExactReader(r, size),
		ContentLength: aws.Int64(size),
	})
	s.metrics.ObserveOperation("PutObject", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", s.objectKey(id), err)
	}
	s.metrics.RecordBytes("write", size)
	return nil
}

func (s *S3ContentStore) ReadContent(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		s.metrics.ObserveOperation("GetObject", time.Since(start), nil)
		return nil, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	s.metrics.ObserveOperation("GetObject", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", s.objectKey(id), err)
	}
	return &meteredBody{
		CountingReader: content.CountingReader{R: out.Body},
		body:           out.Body,
		metrics:        s.metrics,
	}, nil
}

// meteredBody reports the bytes actually streamed to the caller on Close.
type meteredBody struct {
	content.CountingReader
	body    io.Closer
	metrics S3Metrics
}

func (b *meteredBody) Close() error {
	b.metrics.RecordBytes("read", b.N)
	return b.body.Close()
}

func (s *S3ContentStore) DeleteContent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// DeleteObject succeeds for missing keys.
	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	s.metrics.ObserveOperation("DeleteObject", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", s.objectKey(id), err)
	}
	return nil
}

func (s *S3ContentStore) ContentExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	start := time.Now()
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	var nf *types.NotFound
	if errors.As(err, &nf) {
		s.metrics.ObserveOperation("HeadObject", time.Since(start), nil)
		return false, nil
	}
	s.metrics.ObserveOperation("HeadObject", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to head object %s: %w", s.objectKey(id), err)
	}
	return true, nil
}

// ListContent pages through every object under the key prefix.
func (s *S3ContentStore) ListContent(ctx context.Context) ([]string, error) {
	var ids []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.keyPrefix),
	})
	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		s.metrics.ObserveOperation("ListObjectsV2", time.Since(start), err)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			ids = append(ids, strings.TrimPrefix(aws.ToString(obj.Key), s.keyPrefix))
		}
	}
	return ids, nil
}

// PresignGet returns a presigned GET URL for the object.
func (s *S3ContentStore) PresignGet(ctx context.Context, id, filename string, ttl time.Duration) (string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	}
	if filename != "" {
		input.ResponseContentDisposition = aws.String(
			mime.FormatMediaType("attachment", map[string]string{"filename": filename}),
		)
	}

	start := time.Now()
	req, err := s.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(ttl))
	s.metrics.ObserveOperation("PresignGetObject", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", s.objectKey(id), err)
	}
	return req.URL, nil
}
