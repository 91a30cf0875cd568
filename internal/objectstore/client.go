// Package objectstore wraps the S3-compatible backend the storage worker
// drives load against. Only the operations the load test needs are exposed.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stresspilot/stresspilot/internal/config"
)

// Store is the storage surface consumed by the storage worker. Tests inject
// fakes; production uses the MinIO-backed Client.
type Store interface {
	// Put uploads an object and reports the observed upload latency.
	Put(ctx context.Context, key string, r io.Reader, size int64) (time.Duration, error)
	// Delete removes an object.
	Delete(ctx context.Context, key string) error
	// EnsureBucket creates the configured bucket if it does not exist.
	EnsureBucket(ctx context.Context) error
}

// Client implements Store against an S3-compatible endpoint.
type Client struct {
	mc     *minio.Client
	bucket string
	tracer trace.Tracer
}

// New builds a Client from the storage configuration. The endpoint is not
// contacted here; reachability is checked by EnsureBucket.
func New(cfg config.StorageConfig, tracer trace.Tracer) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &Client{mc: mc, bucket: cfg.Bucket, tracer: tracer}, nil
}

// EnsureBucket creates the test bucket when missing, mirroring what an
// operator would otherwise have to do by hand before every run.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %q: %w", c.bucket, err)
	}
	log.WithField("bucket", c.bucket).Info("created bucket")
	return nil
}

func (c *Client) Put(ctx context.Context, key string, r io.Reader, size int64) (time.Duration, error) {
	ctx, span := c.startSpan(ctx, "objectstore.put", key, size)
	defer span.End()

	start := time.Now()
	_, err := c.mc.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return latency, fmt.Errorf("put %q: %w", key, err)
	}
	return latency, nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	ctx, span := c.startSpan(ctx, "objectstore.delete", key, 0)
	defer span.End()

	if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, name, key string, size int64) (context.Context, trace.Span) {
	if c.tracer == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	attrs := []attribute.KeyValue{
		attribute.String("bucket", c.bucket),
		attribute.String("key", key),
	}
	if size > 0 {
		attrs = append(attrs, attribute.Int64("bytes", size))
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
