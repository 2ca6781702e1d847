package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/logging"
	"github.com/example/face-verify/internal/metrics"
)

// MinioStore persists imagery in a MinIO (or S3-compatible) bucket. Keys are
// derived from the payload hash, so putting the same bytes twice yields the
// same object instead of a duplicate.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	timeout time.Duration
	logger  *zap.Logger
	sink    metrics.Sink
}

// Options carries the connection settings for the store.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Timeout   time.Duration
}

// NewMinioStore builds a store against the configured endpoint.
func NewMinioStore(opts Options, sink metrics.Sink, logger *zap.Logger) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, logging.NewOperationError("objectstore.connect", "", err)
	}
	return &MinioStore{
		client:  client,
		bucket:  opts.Bucket,
		timeout: opts.Timeout,
		logger:  logger.Named("objectstore"),
		sink:    sink,
	}, nil
}

// EnsureBucket creates the target bucket if it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return logging.NewOperationError("objectstore.bucket_exists", "", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return logging.NewOperationError("objectstore.make_bucket", "", err)
	}
	return nil
}

// KeyFor derives the content-addressed object key for a payload.
func KeyFor(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores the payload under its content hash. A concurrent put of the same
// bytes races harmlessly: both writers end up at the same key.
func (s *MinioStore) Put(ctx context.Context, data []byte, contentType string) (*StoredImage, error) {
	key := KeyFor(data)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		s.sink.Inc("storage.idempotent_hit")
		s.logger.Debug("idempotent put hit", zap.String("key", key))
		return &StoredImage{
			Key:         key,
			ContentHash: key,
			Size:        stat.Size,
			ContentType: stat.ContentType,
		}, nil
	}
	if !isNoSuchKey(err) {
		return nil, unavailable("objectstore.stat", err)
	}

	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, unavailable("objectstore.put", err)
	}
	return &StoredImage{
		Key:         key,
		ContentHash: key,
		Size:        info.Size,
		ContentType: contentType,
	}, nil
}

// Get reads an object back by key.
func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, unavailable("objectstore.get", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, unavailable("objectstore.read", err)
	}
	return data, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

func unavailable(operation string, err error) error {
	return logging.NewOperationError(operation, "", fmt.Errorf("%w: %v", ErrUnavailable, err))
}
