// Package s3 stores product images in an S3-compatible bucket through minio-go.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/and161185/market-keeper/internal/repository"
)

// Settings locate the bucket.
type Settings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL prefixes object keys in returned URLs. Empty means
	// <endpoint>/<bucket>.
	PublicURL string
}

type objectAPI interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

// BlobStore implements repository.BlobStore.
type BlobStore struct {
	api    objectAPI
	bucket string
	base   string
	log    *zap.Logger
}

var _ repository.BlobStore = (*BlobStore)(nil)

// Open connects and makes sure the bucket exists.
func Open(ctx context.Context, s Settings, log *zap.Logger) (*BlobStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := minio.New(s.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s.AccessKey, s.SecretKey, ""),
		Secure: s.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client for %s: %w", s.Endpoint, err)
	}
	exists, err := client.BucketExists(ctx, s.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", s.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, s.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", s.Bucket, err)
		}
		log.Info("bucket created", zap.String("bucket", s.Bucket))
	}
	base := s.PublicURL
	if base == "" {
		base = client.EndpointURL().String() + "/" + s.Bucket
	}
	return newBlobStore(client, s.Bucket, base, log), nil
}

func newBlobStore(api objectAPI, bucket, base string, log *zap.Logger) *BlobStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &BlobStore{api: api, bucket: bucket, base: strings.TrimRight(base, "/"), log: log}
}

func (b *BlobStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	info, err := b.api.PutObject(ctx, b.bucket, path, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", b.bucket, path, err)
	}
	b.log.Debug("object stored", zap.String("key", info.Key), zap.String("etag", info.ETag), zap.Int64("size", info.Size))
	return nil
}

// URL is derived from the key alone and never expires.
func (b *BlobStore) URL(_ context.Context, path string) (string, error) {
	u, err := url.JoinPath(b.base, strings.Split(path, "/")...)
	if err != nil {
		return "", fmt.Errorf("url for %s: %w", path, err)
	}
	return u, nil
}

func (b *BlobStore) Remove(ctx context.Context, path string) error {
	err := b.api.RemoveObject(ctx, b.bucket, path, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("remove %s/%s: %w", b.bucket, path, err)
	}
	return nil
}
