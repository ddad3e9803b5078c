package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectClient is the subset of *minio.Client used by MinioStore.
type objectClient interface {
	PutObject(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	RemoveObject(ctx context.Context, bucket, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucket, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicURL is the externally reachable base for object links. Falls back
	// to the endpoint.
	PublicURL string
}

// MinioStore stores objects in an S3-compatible bucket.
type MinioStore struct {
	client  objectClient
	baseURL string
}

func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	base := cfg.PublicURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return &MinioStore{client: client, baseURL: base}, nil
}

func (s *MinioStore) Upload(ctx context.Context, bucket, objectPath string, content []byte, contentType string) (string, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if len(content) > MaxFileSize {
		return "", ErrFileTooLarge
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.client.PutObject(ctx, bucket, p, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("upload %s to bucket %s: %w", p, bucket, err)
	}
	return p, nil
}

func (s *MinioStore) Download(ctx context.Context, bucket, objectPath string) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, bucket, objectPath, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", objectPath, err)
	}
	obj, err := s.client.GetObject(ctx, bucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", objectPath, err)
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, bucket, objectPath string) error {
	if err := s.client.RemoveObject(ctx, bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", objectPath, err)
	}
	return nil
}

func (s *MinioStore) PublicURL(bucket, objectPath string) string {
	return joinURL(s.baseURL, bucket, objectPath)
}
