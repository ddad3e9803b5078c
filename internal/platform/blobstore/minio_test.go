package blobstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
)

type fakeObjectClient struct {
	puts      map[string][]byte
	putOpts   minio.PutObjectOptions
	putErr    error
	removed   []string
	removeErr error
}

func (f *fakeObjectClient) PutObject(_ context.Context, bucket, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, _ := io.ReadAll(reader)
	if int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[bucket+"/"+objectName] = data
	f.putOpts = opts
	return minio.UploadInfo{Bucket: bucket, Key: objectName, Size: size}, nil
}

func (f *fakeObjectClient) GetObject(context.Context, string, string, minio.GetObjectOptions) (*minio.Object, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeObjectClient) RemoveObject(_ context.Context, bucket, objectName string, _ minio.RemoveObjectOptions) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, bucket+"/"+objectName)
	return nil
}

func (f *fakeObjectClient) StatObject(context.Context, string, string, minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"}
}

func TestMinioStore_Upload(t *testing.T) {
	fake := &fakeObjectClient{}
	store := &MinioStore{client: fake, baseURL: "https://s3.test"}

	p, err := store.Upload(context.Background(), "healz-files", "/forms/f1/lab.pdf", []byte("pdf"), "application/pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != "forms/f1/lab.pdf" {
		t.Errorf("expected cleaned path, got %q", p)
	}
	if string(fake.puts["healz-files/forms/f1/lab.pdf"]) != "pdf" {
		t.Errorf("object not stored: %v", fake.puts)
	}
	if fake.putOpts.ContentType != "application/pdf" {
		t.Errorf("expected content type to be forwarded, got %q", fake.putOpts.ContentType)
	}
}

func TestMinioStore_UploadDefaultsContentType(t *testing.T) {
	fake := &fakeObjectClient{}
	store := &MinioStore{client: fake}
	if _, err := store.Upload(context.Background(), "b", "x", []byte("x"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.putOpts.ContentType != "application/octet-stream" {
		t.Errorf("expected octet-stream, got %q", fake.putOpts.ContentType)
	}
}

func TestMinioStore_UploadError(t *testing.T) {
	store := &MinioStore{client: &fakeObjectClient{putErr: errors.New("access denied")}}
	if _, err := store.Upload(context.Background(), "b", "x", []byte("x"), ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestMinioStore_DownloadMissing(t *testing.T) {
	store := &MinioStore{client: &fakeObjectClient{}}
	if _, err := store.Download(context.Background(), "b", "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestMinioStore_Delete(t *testing.T) {
	fake := &fakeObjectClient{}
	store := &MinioStore{client: fake}
	if err := store.Delete(context.Background(), "b", "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.removed) != 1 || fake.removed[0] != "b/x" {
		t.Errorf("unexpected removals: %v", fake.removed)
	}
}

func TestMinioStore_PublicURL(t *testing.T) {
	store := &MinioStore{baseURL: "https://cdn.healz.test"}
	if got := store.PublicURL("healz-files", "a/b.pdf"); got != "https://cdn.healz.test/healz-files/a/b.pdf" {
		t.Errorf("unexpected url %q", got)
	}
}
