// Package blobstore stores patient attachments and lab files. It provides the
// Store interface, an in-memory implementation for development and tests, and
// an S3-compatible implementation backed by minio-go.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrInvalidPath        = errors.New("object path is invalid")
)

// MaxFileSize is the default upper bound for a single attachment (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// DefaultContentTypes are accepted for file questions that do not declare
// their own list.
var DefaultContentTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"image/heic",
	"text/csv",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"text/plain",
}

// IsAllowedContentType reports whether contentType is in allowed, or in
// DefaultContentTypes when allowed is empty. Parameters such as charset are ignored.
func IsAllowedContentType(contentType string, allowed []string) bool {
	if len(allowed) == 0 {
		allowed = DefaultContentTypes
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, a := range allowed {
		if strings.EqualFold(a, ct) {
			return true
		}
	}
	return false
}

// Store is the file-object storage contract: Upload returns the stored path,
// PublicURL resolves it to a URL the practitioner UI can open.
type Store interface {
	Upload(ctx context.Context, bucket, objectPath string, content []byte, contentType string) (string, error)
	Download(ctx context.Context, bucket, objectPath string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, objectPath string) error
	PublicURL(bucket, objectPath string) string
}

// CleanPath normalises an object path and rejects traversal.
func CleanPath(p string) (string, error) {
	p = strings.TrimLeft(strings.TrimSpace(p), "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(p)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// joinURL builds base/bucket/path with each path segment escaped.
func joinURL(base, bucket, objectPath string) string {
	segs := strings.Split(objectPath, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}

type memoryObject struct {
	content     []byte
	contentType string
}

// MemoryStore is a thread-safe in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://"
	}
	return &MemoryStore{objects: make(map[string]memoryObject), baseURL: baseURL}
}

func memoryKey(bucket, objectPath string) string {
	return bucket + "/" + objectPath
}

func (s *MemoryStore) Upload(ctx context.Context, bucket, objectPath string, content []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	if len(content) > MaxFileSize {
		return "", ErrFileTooLarge
	}

	data := make([]byte, len(content))
	copy(data, content)

	s.mu.Lock()
	s.objects[memoryKey(bucket, p)] = memoryObject{content: data, contentType: contentType}
	s.mu.Unlock()
	return p, nil
}

func (s *MemoryStore) Download(_ context.Context, bucket, objectPath string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[memoryKey(bucket, objectPath)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.content)), nil
}

func (s *MemoryStore) Delete(_ context.Context, bucket, objectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memoryKey(bucket, objectPath)
	if _, ok := s.objects[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.objects, key)
	return nil
}

func (s *MemoryStore) PublicURL(bucket, objectPath string) string {
	return joinURL(s.baseURL, bucket, objectPath)
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// ContentType returns the content type recorded for an object.
func (s *MemoryStore) ContentType(bucket, objectPath string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[memoryKey(bucket, objectPath)]
	if !ok {
		return "", fmt.Errorf("content type for %s/%s: %w", bucket, objectPath, ErrBlobNotFound)
	}
	return obj.contentType, nil
}
