// Package gcs stores reloaded objects in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/mapcompute/internal/store"
)

const (
	objectExt   = ".json"
	contentType = "application/json"
)

// Config captures the bucket and an optional object name prefix.
type Config struct {
	Bucket string
	Prefix string
}

// bucket is the slice of *storage.BucketHandle the store uses.
type bucket interface {
	NewWriter(ctx context.Context, object string) io.WriteCloser
	NewReader(ctx context.Context, object string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ObjectStore writes each object to gs://<bucket>/<prefix><name>.json.
type ObjectStore struct {
	bucket bucket
	name   string
	prefix string
}

var _ store.ObjectStore = (*ObjectStore)(nil)

// New creates a GCS-backed object store.
func New(client *storage.Client, cfg Config) (*ObjectStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return newObjectStore(handle{client.Bucket(cfg.Bucket)}, cfg), nil
}

func newObjectStore(b bucket, cfg Config) *ObjectStore {
	return &ObjectStore{bucket: b, name: cfg.Bucket, prefix: cfg.Prefix}
}

// PutObject uploads data and returns its gs:// URI.
func (s *ObjectStore) PutObject(ctx context.Context, name string, data []byte) (string, error) {
	object, err := s.objectFor(name)
	if err != nil {
		return "", err
	}
	w := s.bucket.NewWriter(ctx, object)
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, object), nil
}

// GetObject downloads the object stored under name.
func (s *ObjectStore) GetObject(ctx context.Context, name string) ([]byte, error) {
	object, err := s.objectFor(name)
	if err != nil {
		return nil, err
	}
	r, err := s.bucket.NewReader(ctx, object)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// ListObjects returns the names of the stored objects, sorted.
func (s *ObjectStore) ListObjects(ctx context.Context) ([]string, error) {
	objects, err := s.bucket.List(ctx, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	names := make([]string, 0, len(objects))
	for _, object := range objects {
		name := strings.TrimPrefix(object, s.prefix)
		if !strings.HasSuffix(name, objectExt) || strings.Contains(name, "/") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, objectExt))
	}
	sort.Strings(names)
	return names, nil
}

func (s *ObjectStore) objectFor(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("object name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	return s.prefix + name + objectExt, nil
}

// handle adapts *storage.BucketHandle to bucket.
type handle struct {
	b *storage.BucketHandle
}

func (h handle) NewWriter(ctx context.Context, object string) io.WriteCloser {
	w := h.b.Object(object).NewWriter(ctx)
	w.ContentType = contentType
	return w
}

func (h handle) NewReader(ctx context.Context, object string) (io.ReadCloser, error) {
	return h.b.Object(object).NewReader(ctx)
}

func (h handle) List(ctx context.Context, prefix string) ([]string, error) {
	it := h.b.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
}
