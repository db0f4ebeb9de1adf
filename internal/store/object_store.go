package store

import "context"

// ObjectStore keeps the latest JSON payload of each reloaded map object.
type ObjectStore interface {
	// PutObject replaces the object's content and returns a URI describing where it lives.
	PutObject(ctx context.Context, name string, data []byte) (string, error)
	// GetObject returns the stored content or ErrNotFound.
	GetObject(ctx context.Context, name string) ([]byte, error)
	// ListObjects returns the stored object names in lexical order.
	ListObjects(ctx context.Context) ([]string, error)
}
