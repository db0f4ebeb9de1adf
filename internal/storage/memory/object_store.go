package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/mapcompute/internal/store"
)

// ObjectStore keeps reloaded objects in memory and hands out memory:// URIs.
type ObjectStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewObjectStore creates an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{data: make(map[string][]byte)}
}

var _ store.ObjectStore = (*ObjectStore)(nil)

// PutObject replaces name's content.
func (s *ObjectStore) PutObject(_ context.Context, name string, data []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("object name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name] = append([]byte(nil), data...)
	return "memory://" + name, nil
}

// GetObject returns a copy of name's content.
func (s *ObjectStore) GetObject(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// ListObjects returns the stored names sorted.
func (s *ObjectStore) ListObjects(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
