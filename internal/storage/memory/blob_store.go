// Package memory keeps blobs in process memory for the CLI and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// BlobStore maps keys to contents.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore returns an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject stores the contents of r under key and returns memory://key.
func (s *BlobStore) PutObject(_ context.Context, key string, _ string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object body: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = body
	return "memory://" + key, nil
}

// Get returns a copy of the object at key.
func (s *BlobStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), body...), true
}

// Keys lists stored keys in sorted order.
func (s *BlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
