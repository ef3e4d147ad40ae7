// Package memory provides an in-memory blob store for local development and
// tests.
package memory

import (
	"context"
	"sync"
)

// Store keeps archived objects in a map keyed by path.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// PutObject stores data under path and returns a mem:// URI.
func (s *Store) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[path] = buf
	return "mem://" + path, nil
}

// Object returns the stored bytes for path, if any.
func (s *Store) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
