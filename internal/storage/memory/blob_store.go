// Package memory provides in-memory page and blob stores for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/omu-rag/newsingest/internal/crawler"
)

// BlobStore keeps attachment bytes in memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	puts int
}

var _ crawler.BlobStore = (*BlobStore)(nil)

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Exists reports whether path has been written.
func (s *BlobStore) Exists(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[path]
	return ok
}

// Location returns the pseudo URI for path.
func (s *BlobStore) Location(path string) string {
	return fmt.Sprintf("memory://%s", path)
}

// Put persists the content and returns a URI.
func (s *BlobStore) Put(_ context.Context, path string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = byteData
	s.puts++
	return s.Location(path), nil
}

// Get returns a copy of the bytes stored at path.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[path]
	return append([]byte(nil), b...), ok
}

// Puts returns how many writes the store has accepted.
func (s *BlobStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
