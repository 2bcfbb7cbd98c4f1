package kvstore

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore provides an in-memory implementation useful for testing and
// local development. Documents are held as raw JSON so Get exercises the
// same decode path as the persistent backends.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemoryStore constructs an empty memory-backed store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Get implements the Store interface.
func (s *MemoryStore) Get(_ context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.docs[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// Malformed documents read as absent.
		return false, nil
	}
	return true, nil
}

// Set implements the Store interface.
func (s *MemoryStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[key] = raw
	s.mu.Unlock()
	return nil
}

// Remove implements the Store interface.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.docs, key)
	s.mu.Unlock()
	return nil
}

// SetRaw stores a pre-encoded document. Tests use it to seed malformed
// payloads.
func (s *MemoryStore) SetRaw(key string, raw []byte) {
	s.mu.Lock()
	s.docs[key] = append([]byte(nil), raw...)
	s.mu.Unlock()
}
