package storage

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemory returns a Store that keeps documents in process memory.
func NewMemory() Store {
	return &memoryStore{docs: map[string][]byte{}}
}

func (s *memoryStore) Load(_ context.Context, name string, out any) (bool, error) {
	s.mu.RLock()
	b, ok := s.docs[name]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decodeDoc(name, b, out)
}

func (s *memoryStore) Save(_ context.Context, name string, v any) error {
	b, err := encodeDoc(name, v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.docs[name] = b
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }
