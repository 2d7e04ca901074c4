package kv

import (
	"context"
	"sync"
)

// Store is a durable key/value store. Get returns (nil, nil) for a missing
// key so callers can distinguish "absent" from a real failure.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// InMemory is a Store backed by a map. Used in tests and as a fallback when
// no data folder is configured.
type InMemory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string][]byte)}
}

func (s *InMemory) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[key]
	if !ok {
		return nil, nil
	}

	cp := make([]byte, len(val))
	copy(cp, val)

	return cp, nil
}

func (s *InMemory) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp

	return nil
}
