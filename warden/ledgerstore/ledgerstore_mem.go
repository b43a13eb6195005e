package ledgerstore

import (
	"context"
	"sync"
)

// In-process implementation. Safe for concurrent use; values are returned as stored, so
// V should either be immutable or cloned by the caller before mutation.
type MemStore[V any] struct {
	mu   sync.RWMutex
	data map[string]V
}

var _ Store[int] = (*MemStore[int])(nil)

func NewMemStore[V any]() *MemStore[V] {
	return &MemStore[V]{
		data: make(map[string]V),
	}
}

func (s *MemStore[V]) Get(ctx context.Context, key string) (V, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemStore[V]) Put(ctx context.Context, key string, val V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = val
	return nil
}

func (s *MemStore[V]) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemStore[V]) Iterate(ctx context.Context, fn func(key string, val V) error) error {
	// copy out under the lock, so fn is free to call back in to the store
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	vals := make([]V, 0, len(s.data))
	for k, v := range s.data {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	s.mu.RUnlock()

	for i := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(keys[i], vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore[V]) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data), nil
}

func (s *MemStore[V]) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]V)
	return nil
}
