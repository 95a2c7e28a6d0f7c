// Package memory provides a generic thread-safe in-memory key-value store
// used by repository adapters.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when the requested key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned by Insert when the key is already taken.
	ErrExists = errors.New("already exists")
)

// Store keeps values under the key derived by keyFunc. When a copy func is
// set, values are copied on the way in and on the way out so callers never
// share state with the store.
type Store[V any] struct {
	mu      sync.RWMutex
	data    map[string]V
	keyFunc func(V) string
	copy    func(V) V
}

// New creates a Store with a key extractor function.
func New[V any](keyFunc func(V) string) *Store[V] {
	return &Store[V]{
		data:    make(map[string]V),
		keyFunc: keyFunc,
	}
}

// WithCopy sets the function used to isolate stored values.
func (s *Store[V]) WithCopy(fn func(V) V) *Store[V] {
	s.copy = fn
	return s
}

func (s *Store[V]) clone(v V) V {
	if s.copy == nil {
		return v
	}
	return s.copy(v)
}

// Set inserts or replaces the value.
func (s *Store[V]) Set(_ context.Context, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.keyFunc(v)] = s.clone(v)
	return nil
}

// Insert adds the value, failing with ErrExists if its key is taken.
func (s *Store[V]) Insert(_ context.Context, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.keyFunc(v)
	if _, ok := s.data[k]; ok {
		return ErrExists
	}
	s.data[k] = s.clone(v)
	return nil
}

// Replace overwrites an existing value, failing with ErrNotFound otherwise.
func (s *Store[V]) Replace(_ context.Context, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.keyFunc(v)
	if _, ok := s.data[k]; !ok {
		return ErrNotFound
	}
	s.data[k] = s.clone(v)
	return nil
}

// Update applies fn to the stored value under the write lock.
func (s *Store[V]) Update(_ context.Context, key string, fn func(V) (V, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[key]
	if !ok {
		return ErrNotFound
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	s.data[key] = next
	return nil
}

// Get returns the value for key, or ErrNotFound if absent.
func (s *Store[V]) Get(_ context.Context, key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return s.clone(v), nil
}

// Delete removes the value for key. Returns ErrNotFound if absent.
func (s *Store[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return ErrNotFound
	}
	delete(s.data, key)
	return nil
}

// All returns every value ordered by key.
func (s *Store[V]) All(ctx context.Context) ([]V, error) {
	return s.Filter(ctx, func(V) bool { return true })
}

// Filter returns the values for which pred returns true, ordered by key.
func (s *Store[V]) Filter(_ context.Context, pred func(V) bool) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		if v := s.data[k]; pred(v) {
			out = append(out, s.clone(v))
		}
	}
	return out, nil
}

// Has reports whether the key exists.
func (s *Store[V]) Has(_ context.Context, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Len returns the number of stored values.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
