// Package memstore provides an in-process, map-backed Store used by tests
// and by the CLI's "memory" store backend. It is grounded directly on the
// original engine's InMemoryByteStore: a dict-like store with no
// persistence across process restarts.
package memstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/rzbill/brrr/internal/store"
)

// Store is a mutex-guarded map[string][]byte satisfying store.Store.
// Every conditional operation takes the lock for its whole critical
// section, so it is trivially linearizable per key (in fact, globally).
type Store struct {
	mu      sync.Mutex
	values  map[string][]byte
	counter map[string]int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		values:  make(map[string][]byte),
		counter: make(map[string]int64),
	}
}

func (s *Store) Has(_ context.Context, k store.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[k.String()]
	return ok, nil
}

func (s *Store) Get(_ context.Context, k store.Key) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[k.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Set(_ context.Context, k store.Key, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[k.String()] = append([]byte(nil), v...)
	return nil
}

func (s *Store) Delete(_ context.Context, k store.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, k.String())
	return nil
}

func (s *Store) SetNewValue(_ context.Context, k store.Key, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := k.String()
	if _, ok := s.values[key]; ok {
		return store.ErrCompareMismatch
	}
	s.values[key] = append([]byte(nil), v...)
	return nil
}

func (s *Store) CompareAndSet(_ context.Context, k store.Key, v, expected []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := k.String()
	cur, ok := s.values[key]
	if !ok || !bytes.Equal(cur, expected) {
		return store.ErrCompareMismatch
	}
	s.values[key] = append([]byte(nil), v...)
	return nil
}

func (s *Store) CompareAndDelete(_ context.Context, k store.Key, expected []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := k.String()
	cur, ok := s.values[key]
	if !ok || !bytes.Equal(cur, expected) {
		return store.ErrCompareMismatch
	}
	delete(s.values, key)
	return nil
}

func (s *Store) Incr(_ context.Context, counterKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter[counterKey]++
	return s.counter[counterKey], nil
}
