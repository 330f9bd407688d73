// Package memory provides a process-local vault storage. Tabs that share one
// *Store share credentials, and watchers observe every write.
package memory

import (
	"context"
	"sync"
)

// Store is an in-memory key/value storage.
type Store struct {
	mu       sync.RWMutex
	values   map[string]string
	watchers map[int]func(string)
	nextID   int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		values:   make(map[string]string),
		watchers: make(map[int]func(string)),
	}
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	s.fire(key)
	return nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	_, existed := s.values[key]
	delete(s.values, key)
	s.mu.Unlock()
	if existed {
		s.fire(key)
	}
	return nil
}

// Watch registers fn until ctx is done. fn runs on the writer's goroutine.
func (s *Store) Watch(ctx context.Context, fn func(key string)) error {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}()
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func (s *Store) fire(key string) {
	s.mu.RLock()
	fns := make([]func(string), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}
