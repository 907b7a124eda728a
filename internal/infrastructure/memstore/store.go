// Package memstore is the in-process backend of the expiring key-value
// store. Single-node only: entries are not shared across processes.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/go-qr-relay/internal/tmpstore"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store holds entries in a mutex-guarded map. A janitor goroutine sweeps
// expired entries periodically; correctness does not depend on it because
// Get re-checks expiry on every read.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func New() *Store {
	s := &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	go s.janitor()
	return s
}

func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{value: append([]byte(nil), value...), expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, tmpstore.ErrNotFound
	}
	if !e.expiresAt.After(s.now()) {
		delete(s.entries, key)
		return nil, tmpstore.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.expiresAt.After(s.now()) {
		return tmpstore.ErrExists
	}
	s.entries[key] = entry{value: append([]byte(nil), value...), expiresAt: s.now().Add(ttl)}
	return nil
}

// janitor removes stale entries every minute.
func (s *Store) janitor() {
	for {
		time.Sleep(time.Minute)
		s.mu.Lock()
		now := s.now()
		for k, e := range s.entries {
			if !e.expiresAt.After(now) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}
