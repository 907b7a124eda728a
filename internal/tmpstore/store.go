// Package tmpstore defines the expiring key-value store behind the QR
// session machinery. Backends are interchangeable and selected at startup.
package tmpstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or its TTL has
	// elapsed. Callers cannot distinguish the two, by contract.
	ErrNotFound = errors.New("tmpstore: not found")
	// ErrExists is returned by PutIfAbsent when a live entry already holds
	// the key.
	ErrExists = errors.New("tmpstore: already exists")
)

// Store is a TTL-scoped key-value store for opaque byte blobs.
//
// Get must never return a value whose TTL has elapsed, regardless of whether
// the backend has reclaimed it yet: freshness is enforced on the read path.
// PutIfAbsent must be atomic (insert-or-fail, not check-then-set); it is the
// primitive the nonce replay guard relies on.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
