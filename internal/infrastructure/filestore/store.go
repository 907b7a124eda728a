// Package filestore is the file-backed backend of the expiring key-value
// store: one file per key, with the file mtime set to the expiry instant.
//
// This backend is best-effort, not crash-consistent. Expired files linger
// until an external sweep removes them (a cron such as
// `find <dir> -type f -mmin +60 -delete` works); reads stay correct anyway
// because Get re-checks the expiry marker on every call.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-qr-relay/internal/tmpstore"
)

type Store struct {
	dir string
	now func() time.Time
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create tmpstore dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	path := s.path(key)
	if err := os.WriteFile(path, value, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return s.markExpiry(path, key, ttl)
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	path := s.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, tmpstore.ErrNotFound
	}
	if info.ModTime().Before(s.now()) {
		return nil, tmpstore.ErrNotFound
	}
	value, err := os.ReadFile(path)
	if err != nil {
		return nil, tmpstore.ErrNotFound
	}
	return value, nil
}

// PutIfAbsent creates the key file with O_EXCL. When the existing file has
// already expired it is removed and creation retried once; two writers
// racing on an expired key can therefore both think they won. This is as
// atomic as a plain filesystem gets and is an accepted limitation of this
// backend.
func (s *Store) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) error {
	path := s.path(key)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			if _, werr := f.Write(value); werr != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", key, werr)
			}
			f.Close()
			return s.markExpiry(path, key, ttl)
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create %s: %w", key, err)
		}
		info, serr := os.Stat(path)
		if serr == nil && !info.ModTime().Before(s.now()) {
			return tmpstore.ErrExists
		}
		_ = os.Remove(path)
	}
	return tmpstore.ErrExists
}

// markExpiry sets the file mtime to the instant the entry becomes stale.
func (s *Store) markExpiry(path, key string, ttl time.Duration) error {
	now := s.now()
	if err := os.Chtimes(path, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("set expiry on %s: %w", key, err)
	}
	return nil
}

func (s *Store) path(key string) string {
	// Keys are built from validated session tokens, but never trust them as
	// path components.
	safe := strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(key)
	return filepath.Join(s.dir, safe)
}
