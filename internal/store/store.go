// Package store provides the small durable key-value surface used for
// per-filter scroll positions and similar page-scoped state.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketState = []byte("state")

// BoltStore implements domain.PersistentStore using BoltDB, scoped to one
// page (bucket per page hash).
type BoltStore struct {
	db    *bolt.DB
	scope []byte
}

// Open opens (or creates) the store under dir, scoped to pageKey.
func Open(dir, pageKey string) (*BoltStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(dir, "state.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	scope := []byte(hashPageKey(pageKey))
	err = db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(bucketState)
		if err != nil {
			return err
		}
		_, err = root.CreateBucketIfNotExists(scope)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db, scope: scope}, nil
}

func hashPageKey(pageKey string) string {
	normalized := strings.TrimRight(strings.ToLower(pageKey), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

// Get returns the value for key, reporting whether it exists.
func (s *BoltStore) Get(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState).Bucket(s.scope)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// Set stores value under key.
func (s *BoltStore) Set(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState).Bucket(s.scope)
		return b.Put([]byte(key), value)
	})
}

// Delete removes key if present.
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState).Bucket(s.scope)
		return b.Delete([]byte(key))
	})
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// MemStore is the in-memory test double for domain.PersistentStore.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailWrites makes Set/Delete error, for degradation tests.
	FailWrites bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemStore) Set(key string, value []byte) error {
	if s.FailWrites {
		return fmt.Errorf("simulated write failure for %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemStore) Delete(key string) error {
	if s.FailWrites {
		return fmt.Errorf("simulated delete failure for %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemStore) Close() error { return nil }
