package cache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tidegrove/galleria/internal/domain"
)

// Bucket names
var (
	bucketPayloads = []byte("payloads")
	bucketMeta     = []byte("meta")
	bucketInfo     = []byte("info")

	keyVersion = []byte("version")
)

// entryMeta is the JSON metadata stored beside each payload.
type entryMeta struct {
	Key            string    `json:"key"`
	Origin         string    `json:"origin"`
	Size           int64     `json:"size"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
}

// DurableTier is the on-disk tier. Every call is one BoltDB transaction;
// a version bump on open wipes stale entries.
type DurableTier struct {
	db      *bolt.DB
	ceiling int64
	clock   domain.Clock
}

// OpenDurable opens the durable tier under dir at the given schema version.
func OpenDurable(dir string, version int, ceilingBytes int64) (*DurableTier, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(dir, "media.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		info, err := tx.CreateBucketIfNotExists(bucketInfo)
		if err != nil {
			return err
		}
		stored := info.Get(keyVersion)
		want := make([]byte, 8)
		binary.BigEndian.PutUint64(want, uint64(version))

		if stored != nil && !equalBytes(stored, want) {
			// Version bump: invalidate everything from the old schema.
			for _, b := range [][]byte{bucketPayloads, bucketMeta} {
				if tx.Bucket(b) != nil {
					if err := tx.DeleteBucket(b); err != nil {
						return err
					}
				}
			}
		}
		if err := info.Put(keyVersion, want); err != nil {
			return err
		}
		for _, b := range [][]byte{bucketPayloads, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DurableTier{db: db, ceiling: ceilingBytes, clock: domain.SystemClock}, nil
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WithClock substitutes the clock for deterministic tests.
func (t *DurableTier) WithClock(c domain.Clock) *DurableTier {
	t.clock = c
	return t
}

// Get reads one entry and records the access in the same transaction.
func (t *DurableTier) Get(key string) (*domain.CacheEntry, error) {
	var entry *domain.CacheEntry
	err := t.db.Update(func(tx *bolt.Tx) error {
		metaRaw := tx.Bucket(bucketMeta).Get([]byte(key))
		payload := tx.Bucket(bucketPayloads).Get([]byte(key))
		if metaRaw == nil || payload == nil {
			return domain.ErrNotFound
		}
		var meta entryMeta
		if err := json.Unmarshal(metaRaw, &meta); err != nil {
			return err
		}
		entry = &domain.CacheEntry{
			Key:            key,
			Payload:        append([]byte(nil), payload...),
			Origin:         meta.Origin,
			CreatedAt:      meta.CreatedAt,
			LastAccessedAt: meta.LastAccessedAt,
			AccessCount:    meta.AccessCount,
		}
		entry.Touch(t.clock.Now())

		meta.LastAccessedAt = entry.LastAccessedAt
		meta.AccessCount = entry.AccessCount
		updated, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(key), updated)
	})
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, err
		}
		return nil, &domain.CacheError{Op: "get", Key: key, Err: err}
	}
	return entry, nil
}

// Put stores one entry, then trims the tier to its ceiling.
func (t *DurableTier) Put(entry *domain.CacheEntry) error {
	meta := entryMeta{
		Key:            entry.Key,
		Origin:         entry.Origin,
		Size:           entry.Size(),
		CreatedAt:      entry.CreatedAt,
		LastAccessedAt: entry.LastAccessedAt,
		AccessCount:    entry.AccessCount,
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return &domain.CacheError{Op: "put", Key: entry.Key, Err: err}
	}
	err = t.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketPayloads).Put([]byte(entry.Key), entry.Payload); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(entry.Key), metaRaw)
	})
	if err != nil {
		return &domain.CacheError{Op: "put", Key: entry.Key, Err: err}
	}
	if t.ceiling > 0 {
		if _, err := t.EvictToSize(t.ceiling); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes one entry.
func (t *DurableTier) Delete(key string) error {
	err := t.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketPayloads).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete([]byte(key))
	})
	if err != nil {
		return &domain.CacheError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Has reports presence without recording an access.
func (t *DurableTier) Has(key string) bool {
	var ok bool
	t.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketMeta).Get([]byte(key)) != nil
		return nil
	})
	return ok
}

// Bytes returns the stored payload total.
func (t *DurableTier) Bytes() (int64, error) {
	var total int64
	err := t.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(_, v []byte) error {
			var meta entryMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			total += meta.Size
			return nil
		})
	})
	if err != nil {
		return 0, &domain.CacheError{Op: "stat", Err: err}
	}
	return total, nil
}

// Snapshot returns access metadata for all stored entries.
func (t *DurableTier) Snapshot() ([]EntryMeta, error) {
	var out []EntryMeta
	err := t.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(_, v []byte) error {
			var meta entryMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return err
			}
			out = append(out, EntryMeta{Key: meta.Key, Size: meta.Size, LastAccessedAt: meta.LastAccessedAt})
			return nil
		})
	})
	if err != nil {
		return nil, &domain.CacheError{Op: "stat", Err: err}
	}
	return out, nil
}

// EvictToSize removes oldest-accessed entries until stored size is at
// most target. Returns the number evicted.
func (t *DurableTier) EvictToSize(target int64) (int, error) {
	metas, err := t.Snapshot()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, m := range metas {
		total += m.Size
	}
	if total <= target {
		return 0, nil
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].LastAccessedAt.Before(metas[j].LastAccessedAt)
	})

	n := 0
	for _, m := range metas {
		if total <= target {
			break
		}
		if err := t.Delete(m.Key); err != nil {
			return n, err
		}
		total -= m.Size
		n++
	}
	return n, nil
}

// Close closes the underlying database.
func (t *DurableTier) Close() error {
	if t.db != nil {
		return t.db.Close()
	}
	return nil
}
