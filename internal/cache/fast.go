package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/tidegrove/galleria/internal/domain"
)

// FastTier is the bounded resident tier: a map over an intrusive LRU list.
// Eviction removes the oldest unpinned entries until resident size fits
// the ceiling; entries pinned by an in-flight view are never removed.
type FastTier struct {
	mu      sync.Mutex
	ceiling int64
	bytes   int64

	items  map[string]*list.Element
	order  *list.List // front = most recently accessed
	pinned map[string]int

	hits, misses, evictions int64

	clock domain.Clock
}

// NewFastTier creates a resident tier bounded to ceilingBytes.
func NewFastTier(ceilingBytes int64) *FastTier {
	return &FastTier{
		ceiling: ceilingBytes,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		pinned:  make(map[string]int),
		clock:   domain.SystemClock,
	}
}

// WithClock substitutes the clock for deterministic tests.
func (t *FastTier) WithClock(c domain.Clock) *FastTier {
	t.clock = c
	return t
}

// Get returns the entry and marks it most recently accessed.
func (t *FastTier) Get(key string) (*domain.CacheEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.items[key]
	if !ok {
		t.misses++
		return nil, false
	}
	t.hits++
	t.order.MoveToFront(el)
	entry := el.Value.(*domain.CacheEntry)
	entry.Touch(t.clock.Now())
	return entry, true
}

// Set stores an entry and marks it accessed, evicting older unpinned
// entries as needed. Payloads larger than the whole ceiling are not
// admitted.
func (t *FastTier) Set(entry *domain.CacheEntry) bool {
	size := entry.Size()
	if size > t.ceiling {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.items[entry.Key]; ok {
		old := el.Value.(*domain.CacheEntry)
		t.bytes -= old.Size()
		el.Value = entry
		t.order.MoveToFront(el)
	} else {
		t.items[entry.Key] = t.order.PushFront(entry)
	}
	entry.Touch(t.clock.Now())
	t.bytes += size
	t.evictLocked(t.ceiling)
	return true
}

// Delete removes an entry regardless of pin state.
func (t *FastTier) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.items[key]; ok {
		t.removeLocked(el)
	}
}

// Has reports presence without touching access order.
func (t *FastTier) Has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.items[key]
	return ok
}

// Keys returns all resident keys, most recently accessed first.
func (t *FastTier) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.items))
	for el := t.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*domain.CacheEntry).Key)
	}
	return out
}

// Pin protects a key from eviction while an in-flight view holds it.
// Pins nest; each Pin needs a matching Unpin.
func (t *FastTier) Pin(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinned[key]++
}

// Unpin releases one pin on key.
func (t *FastTier) Unpin(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pinned[key] <= 1 {
		delete(t.pinned, key)
	} else {
		t.pinned[key]--
	}
}

// EvictToSize removes oldest-accessed unpinned entries until resident
// size is at most target. Returns the number evicted.
func (t *FastTier) EvictToSize(target int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictLocked(target)
}

func (t *FastTier) evictLocked(target int64) int {
	n := 0
	el := t.order.Back()
	for el != nil && t.bytes > target {
		prev := el.Prev()
		entry := el.Value.(*domain.CacheEntry)
		if _, pinned := t.pinned[entry.Key]; !pinned {
			t.removeLocked(el)
			t.evictions++
			n++
		}
		el = prev
	}
	return n
}

func (t *FastTier) removeLocked(el *list.Element) {
	entry := el.Value.(*domain.CacheEntry)
	t.order.Remove(el)
	delete(t.items, entry.Key)
	t.bytes -= entry.Size()
}

// Bytes returns the resident size.
func (t *FastTier) Bytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

// Len returns the resident entry count.
func (t *FastTier) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// EntryMeta is eviction bookkeeping for one resident entry.
type EntryMeta struct {
	Key            string
	Size           int64
	LastAccessedAt time.Time
}

// Snapshot returns access metadata for every resident entry.
func (t *FastTier) Snapshot() []EntryMeta {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]EntryMeta, 0, len(t.items))
	for el := t.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*domain.CacheEntry)
		out = append(out, EntryMeta{Key: e.Key, Size: e.Size(), LastAccessedAt: e.LastAccessedAt})
	}
	return out
}

// Counters returns hit/miss/eviction totals.
func (t *FastTier) Counters() (hits, misses, evictions int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hits, t.misses, t.evictions
}
