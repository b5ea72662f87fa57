// Package cache implements the multi-tier media cache: a bounded resident
// fast tier, an on-disk durable tier promoted into the fast tier on access,
// and a background proxy tier over the HTTP transport.
package cache

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tidegrove/galleria/internal/domain"
)

// writeBehindDepth bounds the durable write queue; beyond it writes drop
// to the fast tier only (still correct, just not persisted).
const writeBehindDepth = 64

// Engine unifies the tiers behind one get/set/evict contract.
// Durable-tier faults degrade to network-only for the affected key and are
// never surfaced past the log.
type Engine struct {
	fast    *FastTier
	durable *DurableTier // nil in memory-only mode
	logger  *slog.Logger
	clock   domain.Clock

	durableHits   atomic.Int64
	durableMisses atomic.Int64
	evictions     atomic.Int64

	writes chan *domain.CacheEntry
	wg     sync.WaitGroup
	once   sync.Once
}

// NewEngine builds the engine. durable may be nil for memory-only mode.
func NewEngine(fast *FastTier, durable *DurableTier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		fast:    fast,
		durable: durable,
		logger:  logger,
		clock:   domain.SystemClock,
		writes:  make(chan *domain.CacheEntry, writeBehindDepth),
	}
	if durable != nil {
		e.wg.Add(1)
		go e.writeBehind()
	}
	return e
}

// WithClock substitutes the clock for deterministic tests.
func (e *Engine) WithClock(c domain.Clock) *Engine {
	e.clock = c
	e.fast.WithClock(c)
	if e.durable != nil {
		e.durable.WithClock(c)
	}
	return e
}

// writeBehind drains Set's durable writes so callers never wait on disk.
func (e *Engine) writeBehind() {
	defer e.wg.Done()
	for entry := range e.writes {
		if err := e.durable.Put(entry); err != nil {
			e.logger.Warn("durable write failed, continuing memory-only for key",
				"key", entry.Key, "error", err)
		}
	}
}

// Get checks the fast tier, then the durable tier (promoting on hit).
// A true miss returns (nil, false) with no side effect.
func (e *Engine) Get(key string) ([]byte, bool) {
	if entry, ok := e.fast.Get(key); ok {
		return entry.Payload, true
	}
	if e.durable == nil {
		e.durableMisses.Add(1)
		return nil, false
	}
	entry, err := e.durable.Get(key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("durable read failed, treating as miss", "key", key, "error", err)
		}
		e.durableMisses.Add(1)
		return nil, false
	}
	e.durableHits.Add(1)
	e.fast.Set(entry)
	return entry.Payload, true
}

// Set stores a payload in the fast tier immediately and schedules the
// durable write behind.
func (e *Engine) Set(key string, payload []byte, origin string) {
	now := e.clock.Now()
	entry := &domain.CacheEntry{
		Key:       key,
		Payload:   payload,
		Origin:    origin,
		CreatedAt: now,
	}

	// The fast tier mutates its entry on every access, so the durable
	// worker gets its own copy before the original is published.
	if e.durable != nil {
		write := *entry
		write.Touch(now)
		select {
		case e.writes <- &write:
		default:
			e.logger.Warn("durable write queue full, keeping entry memory-only", "key", key)
		}
	}
	e.fast.Set(entry)
}

// Delete removes a key from both tiers.
func (e *Engine) Delete(key string) {
	e.fast.Delete(key)
	if e.durable != nil {
		if err := e.durable.Delete(key); err != nil {
			e.logger.Warn("durable delete failed", "key", key, "error", err)
		}
	}
}

// Has reports presence in either tier without touching access order.
func (e *Engine) Has(key string) bool {
	if e.fast.Has(key) {
		return true
	}
	return e.durable != nil && e.durable.Has(key)
}

// Pin protects a key in the fast tier while a view holds it.
func (e *Engine) Pin(key string) { e.fast.Pin(key) }

// Unpin releases one pin.
func (e *Engine) Unpin(key string) { e.fast.Unpin(key) }

// Preload promotes durable entries for the given keys into the fast tier.
func (e *Engine) Preload(keys []string) {
	if e.durable == nil {
		return
	}
	for _, key := range keys {
		if e.fast.Has(key) {
			continue
		}
		entry, err := e.durable.Get(key)
		if err != nil {
			continue
		}
		e.fast.Set(entry)
	}
}

// EvictToSize removes least-recently-accessed entries across both tiers
// until combined resident size is at most target.
func (e *Engine) EvictToSize(target int64) {
	metas := e.fast.Snapshot()
	tiers := map[string]bool{} // key -> durable?
	for _, m := range metas {
		tiers[m.Key] = false
	}
	var total int64
	for _, m := range metas {
		total += m.Size
	}
	if e.durable != nil {
		durableMetas, err := e.durable.Snapshot()
		if err != nil {
			e.logger.Warn("durable snapshot failed during eviction", "error", err)
		} else {
			for _, m := range durableMetas {
				if _, inFast := tiers[m.Key]; !inFast {
					metas = append(metas, m)
					tiers[m.Key] = true
					total += m.Size
				}
			}
		}
	}
	if total <= target {
		return
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].LastAccessedAt.Before(metas[j].LastAccessedAt)
	})
	for _, m := range metas {
		if total <= target {
			break
		}
		e.Delete(m.Key)
		e.evictions.Add(1)
		total -= m.Size
	}
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() domain.CacheStats {
	fastHits, fastMisses, fastEvictions := e.fast.Counters()
	stats := domain.CacheStats{
		FastHits:      fastHits,
		FastMisses:    fastMisses,
		DurableHits:   e.durableHits.Load(),
		DurableMisses: e.durableMisses.Load(),
		Evictions:     fastEvictions + e.evictions.Load(),
		FastBytes:     e.fast.Bytes(),
		FastEntries:   e.fast.Len(),
	}
	if e.durable != nil {
		if b, err := e.durable.Bytes(); err == nil {
			stats.DurableBytes = b
		}
	}
	return stats
}

// Close drains pending durable writes and closes the durable tier.
func (e *Engine) Close() error {
	var err error
	e.once.Do(func() {
		close(e.writes)
		e.wg.Wait()
		if e.durable != nil {
			err = e.durable.Close()
		}
	})
	return err
}
