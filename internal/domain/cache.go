package domain

import "time"

// CacheEntry is one stored payload plus its access bookkeeping.
// Timestamps are mutated on every re-access.
type CacheEntry struct {
	Key            string
	Payload        []byte
	Origin         string // source URL or tier that produced the payload
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
}

// Size returns the resident cost of the entry in bytes.
func (e *CacheEntry) Size() int64 { return int64(len(e.Payload)) }

// Touch records a re-access.
func (e *CacheEntry) Touch(now time.Time) {
	e.LastAccessedAt = now
	e.AccessCount++
}

// CacheStats is a point-in-time snapshot of engine counters.
type CacheStats struct {
	FastHits      int64
	FastMisses    int64
	DurableHits   int64
	DurableMisses int64
	Evictions     int64
	FastBytes     int64
	FastEntries   int
	DurableBytes  int64
}

// HitRate returns hits/(hits+misses) across both tiers, or 0 when idle.
func (s CacheStats) HitRate() float64 {
	hits := s.FastHits + s.DurableHits
	total := hits + s.DurableMisses // a durable miss is a true miss
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Strategy is the closed set of per-request-class proxy behaviors.
type Strategy int

const (
	StrategyCacheFirst Strategy = iota
	StrategyNetworkFirst
	StrategyCacheOnly
	StrategyNetworkOnly
	StrategyStaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case StrategyCacheFirst:
		return "cache-first"
	case StrategyNetworkFirst:
		return "network-first"
	case StrategyCacheOnly:
		return "cache-only"
	case StrategyNetworkOnly:
		return "network-only"
	case StrategyStaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return "unknown"
	}
}

// DecodedMedia is the loader's successful result: fetched bytes plus the
// variant they were fetched at.
type DecodedMedia struct {
	ID       string
	Payload  []byte
	Spec     QualitySpec
	Format   string // sniffed container format ("jpeg", "png", "webp", "gif")
	LoadedAt time.Time
}

// Size returns the decode-buffer cost in bytes.
func (d *DecodedMedia) Size() int64 { return int64(len(d.Payload)) }
