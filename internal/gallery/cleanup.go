package gallery

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/tidegrove/galleria/internal/domain"
)

// decodedEntry is one resident decode buffer with the bookkeeping the
// cleanup scorer needs.
type decodedEntry struct {
	media    *domain.DecodedMedia
	loadedAt time.Time
	lastUsed time.Time
}

// Cleanup scoring weights: recency dominates, viewport distance breaks
// near-ties. Items intersecting the viewport are never unloaded.
const (
	ageWeight      = 0.6
	distanceWeight = 0.4
)

// ResidentBytes sums the resident decode buffers.
func (g *Gallery) ResidentBytes() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.residentBytesLocked()
}

func (g *Gallery) residentBytesLocked() int64 {
	var total int64
	for _, e := range g.decoded {
		total += e.media.Size()
	}
	return total
}

// sampleMemory polls resident decode-buffer size and unloads off-screen
// buffers when usage crosses the cleanup threshold. Cache entries are
// untouched; an unloaded item re-decodes from cache on demand.
func (g *Gallery) sampleMemory(ctx context.Context) {
	interval := g.cfg.MemoryCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resident := g.ResidentBytes()
			if g.monitor != nil {
				g.monitor.RecordMemory(resident)
			}
			ceiling := g.memoryCeiling()
			if float64(resident) > g.cleanupThreshold()*float64(ceiling) {
				g.cleanupDecoded(ceiling)
			}
		}
	}
}

func (g *Gallery) memoryCeiling() int64 {
	if g.cfg.MemoryCeilingMB <= 0 {
		return 100 << 20
	}
	return int64(g.cfg.MemoryCeilingMB) << 20
}

func (g *Gallery) cleanupThreshold() float64 {
	if g.cfg.CleanupThreshold <= 0 || g.cfg.CleanupThreshold > 1 {
		return 0.8
	}
	return g.cfg.CleanupThreshold
}

// cleanupDecoded unloads decode buffers, worst combined score first, until
// resident bytes drop under the threshold. The score blends normalized age
// since last use with normalized viewport distance; visible items score
// zero and are skipped outright.
func (g *Gallery) cleanupDecoded(ceiling int64) {
	target := int64(g.cleanupThreshold() * float64(ceiling))
	now := g.clock.Now()

	type candidate struct {
		id    string
		size  int64
		score float64
	}

	g.mu.Lock()
	resident := g.residentBytesLocked()
	if resident <= target {
		g.mu.Unlock()
		return
	}

	var maxAge float64
	var maxDist float64
	ages := make(map[string]float64, len(g.decoded))
	dists := make(map[string]float64, len(g.decoded))
	for id, e := range g.decoded {
		if g.tracker.RegionOf(id) == domain.RegionVisible {
			continue
		}
		age := now.Sub(e.lastUsed).Seconds()
		dist := g.tracker.DistanceFrom(id)
		if math.IsInf(dist, 1) {
			dist = 1e9
		}
		ages[id], dists[id] = age, dist
		maxAge = math.Max(maxAge, age)
		maxDist = math.Max(maxDist, dist)
	}

	var candidates []candidate
	for id, age := range ages {
		var score float64
		if maxAge > 0 {
			score += ageWeight * (age / maxAge)
		}
		if maxDist > 0 {
			score += distanceWeight * (dists[id] / maxDist)
		}
		candidates = append(candidates, candidate{id: id, size: g.decoded[id].media.Size(), score: score})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	freed := int64(0)
	unloaded := 0
	for _, c := range candidates {
		if resident-freed <= target {
			break
		}
		delete(g.decoded, c.id)
		freed += c.size
		unloaded++
	}
	still := resident-freed > g.memoryCeiling()
	if still {
		g.lastErr = &domain.CapacityError{ResidentBytes: resident - freed, CeilingBytes: g.memoryCeiling()}
	}
	g.mu.Unlock()

	g.logger.Info("memory cleanup", "unloaded", unloaded, "freed_bytes", freed, "resident_bytes", resident-freed)
}

// waitForHeadroom defers new batch dispatch while resident decode buffers
// exceed the hard ceiling. Deferral, not failure: loads resume as soon as
// the sampler frees room.
func (g *Gallery) waitForHeadroom(ctx context.Context) error {
	ceiling := g.memoryCeiling()
	for g.ResidentBytes() > ceiling {
		g.cleanupDecoded(ceiling)
		if g.ResidentBytes() <= ceiling {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}
