package loader

import "github.com/tidegrove/galleria/internal/domain"

// pending is one queued, not-yet-started load.
type pending struct {
	flight *flight
	region domain.Region
	rank   int // declared item priority
	seq    uint64
	index  int // heap bookkeeping
}

// requestHeap orders queued loads: viewport region first (visible before
// near before far), then declared priority, then arrival order.
type requestHeap []*pending

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].region != h[j].region {
		return h[i].region > h[j].region // RegionVisible > RegionNear > RegionFar
	}
	if h[i].rank != h[j].rank {
		return h[i].rank > h[j].rank
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	p := x.(*pending)
	p.index = len(*h)
	*h = append(*h, p)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*h = old[:n-1]
	return p
}
