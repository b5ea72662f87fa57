// Package viewport classifies tracked items against the visible region and
// owns the virtual grid layout the orchestrator renders from.
package viewport

import (
	"math"
	"sync"

	"github.com/tidegrove/galleria/internal/domain"
)

const (
	minColumns = 1
	maxColumns = 6

	// cellAspect fixes the row height relative to the column width.
	cellAspect = 0.75
)

// Options bound the tracker's geometry.
type Options struct {
	MinItemWidth    float64
	Gap             float64
	NearThresholdPx float64
	OverscanRows    int
	PixelDensity    float64
}

func (o Options) withDefaults() Options {
	if o.MinItemWidth <= 0 {
		o.MinItemWidth = 220
	}
	if o.Gap < 0 {
		o.Gap = 0
	}
	if o.NearThresholdPx <= 0 {
		o.NearThresholdPx = 200
	}
	if o.OverscanRows <= 0 {
		o.OverscanRows = 5
	}
	if o.PixelDensity <= 0 {
		o.PixelDensity = 1
	}
	return o
}

// Tracker implements domain.VisibilityTracker from scroll geometry.
type Tracker struct {
	mu   sync.RWMutex
	opts Options

	containerW float64
	containerH float64
	scroll     float64

	ids       []string
	layout    domain.Layout
	positions map[string]domain.Rect
}

// New creates a tracker. Call Resize and Track before querying.
func New(opts Options) *Tracker {
	return &Tracker{
		opts:      opts.withDefaults(),
		positions: make(map[string]domain.Rect),
	}
}

// Track replaces the tracked item set and recomputes the layout.
func (t *Tracker) Track(items []domain.MediaItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = t.ids[:0]
	for _, it := range items {
		t.ids = append(t.ids, it.ID)
	}
	t.relayoutLocked()
}

// Resize updates the container extent and recomputes the layout.
func (t *Tracker) Resize(width, height float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.containerW = width
	t.containerH = height
	t.relayoutLocked()
}

// UpdateScroll records a new scroll offset, clamped to the layout extent.
func (t *Tracker) UpdateScroll(offset float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if max := t.layout.TotalHeight - t.containerH; max > 0 && offset > max {
		offset = max
	}
	t.scroll = offset
}

// Snapshot returns the current scroll geometry.
func (t *Tracker) Snapshot() domain.ViewportSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.ViewportSnapshot{
		ScrollOffset:  t.scroll,
		VisibleExtent: t.containerH,
		TotalExtent:   t.layout.TotalHeight,
		PixelDensity:  t.opts.PixelDensity,
	}
}

// relayoutLocked recomputes columns and absolute positions. Caller holds t.mu.
func (t *Tracker) relayoutLocked() {
	cols := minColumns
	if t.containerW > 0 {
		cols = int((t.containerW + t.opts.Gap) / (t.opts.MinItemWidth + t.opts.Gap))
		if cols < minColumns {
			cols = minColumns
		}
		if cols > maxColumns {
			cols = maxColumns
		}
	}

	itemW := t.opts.MinItemWidth
	if t.containerW > 0 {
		itemW = (t.containerW - float64(cols-1)*t.opts.Gap) / float64(cols)
	}
	itemH := itemW * cellAspect

	rows := 0
	if len(t.ids) > 0 {
		rows = (len(t.ids) + cols - 1) / cols
	}
	total := 0.0
	if rows > 0 {
		total = float64(rows)*itemH + float64(rows-1)*t.opts.Gap
	}

	t.layout = domain.Layout{
		Columns:     cols,
		ItemHeight:  itemH,
		Gap:         t.opts.Gap,
		TotalHeight: total,
	}

	clear(t.positions)
	for i, id := range t.ids {
		row := i / cols
		col := i % cols
		t.positions[id] = domain.Rect{
			X:      float64(col) * (itemW + t.opts.Gap),
			Y:      float64(row) * (itemH + t.opts.Gap),
			Width:  itemW,
			Height: itemH,
		}
	}
}

// ComputeLayout returns the current virtual grid geometry.
func (t *Tracker) ComputeLayout() domain.Layout {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.layout
}

// PositionOf returns the absolute rect of one item.
func (t *Tracker) PositionOf(id string) (domain.Rect, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.positions[id]
	return r, ok
}

// RegionOf classifies one item as visible, near, or far.
func (t *Tracker) RegionOf(id string) domain.Region {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.regionLocked(id, t.opts.NearThresholdPx)
}

func (t *Tracker) regionLocked(id string, threshold float64) domain.Region {
	rect, ok := t.positions[id]
	if !ok {
		return domain.RegionFar
	}
	top := t.scroll
	bottom := t.scroll + t.containerH

	if rect.Y < bottom && rect.Bottom() > top {
		return domain.RegionVisible
	}
	if rect.Y < bottom+threshold && rect.Bottom() > top-threshold {
		return domain.RegionNear
	}
	return domain.RegionFar
}

// DistanceFrom returns the pixel gap between an item and the visible
// region; 0 for intersecting items, +Inf for unknown ids.
func (t *Tracker) DistanceFrom(id string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rect, ok := t.positions[id]
	if !ok {
		return math.Inf(1)
	}
	top := t.scroll
	bottom := t.scroll + t.containerH
	switch {
	case rect.Bottom() <= top:
		return top - rect.Bottom()
	case rect.Y >= bottom:
		return rect.Y - bottom
	default:
		return 0
	}
}

// Visible returns the ids intersecting the viewport, in layout order.
func (t *Tracker) Visible() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	for _, id := range t.ids {
		if t.regionLocked(id, t.opts.NearThresholdPx) == domain.RegionVisible {
			out = append(out, id)
		}
	}
	return out
}

// Near returns the ids within thresholdPx of the viewport but not
// intersecting it, in layout order.
func (t *Tracker) Near(thresholdPx float64) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if thresholdPx <= 0 {
		thresholdPx = t.opts.NearThresholdPx
	}
	var out []string
	for _, id := range t.ids {
		if t.regionLocked(id, thresholdPx) == domain.RegionNear {
			out = append(out, id)
		}
	}
	return out
}

// RenderWindow returns the visible rows plus the overscan margin, in
// layout order. The orchestrator renders only this subset.
func (t *Tracker) RenderWindow() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.ids) == 0 || t.layout.Columns == 0 {
		return nil
	}
	rowPitch := t.layout.ItemHeight + t.layout.Gap
	if rowPitch <= 0 {
		return append([]string(nil), t.ids...)
	}

	firstRow := int(t.scroll/rowPitch) - t.opts.OverscanRows
	if firstRow < 0 {
		firstRow = 0
	}
	lastRow := int((t.scroll+t.containerH)/rowPitch) + t.opts.OverscanRows

	start := firstRow * t.layout.Columns
	end := (lastRow + 1) * t.layout.Columns
	if start > len(t.ids) {
		return nil
	}
	if end > len(t.ids) {
		end = len(t.ids)
	}
	return append([]string(nil), t.ids[start:end]...)
}
