package domain

import (
	"fmt"
	"sort"
)

// FilterAll is the default filter value matching every category.
const FilterAll = "all"

// MediaItem represents one gallery entry (photo or video thumbnail).
type MediaItem struct {
	ID           string // Unique, stable identifier within a catalog
	PrimaryURL   string // Full-size media URL
	ThumbnailURL string // Thumbnail URL (falls back to PrimaryURL when empty)
	Category     string // Filter category (e.g. "temple", "landscape")
	AltText      string // Accessible description
	Width        int    // Native width in pixels (0 = unknown)
	Height       int    // Native height in pixels (0 = unknown)
	Priority     int    // Higher = more urgent
	Cached       bool   // Set once the item has been observed in cache
}

// Thumbnail returns the thumbnail URL, falling back to the primary URL.
func (m MediaItem) Thumbnail() string {
	if m.ThumbnailURL != "" {
		return m.ThumbnailURL
	}
	return m.PrimaryURL
}

// AspectRatio returns width/height, or 0 when dimensions are unknown.
func (m MediaItem) AspectRatio() float64 {
	if m.Width <= 0 || m.Height <= 0 {
		return 0
	}
	return float64(m.Width) / float64(m.Height)
}

// Matches reports whether the item belongs to the given filter category.
func (m MediaItem) Matches(category string) bool {
	return category == "" || category == FilterAll || m.Category == category
}

// Catalog is the read-only item set built once per page load.
type Catalog struct {
	items []MediaItem
	byID  map[string]int
}

// NewCatalog validates the item list and builds the catalog index.
// Duplicate or empty IDs are a catalog fault.
func NewCatalog(items []MediaItem) (*Catalog, error) {
	if len(items) == 0 {
		return nil, &CatalogError{Reason: "empty catalog"}
	}
	byID := make(map[string]int, len(items))
	for i, it := range items {
		if it.ID == "" {
			return nil, &CatalogError{Reason: fmt.Sprintf("item %d has empty id", i)}
		}
		if _, dup := byID[it.ID]; dup {
			return nil, &CatalogError{Reason: fmt.Sprintf("duplicate item id %q", it.ID)}
		}
		if it.PrimaryURL == "" {
			return nil, &CatalogError{Reason: fmt.Sprintf("item %q has no source url", it.ID)}
		}
		byID[it.ID] = i
	}
	return &Catalog{items: items, byID: byID}, nil
}

// Len returns the number of items in the catalog.
func (c *Catalog) Len() int { return len(c.items) }

// Items returns all items in declared order.
func (c *Catalog) Items() []MediaItem {
	out := make([]MediaItem, len(c.items))
	copy(out, c.items)
	return out
}

// Item looks up one item by id.
func (c *Catalog) Item(id string) (MediaItem, bool) {
	i, ok := c.byID[id]
	if !ok {
		return MediaItem{}, false
	}
	return c.items[i], true
}

// IndexOf returns the declared position of an id, or -1.
func (c *Catalog) IndexOf(id string) int {
	if i, ok := c.byID[id]; ok {
		return i
	}
	return -1
}

// Filtered returns the items matching a category, preserving catalog order.
func (c *Catalog) Filtered(category string) []MediaItem {
	var out []MediaItem
	for _, it := range c.items {
		if it.Matches(category) {
			out = append(out, it)
		}
	}
	return out
}

// CategoryCount pairs a category name with its item total.
type CategoryCount struct {
	Name  string
	Count int
}

// Categories returns per-category item counts sorted by name.
func (c *Catalog) Categories() []CategoryCount {
	counts := make(map[string]int)
	for _, it := range c.items {
		counts[it.Category]++
	}
	out := make([]CategoryCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, CategoryCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
