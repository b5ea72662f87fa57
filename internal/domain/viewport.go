package domain

// Region classifies an item relative to the visible viewport.
// Every tracked item is in exactly one region.
type Region int

const (
	RegionFar     Region = iota // outside the near threshold; never auto-loaded
	RegionNear                  // within the preload threshold but not intersecting
	RegionVisible               // intersecting the viewport
)

func (r Region) String() string {
	switch r {
	case RegionVisible:
		return "visible"
	case RegionNear:
		return "near"
	default:
		return "far"
	}
}

// ViewportSnapshot captures scroll geometry at one instant.
// Recomputed on every scroll/resize event.
type ViewportSnapshot struct {
	ScrollOffset  float64
	VisibleExtent float64
	TotalExtent   float64
	PixelDensity  float64
}

// Rect is an absolute item position inside the scroll container.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// Bottom returns the lower edge of the rect.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Layout is the computed virtual grid geometry.
type Layout struct {
	Columns     int
	ItemHeight  float64
	Gap         float64
	TotalHeight float64
}
