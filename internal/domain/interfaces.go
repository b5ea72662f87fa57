package domain

import (
	"context"
	"net/http"
	"time"
)

// VisibilityTracker classifies tracked items against the viewport and owns
// the virtual layout. The production implementation derives regions from
// scroll geometry; tests substitute a fixed-region double.
type VisibilityTracker interface {
	Track(items []MediaItem)
	UpdateScroll(offset float64)
	Resize(width, height float64)
	Snapshot() ViewportSnapshot
	Visible() []string
	Near(thresholdPx float64) []string
	RegionOf(id string) Region
	DistanceFrom(id string) float64
	ComputeLayout() Layout
	PositionOf(id string) (Rect, bool)
	RenderWindow() []string
}

// PersistentStore is a small durable key-value surface scoped to the page.
// Used for per-filter scroll positions and similar trivia, not media bytes.
type PersistentStore interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// NetworkInterceptor is the background proxy tier: it may answer a request
// from previously seen responses according to the strategy resolved for the
// request class, or pass it through.
type NetworkInterceptor interface {
	http.RoundTripper
	Strategy(req *http.Request) Strategy
}

// Fetcher retrieves one media variant over the page's standard transport.
type Fetcher interface {
	Fetch(ctx context.Context, url string, spec QualitySpec) ([]byte, error)
}

// RenderSurface is the thin rendering contract the orchestrator drives.
// It appends/removes elements in the host container and toggles
// presentation-state markers; styling belongs to the host.
type RenderSurface interface {
	Append(item MediaItem)
	Remove(id string)
	SetStatus(id string, status ItemStatus)
	ShowBanner(err error)
	ClearBanner()
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the production clock.
var SystemClock Clock = ClockFunc(time.Now)
