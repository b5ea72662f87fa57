package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegrove/galleria/internal/backoff"
	"github.com/tidegrove/galleria/internal/cache"
	"github.com/tidegrove/galleria/internal/config"
	"github.com/tidegrove/galleria/internal/domain"
	"github.com/tidegrove/galleria/internal/loader"
	"github.com/tidegrove/galleria/internal/log"
	"github.com/tidegrove/galleria/internal/store"
)

// fakeTracker substitutes scroll geometry with fixed regions.
type fakeTracker struct {
	mu      sync.Mutex
	offset  float64
	regions map[string]domain.Region
	dists   map[string]float64
	tracked []domain.MediaItem
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{regions: make(map[string]domain.Region), dists: make(map[string]float64)}
}

func (f *fakeTracker) Track(items []domain.MediaItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = items
}

func (f *fakeTracker) UpdateScroll(offset float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offset = offset
}

func (f *fakeTracker) Resize(width, height float64) {}

func (f *fakeTracker) Snapshot() domain.ViewportSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.ViewportSnapshot{ScrollOffset: f.offset}
}

func (f *fakeTracker) Visible() []string { return f.idsIn(domain.RegionVisible) }

func (f *fakeTracker) Near(thresholdPx float64) []string { return f.idsIn(domain.RegionNear) }

func (f *fakeTracker) idsIn(r domain.Region) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, reg := range f.regions {
		if reg == r {
			out = append(out, id)
		}
	}
	return out
}

func (f *fakeTracker) RegionOf(id string) domain.Region {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.regions[id]; ok {
		return r
	}
	return domain.RegionVisible
}

func (f *fakeTracker) DistanceFrom(id string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dists[id]
}

func (f *fakeTracker) ComputeLayout() domain.Layout { return domain.Layout{} }

func (f *fakeTracker) PositionOf(id string) (domain.Rect, bool) { return domain.Rect{}, false }

func (f *fakeTracker) RenderWindow() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.tracked))
	for i, it := range f.tracked {
		out[i] = it.ID
	}
	return out
}

// fakeSurface records render calls.
type fakeSurface struct {
	mu       sync.Mutex
	appended []string
	statuses map[string]domain.ItemStatus
	banner   error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{statuses: make(map[string]domain.ItemStatus)}
}

func (f *fakeSurface) Append(item domain.MediaItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, item.ID)
}

func (f *fakeSurface) Remove(id string) {}

func (f *fakeSurface) SetStatus(id string, status domain.ItemStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = status
}

func (f *fakeSurface) ShowBanner(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banner = err
}

func (f *fakeSurface) ClearBanner() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banner = nil
}

func (f *fakeSurface) bannerErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.banner
}

// fakeFetcher serves canned payloads with optional per-id failures and
// per-url gates that hold a fetch open until released.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    atomic.Int64
	perID    map[string]int64
	failures map[string]error // per source URL suffix (item id)
	gates    map[string]chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		perID:    make(map[string]int64),
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, spec domain.QualitySpec) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.perID[url]++
	err := f.failures[url]
	gate := f.gates[url]
	f.mu.Unlock()
	if gate != nil {
		// Deliberately ignores ctx: a released fetch completes even when
		// its caller has since been cancelled.
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}, nil
}

func (f *fakeFetcher) hold(url string, gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[url] = gate
}

func (f *fakeFetcher) failWith(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = err
}

func (f *fakeFetcher) clearFailure(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, url)
}

func (f *fakeFetcher) callsFor(url string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perID[url]
}

func urlOf(id string) string { return "https://cdn.example.com/" + id + ".jpg" }

func makeItems(n int, category string) []domain.MediaItem {
	items := make([]domain.MediaItem, n)
	for i := range items {
		id := fmt.Sprintf("%s-%d", category, i)
		items[i] = domain.MediaItem{ID: id, PrimaryURL: urlOf(id), Category: category}
	}
	return items
}

type fixture struct {
	gallery *Gallery
	fetcher *fakeFetcher
	surface *fakeSurface
	tracker *fakeTracker
	engine  *cache.Engine
	store   *store.MemStore
}

func newFixture(t *testing.T, items []domain.MediaItem) *fixture {
	t.Helper()

	cat, err := domain.NewCatalog(items)
	require.NoError(t, err)

	engine := cache.NewEngine(cache.NewFastTier(50<<20), nil, log.Null())
	t.Cleanup(func() { _ = engine.Close() })

	fetcher := newFakeFetcher()
	ld := loader.New(fetcher, engine, nil, log.Null())
	t.Cleanup(ld.Close)

	tracker := newFakeTracker()
	surface := newFakeSurface()
	mem := store.NewMemStore()

	policy := backoff.New()
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 2 * time.Millisecond
	policy.Jitter = 0

	cfg := config.Default().Gallery
	cfg.SettleDelay = time.Millisecond

	g := New(Deps{
		Catalog:   cat,
		Loader:    ld,
		Cache:     engine,
		Tracker:   tracker,
		Surface:   surface,
		Positions: mem,
		Policy:    policy,
	}, cfg, log.Null())
	t.Cleanup(g.Close)

	return &fixture{gallery: g, fetcher: fetcher, surface: surface, tracker: tracker, engine: engine, store: mem}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestLoadsWholeCatalogInBatches(t *testing.T) {
	fx := newFixture(t, makeItems(25, "all"))

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, fx.gallery.Ready, "gallery never settled")

	snap := fx.gallery.Snapshot()
	assert.Equal(t, 25, snap.Total)
	assert.Equal(t, 25, snap.Loaded)
	assert.Zero(t, snap.Failed)
	assert.InDelta(t, 1.0, fx.gallery.Progress(), 0.001)
	assert.Equal(t, int64(25), fx.fetcher.calls.Load())
}

func TestBatchPlanTwentyThenTensWithTrailingRemainder(t *testing.T) {
	fx := newFixture(t, makeItems(45, "all"))

	batches := fx.gallery.planBatches(fx.gallery.catalog.Items())
	require.Len(t, batches, 4)
	assert.Len(t, batches[0], 20)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 10)
	assert.Len(t, batches[3], 5, "remainder forms one short trailing batch")
}

func TestInitialBatchOrdersByPriorityThenCatalogOrder(t *testing.T) {
	items := makeItems(25, "all")
	items[22].Priority = 5
	items[7].Priority = 5
	fx := newFixture(t, items)

	batches := fx.gallery.planBatches(items)
	require.Len(t, batches, 2)
	assert.Equal(t, "all-7", batches[0][0].ID, "equal priorities keep catalog order")
	assert.Equal(t, "all-22", batches[0][1].ID)

	// The remainder is the unchosen tail in catalog order.
	require.Len(t, batches[1], 5)
	assert.Equal(t, "all-19", batches[1][0].ID)
}

func TestSnapshotInFlightCappedByLoaderCeiling(t *testing.T) {
	items := makeItems(20, "all")
	fx := newFixture(t, items)

	gate := make(chan struct{})
	for _, it := range items {
		fx.fetcher.hold(it.PrimaryURL, gate)
	}

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, func() bool {
		return len(fx.gallery.Snapshot().InFlight) == loader.DefaultConcurrency
	}, "loads never saturated the ceiling")

	// The whole initial batch is dispatched at once, but only fetches the
	// loader actually admitted may appear in the snapshot.
	for i := 0; i < 25; i++ {
		assert.LessOrEqual(t, len(fx.gallery.Snapshot().InFlight), loader.DefaultConcurrency)
		time.Sleep(2 * time.Millisecond)
	}

	close(gate)
	waitFor(t, fx.gallery.Ready, "gallery never settled")
	assert.Empty(t, fx.gallery.Snapshot().InFlight)
}

func TestStaleFlightDoesNotCountAgainstNewFilter(t *testing.T) {
	items := append(makeItems(1, "nature"), makeItems(1, "urban")...)
	fx := newFixture(t, items)

	gate := make(chan struct{})
	fx.fetcher.hold(urlOf("nature-0"), gate)

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, func() bool { return fx.gallery.Status("urban-0") == domain.ItemLoaded }, "ungated item never loaded")

	// Switch filters while nature-0 is still on the wire, then let its
	// flight finish. urban-0 is cached, so the new filter settles at once.
	fx.gallery.ApplyFilter("urban")
	require.Equal(t, domain.PhaseReady, fx.gallery.State())

	close(gate)
	waitFor(t, func() bool { return fx.engine.Has("nature-0") }, "gated flight never completed")

	// The late success belongs to the old filter and must not move the
	// new filter's counters.
	for i := 0; i < 25; i++ {
		snap := fx.gallery.Snapshot()
		assert.LessOrEqual(t, snap.Loaded+snap.Failed, snap.Total)
		time.Sleep(2 * time.Millisecond)
	}
	snap := fx.gallery.Snapshot()
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 1, snap.Loaded)
	assert.Zero(t, snap.Failed)
}

func TestCachedItemsRenderWithoutNetworkOnFilterSwitch(t *testing.T) {
	items := append(makeItems(4, "nature"), makeItems(3, "urban")...)
	fx := newFixture(t, items)

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, fx.gallery.Ready, "initial load never settled")
	before := fx.fetcher.calls.Load()

	fx.gallery.ApplyFilter("urban")

	// Everything in the new filter is already cached, so the switch
	// settles synchronously with zero network calls.
	assert.Equal(t, domain.PhaseReady, fx.gallery.State())
	assert.Equal(t, before, fx.fetcher.calls.Load())
	assert.Equal(t, domain.ItemLoaded, fx.gallery.Status("urban-0"))
	assert.Equal(t, "urban", fx.gallery.Filter())
}

func TestPermanentFailureAfterBoundedRetries(t *testing.T) {
	items := makeItems(3, "all")
	fx := newFixture(t, items)
	netErr := &domain.LoadError{Kind: domain.FailureNetwork, ID: "all-1", Err: errors.New("boom")}
	fx.fetcher.failWith(urlOf("all-1"), netErr)

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, fx.gallery.Ready, "gallery never settled")

	// One initial try plus MaxRetries retries, then permanent.
	assert.Equal(t, int64(4), fx.fetcher.callsFor(urlOf("all-1")))
	assert.Equal(t, domain.ItemFailed, fx.gallery.Status("all-1"))

	snap := fx.gallery.Snapshot()
	assert.Equal(t, 2, snap.Loaded)
	assert.Equal(t, 1, snap.Failed)
}

func TestRetryItemClearsPermanentFailure(t *testing.T) {
	items := makeItems(2, "all")
	fx := newFixture(t, items)
	fx.fetcher.failWith(urlOf("all-0"), &domain.LoadError{Kind: domain.FailureNetwork, Err: errors.New("down")})

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, fx.gallery.Ready, "gallery never settled")
	require.Equal(t, domain.ItemFailed, fx.gallery.Status("all-0"))

	fx.fetcher.clearFailure(urlOf("all-0"))
	require.NoError(t, fx.gallery.RetryItem(context.Background(), "all-0"))

	waitFor(t, func() bool { return fx.gallery.Status("all-0") == domain.ItemLoaded }, "retry never recovered the item")
	assert.Zero(t, fx.gallery.Snapshot().Failed)
}

func TestRetryItemUnknownID(t *testing.T) {
	fx := newFixture(t, makeItems(1, "all"))
	assert.ErrorIs(t, fx.gallery.RetryItem(context.Background(), "nope"), domain.ErrNotFound)
}

func TestDecodeFailureIsNotRetried(t *testing.T) {
	items := makeItems(2, "all")
	fx := newFixture(t, items)
	fx.fetcher.failWith(urlOf("all-0"), &domain.LoadError{Kind: domain.FailureDecode, Err: errors.New("bad bytes")})

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, fx.gallery.Ready, "gallery never settled")

	assert.Equal(t, int64(1), fx.fetcher.callsFor(urlOf("all-0")), "decode failures burn no retries")
	assert.Equal(t, domain.ItemFailed, fx.gallery.Status("all-0"))
}

func TestScrollPositionPersistsAcrossFilterSwitches(t *testing.T) {
	items := append(makeItems(3, "nature"), makeItems(3, "urban")...)
	fx := newFixture(t, items)

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, fx.gallery.Ready, "initial load never settled")

	fx.gallery.Scroll(340)
	fx.gallery.ApplyFilter("urban")
	assert.Zero(t, fx.tracker.Snapshot().ScrollOffset, "new filter starts at the top")

	fx.gallery.ApplyFilter(domain.FilterAll)
	assert.InDelta(t, 340.0, fx.tracker.Snapshot().ScrollOffset, 0.001, "returning restores the persisted offset")
}

func TestStalePositionFallsBackToTop(t *testing.T) {
	fx := newFixture(t, makeItems(2, "all"))

	// A position persisted 25h ago is past the 24h staleness window.
	raw, err := json.Marshal(savedPosition{Offset: 500, SavedAt: time.Now().Add(-25 * time.Hour)})
	require.NoError(t, err)
	require.NoError(t, fx.store.Set(positionKey(domain.FilterAll), raw))

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, fx.gallery.Ready, "gallery never settled")

	assert.Zero(t, fx.tracker.Snapshot().ScrollOffset)

	_, ok, _ := fx.store.Get(positionKey(domain.FilterAll))
	assert.False(t, ok, "the stale record is removed")
}

func TestFreshPositionIsRestored(t *testing.T) {
	fx := newFixture(t, makeItems(2, "all"))

	raw, err := json.Marshal(savedPosition{Offset: 240, SavedAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.NoError(t, fx.store.Set(positionKey(domain.FilterAll), raw))

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, fx.gallery.Ready, "gallery never settled")

	assert.InDelta(t, 240.0, fx.tracker.Snapshot().ScrollOffset, 0.001)
}

func TestMissingCatalogIsFatalAndRetryable(t *testing.T) {
	engine := cache.NewEngine(cache.NewFastTier(1<<20), nil, log.Null())
	t.Cleanup(func() { _ = engine.Close() })
	ld := loader.New(newFakeFetcher(), engine, nil, log.Null())
	t.Cleanup(ld.Close)
	surface := newFakeSurface()

	g := New(Deps{
		Loader:    ld,
		Cache:     engine,
		Tracker:   newFakeTracker(),
		Surface:   surface,
		Positions: store.NewMemStore(),
	}, config.Default().Gallery, log.Null())

	err := g.Start(context.Background())
	var catErr *domain.CatalogError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, domain.PhaseError, g.State())
	assert.Error(t, surface.bannerErr())

	// Retry re-enters initialization; the catalog is still missing so it
	// lands back in the error phase.
	err = g.Retry(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.PhaseError, g.State())
}

func TestMemoryCleanupSkipsVisibleItems(t *testing.T) {
	items := makeItems(4, "all")
	fx := newFixture(t, items)
	g := fx.gallery

	fx.tracker.regions["all-0"] = domain.RegionVisible
	fx.tracker.regions["all-1"] = domain.RegionFar
	fx.tracker.regions["all-2"] = domain.RegionFar
	fx.tracker.regions["all-3"] = domain.RegionFar
	fx.tracker.dists["all-1"] = 3000
	fx.tracker.dists["all-2"] = 100
	fx.tracker.dists["all-3"] = 1500

	now := time.Now()
	payload := make([]byte, 1<<20)
	for i, id := range []string{"all-0", "all-1", "all-2", "all-3"} {
		g.decoded[id] = &decodedEntry{
			media:    &domain.DecodedMedia{ID: id, Payload: payload},
			lastUsed: now.Add(-time.Duration(i) * time.Minute),
		}
	}

	// Ceiling of 2MB with threshold 0.8: 4MB resident must shrink to
	// 1.6MB, i.e. one surviving buffer plus the untouchable visible one.
	g.cfg.MemoryCeilingMB = 2
	g.cfg.CleanupThreshold = 0.8
	g.cleanupDecoded(g.memoryCeiling())

	_, visibleKept := g.decoded["all-0"]
	assert.True(t, visibleKept, "visible items are never unloaded")
	assert.LessOrEqual(t, g.ResidentBytes(), int64(2<<20))

	// The far, old, distant item goes first.
	_, farthestKept := g.decoded["all-3"]
	assert.False(t, farthestKept)
}

func TestMediaServedFromResidentBufferThenCache(t *testing.T) {
	fx := newFixture(t, makeItems(2, "all"))

	require.NoError(t, fx.gallery.Start(context.Background()))
	waitFor(t, fx.gallery.Ready, "gallery never settled")

	payload, ok := fx.gallery.Media("all-0")
	require.True(t, ok)
	assert.NotEmpty(t, payload)

	_, ok = fx.gallery.Media("missing")
	assert.False(t, ok)
}
