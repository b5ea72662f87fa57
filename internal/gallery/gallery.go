// Package gallery orchestrates the loading engine: it owns the phase state
// machine, batching, per-item retries, filter switches, and scroll position
// persistence. Everything is threaded through the Gallery handle; there is
// no package-level state.
package gallery

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tidegrove/galleria/internal/backoff"
	"github.com/tidegrove/galleria/internal/cache"
	"github.com/tidegrove/galleria/internal/config"
	"github.com/tidegrove/galleria/internal/domain"
	"github.com/tidegrove/galleria/internal/loader"
	"github.com/tidegrove/galleria/internal/telemetry"
)

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Catalog   *domain.Catalog
	Loader    *loader.Loader
	Cache     *cache.Engine
	Tracker   domain.VisibilityTracker
	Surface   domain.RenderSurface
	Positions domain.PersistentStore
	Monitor   *telemetry.Monitor // optional
	Policy    *backoff.Policy    // nil uses backoff.New()
}

// Gallery is the orchestrator handle.
type Gallery struct {
	catalog   *domain.Catalog
	loader    *loader.Loader
	engine    *cache.Engine
	tracker   domain.VisibilityTracker
	surface   domain.RenderSurface
	positions domain.PersistentStore
	monitor   *telemetry.Monitor
	policy    *backoff.Policy
	cfg       config.GalleryConfig
	logger    *slog.Logger
	clock     domain.Clock

	mu       sync.Mutex
	phase    domain.Phase
	filter   string
	statuses map[string]domain.ItemStatus
	attempts map[string]int
	batches  [][]string
	loaded   int
	failed   int
	total    int
	lastErr  error

	decoded map[string]*decodedEntry

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	gen       int // bumped on filter switch / retry; stale batch runs exit
}

// New wires an orchestrator. It does not start loading; call Start.
func New(deps Deps, cfg config.GalleryConfig, logger *slog.Logger) *Gallery {
	if logger == nil {
		logger = slog.Default()
	}
	policy := deps.Policy
	if policy == nil {
		policy = backoff.New()
	}
	return &Gallery{
		catalog:   deps.Catalog,
		loader:    deps.Loader,
		engine:    deps.Cache,
		tracker:   deps.Tracker,
		surface:   deps.Surface,
		positions: deps.Positions,
		monitor:   deps.Monitor,
		policy:    policy,
		cfg:       cfg,
		logger:    logger,
		clock:     domain.SystemClock,
		phase:     domain.PhaseIdle,
		filter:    domain.FilterAll,
		statuses:  make(map[string]domain.ItemStatus),
		attempts:  make(map[string]int),
		decoded:   make(map[string]*decodedEntry),
	}
}

// WithClock substitutes the clock for deterministic tests.
func (g *Gallery) WithClock(c domain.Clock) *Gallery {
	g.clock = c
	return g
}

// Start validates the catalog, seeds the render surface, and begins batch
// loading in the background. Catalog faults are fatal: the gallery enters
// the error phase with a retryable banner.
func (g *Gallery) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.phase != domain.PhaseIdle && g.phase != domain.PhaseError {
		g.mu.Unlock()
		return nil
	}
	g.phase = domain.PhaseInitializing
	g.mu.Unlock()

	if g.catalog == nil || g.catalog.Len() == 0 {
		err := &domain.CatalogError{Reason: "no catalog"}
		g.fail(err)
		return err
	}

	g.runCtx, g.runCancel = context.WithCancel(ctx)
	g.tracker.Track(g.catalog.Items())
	g.surface.ClearBanner()

	if offset, err := g.restorePosition(g.filter); err == nil {
		g.tracker.UpdateScroll(offset)
	}

	g.beginFilter(g.filter)
	go g.sampleMemory(g.runCtx)
	return nil
}

// Retry re-enters initialization after a fatal catalog fault.
func (g *Gallery) Retry(ctx context.Context) error {
	g.mu.Lock()
	if g.phase != domain.PhaseError {
		g.mu.Unlock()
		return nil
	}
	g.phase = domain.PhaseIdle
	g.lastErr = nil
	g.mu.Unlock()
	return g.Start(ctx)
}

// ApplyFilter switches the active category. The outgoing filter's scroll
// offset persists first; queued and in-flight loads are cancelled; cached
// items of the new filter render before any network fetch.
func (g *Gallery) ApplyFilter(category string) {
	if category == "" {
		category = domain.FilterAll
	}

	g.mu.Lock()
	if category == g.filter || g.phase == domain.PhaseIdle || g.phase == domain.PhaseError {
		g.mu.Unlock()
		return
	}
	outgoing := g.filter
	g.filter = category
	g.phase = domain.PhaseFiltering
	g.mu.Unlock()

	g.persistPosition(outgoing, g.tracker.Snapshot().ScrollOffset)
	g.loader.CancelAll()
	if g.monitor != nil {
		g.monitor.RecordInteraction(telemetry.InteractionFilterSwitch)
	}

	if offset, err := g.restorePosition(category); err == nil {
		g.tracker.UpdateScroll(offset)
	} else {
		g.tracker.UpdateScroll(0)
	}

	g.beginFilter(category)
}

// Filter returns the active category.
func (g *Gallery) Filter() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filter
}

// beginFilter rebuilds the surface for a category and launches batch
// loading. Cached items render immediately; only uncached ones hit the
// network, initial batch first.
func (g *Gallery) beginFilter(category string) {
	items := g.catalog.Filtered(category)
	g.tracker.Track(items)

	g.mu.Lock()
	g.gen++
	gen := g.gen
	g.statuses = make(map[string]domain.ItemStatus, len(items))
	g.attempts = make(map[string]int)
	g.loaded, g.failed = 0, 0
	g.total = len(items)
	g.mu.Unlock()

	var uncached []domain.MediaItem
	for _, it := range items {
		g.surface.Append(it)
		if g.engine != nil && g.engine.Has(it.ID) {
			g.markLoaded(gen, it.ID, nil)
			if g.monitor != nil {
				g.monitor.RecordCacheAccess(true)
			}
			continue
		}
		g.setStatus(gen, it.ID, domain.ItemPending)
		uncached = append(uncached, it)
	}

	batches := g.planBatches(uncached)

	g.mu.Lock()
	g.batches = batchIDs(batches)
	if len(batches) == 0 {
		g.phase = domain.PhaseReady
		g.mu.Unlock()
		return
	}
	g.phase = domain.PhaseLoadingInitialBatch
	g.mu.Unlock()

	g.wg.Add(1)
	go g.runBatches(g.runCtx, gen, batches)
}

// planBatches orders the initial batch by priority then catalog order and
// splits the remainder into fixed batches in catalog order.
func (g *Gallery) planBatches(items []domain.MediaItem) [][]domain.MediaItem {
	if len(items) == 0 {
		return nil
	}

	initialSize := g.cfg.InitialBatchSize
	if initialSize <= 0 {
		initialSize = 20
	}
	batchSize := g.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	ranked := make([]domain.MediaItem, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Priority > ranked[j].Priority
	})

	if len(ranked) <= initialSize {
		return [][]domain.MediaItem{ranked}
	}

	batches := [][]domain.MediaItem{ranked[:initialSize]}

	// Remainder keeps catalog order, not priority order.
	chosen := make(map[string]struct{}, initialSize)
	for _, it := range ranked[:initialSize] {
		chosen[it.ID] = struct{}{}
	}
	var rest []domain.MediaItem
	for _, it := range items {
		if _, ok := chosen[it.ID]; !ok {
			rest = append(rest, it)
		}
	}
	for len(rest) > 0 {
		n := batchSize
		if n > len(rest) {
			n = len(rest)
		}
		batches = append(batches, rest[:n])
		rest = rest[n:]
	}
	return batches
}

// runBatches drives the batch pipeline: batch N+1 is dequeued only after
// batch N fully settles, with a settle delay between batches.
func (g *Gallery) runBatches(ctx context.Context, gen int, batches [][]domain.MediaItem) {
	defer g.wg.Done()

	for i, batch := range batches {
		if g.stale(gen) || ctx.Err() != nil {
			return
		}
		if i == 1 {
			g.setPhase(gen, domain.PhaseProgressiveLoading)
		}
		if err := g.waitForHeadroom(ctx); err != nil {
			return
		}

		var wg sync.WaitGroup
		for _, item := range batch {
			wg.Add(1)
			go func(it domain.MediaItem) {
				defer wg.Done()
				g.loadItem(ctx, gen, it)
			}(item)
		}
		wg.Wait()

		g.mu.Lock()
		if gen == g.gen && len(g.batches) > 0 {
			g.batches = g.batches[1:]
		}
		g.mu.Unlock()

		if i < len(batches)-1 && g.cfg.SettleDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(g.cfg.SettleDelay):
			}
		}
	}

	g.setPhase(gen, domain.PhaseReady)
}

// loadItem fetches one item with per-item exponential backoff. Failures
// past the retry budget are permanent until RetryItem.
func (g *Gallery) loadItem(ctx context.Context, gen int, item domain.MediaItem) {
	g.setStatus(gen, item.ID, domain.ItemLoading)

	for attempt := 0; ; attempt++ {
		if g.stale(gen) || ctx.Err() != nil {
			g.setStatus(gen, item.ID, domain.ItemPending)
			return
		}

		began := g.clock.Now()
		media, err := g.loader.Load(ctx, item, g.tracker.RegionOf(item.ID))
		if err == nil {
			if g.monitor != nil {
				g.monitor.RecordLoadTime(item.ID, g.clock.Now().Sub(began))
			}
			g.markLoaded(gen, item.ID, media)
			return
		}

		if isCancelled(err) {
			g.setStatus(gen, item.ID, domain.ItemPending)
			return
		}
		if !retryable(err) || g.policy.Exhausted(attempt) {
			g.markFailed(gen, item.ID, err, attempt)
			return
		}

		g.mu.Lock()
		if gen == g.gen {
			g.attempts[item.ID] = attempt + 1
		}
		g.mu.Unlock()
		g.logger.Debug("retrying item", "id", item.ID, "attempt", attempt+1)

		if err := g.policy.Sleep(ctx, attempt); err != nil {
			g.setStatus(gen, item.ID, domain.ItemPending)
			return
		}
	}
}

// RetryItem clears a permanent failure and retries one item immediately.
func (g *Gallery) RetryItem(ctx context.Context, id string) error {
	item, ok := g.catalog.Item(id)
	if !ok {
		return domain.ErrNotFound
	}

	g.mu.Lock()
	if g.statuses[id] != domain.ItemFailed {
		g.mu.Unlock()
		return nil
	}
	g.attempts[id] = 0
	g.failed--
	gen := g.gen
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.loadItem(ctx, gen, item)
	}()
	return nil
}

// Scroll routes a scroll event: moves the viewport, promotes queued loads
// that came closer, and persists nothing (positions persist on filter
// switch and close).
func (g *Gallery) Scroll(offset float64) {
	g.tracker.UpdateScroll(offset)
	if g.monitor != nil {
		g.monitor.RecordInteraction(telemetry.InteractionScroll)
	}
	for _, id := range g.tracker.Visible() {
		g.loader.Promote(id, domain.RegionVisible)
	}
	for _, id := range g.tracker.Near(0) {
		g.loader.Promote(id, domain.RegionNear)
	}
}

// Media returns an item's resident decode buffer, falling back to the
// cache tiers. ok is false when the item has not loaded yet.
func (g *Gallery) Media(id string) (payload []byte, ok bool) {
	g.mu.Lock()
	if e, found := g.decoded[id]; found {
		e.lastUsed = g.clock.Now()
		payload = e.media.Payload
		g.mu.Unlock()
		return payload, true
	}
	g.mu.Unlock()

	if g.engine != nil {
		if p, hit := g.engine.Get(id); hit {
			return p, true
		}
	}
	return nil, false
}

// Close cancels outstanding work and persists the active filter's scroll
// offset.
func (g *Gallery) Close() {
	g.mu.Lock()
	filter := g.filter
	started := g.runCancel != nil
	g.mu.Unlock()

	if started {
		g.persistPosition(filter, g.tracker.Snapshot().ScrollOffset)
		g.runCancel()
	}
	g.loader.CancelAll()
	g.wg.Wait()
}

// --- accessors ---

// State returns the current phase.
func (g *Gallery) State() domain.Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// Ready reports whether every batch of the active filter has settled.
func (g *Gallery) Ready() bool {
	return g.State() == domain.PhaseReady
}

// Progress returns settled/total for the active filter in [0,1].
func (g *Gallery) Progress() float64 {
	return g.snapshot().Progress()
}

// VisibleIDs returns the ids currently intersecting the viewport.
func (g *Gallery) VisibleIDs() []string {
	return g.tracker.Visible()
}

// Status returns one item's render status.
func (g *Gallery) Status(id string) domain.ItemStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statuses[id]
}

// Snapshot returns the loading-state snapshot.
func (g *Gallery) Snapshot() domain.LoadingState {
	return g.snapshot()
}

func (g *Gallery) snapshot() domain.LoadingState {
	// The loader owns the in-flight set; only fetches it has actually
	// admitted count, never the whole dispatched batch.
	inFlight := g.loader.ActiveIDs()
	sort.Strings(inFlight)

	g.mu.Lock()
	defer g.mu.Unlock()

	queued := make([][]string, len(g.batches))
	for i, b := range g.batches {
		queued[i] = append([]string(nil), b...)
	}

	return domain.LoadingState{
		Total:         g.total,
		Loaded:        g.loaded,
		Failed:        g.failed,
		InFlight:      inFlight,
		QueuedBatches: queued,
		Active:        g.phase.Loading(),
		LastErr:       g.lastErr,
	}
}

// --- internals ---

// setStatus records an item status for the given generation. Results
// arriving after a filter switch reset the counters are dropped, so a
// stale flight never counts against the new filter.
func (g *Gallery) setStatus(gen int, id string, s domain.ItemStatus) {
	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return
	}
	g.statuses[id] = s
	g.mu.Unlock()
	g.surface.SetStatus(id, s)
}

func (g *Gallery) markLoaded(gen int, id string, media *domain.DecodedMedia) {
	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return
	}
	if g.statuses[id] != domain.ItemLoaded {
		g.loaded++
	}
	g.statuses[id] = domain.ItemLoaded
	if media != nil {
		g.decoded[id] = &decodedEntry{media: media, loadedAt: g.clock.Now(), lastUsed: g.clock.Now()}
	}
	g.mu.Unlock()
	g.surface.SetStatus(id, domain.ItemLoaded)
}

func (g *Gallery) markFailed(gen int, id string, err error, attempts int) {
	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return
	}
	g.statuses[id] = domain.ItemFailed
	g.failed++
	g.lastErr = err
	g.mu.Unlock()
	g.surface.SetStatus(id, domain.ItemFailed)
	g.logger.Warn("item failed permanently", "id", id, "attempts", attempts+1, "error", err)
}

// fail enters the fatal error phase with a retryable banner.
func (g *Gallery) fail(err error) {
	g.mu.Lock()
	g.phase = domain.PhaseError
	g.lastErr = err
	g.mu.Unlock()
	g.surface.ShowBanner(err)
	g.logger.Error("gallery entered error state", "error", err)
}

func (g *Gallery) setPhase(gen int, p domain.Phase) {
	g.mu.Lock()
	if gen == g.gen {
		g.phase = p
	}
	g.mu.Unlock()
}

// stale reports whether a batch run belongs to a superseded filter.
func (g *Gallery) stale(gen int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return gen != g.gen
}

func batchIDs(batches [][]domain.MediaItem) [][]string {
	out := make([][]string, len(batches))
	for i, b := range batches {
		ids := make([]string, len(b))
		for j, it := range b {
			ids[j] = it.ID
		}
		out[i] = ids
	}
	return out
}

func retryable(err error) bool {
	if le, ok := err.(*domain.LoadError); ok {
		return le.Retryable()
	}
	return false
}

func isCancelled(err error) bool {
	if le, ok := err.(*domain.LoadError); ok {
		return le.Kind == domain.FailureCancelled
	}
	return err == domain.ErrQueueClosed
}
