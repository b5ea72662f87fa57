// Package loader fetches media items under a global concurrency ceiling.
// Requests beyond the ceiling queue in priority order; concurrent callers
// for the same id share one underlying fetch. The loader never retries;
// retry policy belongs to the orchestrator.
package loader

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"

	"github.com/tidegrove/galleria/internal/cache"
	"github.com/tidegrove/galleria/internal/domain"
	"github.com/tidegrove/galleria/internal/fetch"
	"github.com/tidegrove/galleria/internal/quality"
)

// DefaultConcurrency is the global in-flight ceiling.
const DefaultConcurrency = 6

// Signals supplies the load-time inputs the quality adapter consumes.
// Sampled once per started fetch.
type Signals func() (domain.NetworkSignal, domain.ViewportSnapshot, domain.DeviceHint)

// flight is one shared underlying fetch for an id.
type flight struct {
	id     string
	item   domain.MediaItem
	cancel context.CancelFunc // nil while still queued
	done   chan struct{}

	result *domain.DecodedMedia
	err    error
}

// Stats is a point-in-time loader snapshot.
type Stats struct {
	InFlight  int
	Queued    int
	Loaded    int64
	Failed    int64
	Cancelled int64
}

// Loader schedules media fetches.
type Loader struct {
	fetcher domain.Fetcher
	cache   *cache.Engine
	signals Signals
	logger  *slog.Logger
	clock   domain.Clock

	concurrency int

	mu      sync.Mutex
	queue   requestHeap
	queued  map[string]*pending
	flights map[string]*flight
	running int
	seq     uint64
	closed  bool

	loaded, failed, cancelled int64
}

// New builds a loader. concurrency <= 0 uses the default ceiling of 6.
func New(fetcher domain.Fetcher, engine *cache.Engine, signals Signals, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if signals == nil {
		signals = func() (domain.NetworkSignal, domain.ViewportSnapshot, domain.DeviceHint) {
			return domain.NetworkSignal{}, domain.ViewportSnapshot{}, domain.DeviceHint{}
		}
	}
	return &Loader{
		fetcher:     fetcher,
		cache:       engine,
		signals:     signals,
		logger:      logger,
		clock:       domain.SystemClock,
		concurrency: DefaultConcurrency,
		queued:      make(map[string]*pending),
		flights:     make(map[string]*flight),
	}
}

// WithConcurrency overrides the in-flight ceiling.
func (l *Loader) WithConcurrency(n int) *Loader {
	if n > 0 {
		l.concurrency = n
	}
	return l
}

// WithClock substitutes the clock for deterministic tests.
func (l *Loader) WithClock(c domain.Clock) *Loader {
	l.clock = c
	return l
}

// Load fetches one item at the region's priority. Callers for an id
// already queued or in flight share that flight's outcome. The caller's
// context abandons the wait only; it does not abort a shared flight.
func (l *Loader) Load(ctx context.Context, item domain.MediaItem, region domain.Region) (*domain.DecodedMedia, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, domain.ErrQueueClosed
	}

	f, ok := l.flights[item.ID]
	if !ok {
		f = &flight{id: item.ID, item: item, done: make(chan struct{})}
		l.flights[item.ID] = f
		if l.running < l.concurrency {
			l.startLocked(f)
		} else {
			l.seq++
			p := &pending{flight: f, region: region, rank: item.Priority, seq: l.seq}
			heap.Push(&l.queue, p)
			l.queued[item.ID] = p
		}
	} else if p, isQueued := l.queued[item.ID]; isQueued && region > p.region {
		// A closer caller arrived: promote the queued request.
		p.region = region
		heap.Fix(&l.queue, p.index)
	}
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, &domain.LoadError{Kind: domain.FailureCancelled, ID: item.ID, Err: ctx.Err()}
	case <-f.done:
		return f.result, f.err
	}
}

// Promote raises the priority region of a queued id. In-flight work is
// never preempted.
func (l *Loader) Promote(id string, region domain.Region) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.queued[id]; ok && region > p.region {
		p.region = region
		heap.Fix(&l.queue, p.index)
	}
}

// Cancel aborts the flight for id, whether queued or in flight.
func (l *Loader) Cancel(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelLocked(id)
}

// CancelAll atomically aborts every queued and in-flight load.
func (l *Loader) CancelAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.flights))
	for id := range l.flights {
		ids = append(ids, id)
	}
	for _, id := range ids {
		l.cancelLocked(id)
	}
}

// Close cancels everything and rejects further loads.
func (l *Loader) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.CancelAll()
}

func (l *Loader) cancelLocked(id string) {
	f, ok := l.flights[id]
	if !ok {
		return
	}
	if p, isQueued := l.queued[id]; isQueued {
		heap.Remove(&l.queue, p.index)
		delete(l.queued, id)
		delete(l.flights, id)
		l.cancelled++
		f.err = &domain.LoadError{Kind: domain.FailureCancelled, ID: id, Err: domain.ErrCancelled}
		close(f.done)
		return
	}
	// In flight: abort the fetch; completion bookkeeping happens in run().
	if f.cancel != nil {
		f.cancel()
	}
}

// startLocked moves a flight into the running set. Caller holds l.mu.
func (l *Loader) startLocked(f *flight) {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	l.running++
	go l.run(ctx, f)
}

func (l *Loader) run(ctx context.Context, f *flight) {
	began := l.clock.Now()
	signal, vp, device := l.signals()
	spec := quality.Decide(f.item, vp, signal, device)

	payload, err := l.fetcher.Fetch(ctx, f.item.PrimaryURL, spec)
	if err == nil {
		format, _ := fetch.SniffFormat(payload)
		media := &domain.DecodedMedia{
			ID:       f.item.ID,
			Payload:  payload,
			Spec:     spec,
			Format:   format,
			LoadedAt: l.clock.Now(),
		}
		// Write back before any waiter resolves so subsequent
		// requesters observe a hit.
		l.cache.Set(f.item.ID, payload, f.item.PrimaryURL)
		f.result = media
	} else {
		f.err = asLoadError(err, f.item.ID)
	}

	l.mu.Lock()
	l.running--
	delete(l.flights, f.id)
	switch {
	case f.err == nil:
		l.loaded++
	case isCancelled(f.err):
		l.cancelled++
	default:
		l.failed++
	}
	l.dispatchLocked()
	l.mu.Unlock()

	if f.err != nil {
		l.logger.Debug("load failed", "id", f.id, "error", f.err,
			"elapsed", l.clock.Now().Sub(began))
	} else {
		l.logger.Debug("load complete", "id", f.id, "bytes", len(f.result.Payload),
			"elapsed", l.clock.Now().Sub(began))
	}
	close(f.done)
}

// dispatchLocked starts queued flights while slots are free.
func (l *Loader) dispatchLocked() {
	for l.running < l.concurrency && l.queue.Len() > 0 {
		p := heap.Pop(&l.queue).(*pending)
		delete(l.queued, p.flight.id)
		l.startLocked(p.flight)
	}
}

// Stats snapshots the loader counters.
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		InFlight:  l.running,
		Queued:    l.queue.Len(),
		Loaded:    l.loaded,
		Failed:    l.failed,
		Cancelled: l.cancelled,
	}
}

// InFlight returns the current in-flight count. Never exceeds the ceiling.
func (l *Loader) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// ActiveIDs returns the ids whose fetches have actually started. Queued
// requests are excluded, so the result never exceeds the ceiling.
func (l *Loader) ActiveIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, l.running)
	for id := range l.flights {
		if _, isQueued := l.queued[id]; !isQueued {
			out = append(out, id)
		}
	}
	return out
}

func asLoadError(err error, id string) error {
	if le, ok := err.(*domain.LoadError); ok {
		if le.ID == "" {
			le.ID = id
		}
		return le
	}
	return &domain.LoadError{Kind: domain.FailureNetwork, ID: id, Err: err}
}

func isCancelled(err error) bool {
	le, ok := err.(*domain.LoadError)
	return ok && le.Kind == domain.FailureCancelled
}
