package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegrove/galleria/internal/cache"
	"github.com/tidegrove/galleria/internal/domain"
	"github.com/tidegrove/galleria/internal/log"
)

// stubFetcher serves canned payloads, optionally gated so tests control
// when flights complete.
type stubFetcher struct {
	mu      sync.Mutex
	calls   int
	active  int32
	maxSeen int32

	gate  chan struct{} // non-nil: fetches block until the gate closes
	fail  map[string]error
	bytes []byte
	order []string // URLs in dispatch order
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{bytes: []byte{0xFF, 0xD8, 0xFF, 0xE0, 'd', 'a', 't', 'a'}}
}

func (s *stubFetcher) Fetch(ctx context.Context, url string, spec domain.QualitySpec) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.order = append(s.order, url)
	s.mu.Unlock()

	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		prev := atomic.LoadInt32(&s.maxSeen)
		if n <= prev || atomic.CompareAndSwapInt32(&s.maxSeen, prev, n) {
			break
		}
	}

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, &domain.LoadError{Kind: domain.FailureCancelled, Err: ctx.Err()}
		}
	}
	if err, ok := s.fail[url]; ok {
		return nil, err
	}
	return s.bytes, nil
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubFetcher) dispatchOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.order))
	for _, u := range s.order {
		// Trim "https://cdn.example.com/" and ".jpg" back to the item id.
		id := u[len("https://cdn.example.com/") : len(u)-len(".jpg")]
		out = append(out, id)
	}
	return out
}

func item(id string, priority int) domain.MediaItem {
	return domain.MediaItem{ID: id, PrimaryURL: "https://cdn.example.com/" + id + ".jpg", Priority: priority}
}

func newTestLoader(t *testing.T, f domain.Fetcher, concurrency int) *Loader {
	t.Helper()
	engine := cache.NewEngine(cache.NewFastTier(50<<20), nil, log.Null())
	t.Cleanup(func() { engine.Close() })
	l := New(f, engine, nil, log.Null()).WithConcurrency(concurrency)
	t.Cleanup(l.Close)
	return l
}

func TestLoadWritesThroughToCache(t *testing.T) {
	f := newStubFetcher()
	engine := cache.NewEngine(cache.NewFastTier(50<<20), nil, log.Null())
	defer engine.Close()
	l := New(f, engine, nil, log.Null())
	defer l.Close()

	media, err := l.Load(context.Background(), item("p1", 0), domain.RegionVisible)
	require.NoError(t, err)
	assert.Equal(t, "p1", media.ID)
	assert.Equal(t, "jpeg", media.Format)

	// The payload must already be a cache hit for the next requester.
	got, ok := engine.Get("p1")
	assert.True(t, ok)
	assert.Equal(t, f.bytes, got)
}

func TestConcurrencyCeilingNeverExceeded(t *testing.T) {
	f := newStubFetcher()
	f.gate = make(chan struct{})
	l := newTestLoader(t, f, 3)

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Load(context.Background(), item(fmt.Sprintf("p%d", i), 0), domain.RegionNear)
		}(i)
	}

	// Let the dispatcher fill its slots, then release everything.
	waitFor(t, func() bool { return l.InFlight() == 3 })
	assert.Equal(t, 3, l.InFlight())
	close(f.gate)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&f.maxSeen), int32(3),
		"in-flight set exceeded the ceiling")
	assert.Equal(t, 12, f.callCount())
}

func TestConcurrentCallersShareOneFlight(t *testing.T) {
	f := newStubFetcher()
	f.gate = make(chan struct{})
	l := newTestLoader(t, f, 6)

	var wg sync.WaitGroup
	results := make([]*domain.DecodedMedia, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := l.Load(context.Background(), item("shared", 0), domain.RegionVisible)
			require.NoError(t, err)
			results[i] = m
		}(i)
	}

	waitFor(t, func() bool { return l.InFlight() == 1 })
	close(f.gate)
	wg.Wait()

	assert.Equal(t, 1, f.callCount(), "five callers must share one fetch")
	for _, m := range results {
		assert.NotNil(t, m)
	}
}

func TestQueueServesCloserItemsFirst(t *testing.T) {
	f := newStubFetcher()
	f.gate = make(chan struct{})
	l := newTestLoader(t, f, 1)

	var wg sync.WaitGroup
	load := func(id string, region domain.Region, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Load(context.Background(), item(id, priority), region)
		}()
	}

	// Occupy the single slot, then queue in scrambled region order.
	load("blocker", domain.RegionVisible, 0)
	waitFor(t, func() bool { return l.InFlight() == 1 })

	load("far-item", domain.RegionFar, 0)
	waitFor(t, func() bool { return l.Stats().Queued == 1 })
	load("near-item", domain.RegionNear, 0)
	waitFor(t, func() bool { return l.Stats().Queued == 2 })
	load("visible-item", domain.RegionVisible, 0)
	waitFor(t, func() bool { return l.Stats().Queued == 3 })

	close(f.gate)
	wg.Wait()

	order := f.dispatchOrder()
	require.Len(t, order, 4)
	assert.Equal(t, "blocker", order[0])
	assert.Equal(t, []string{"visible-item", "near-item", "far-item"}, order[1:],
		"a near item must be served before any strictly farther item of equal priority")
}

func TestQueueOrdersByDeclaredPriorityWithinRegion(t *testing.T) {
	f := newStubFetcher()
	f.gate = make(chan struct{})
	l := newTestLoader(t, f, 1)

	var wg sync.WaitGroup
	load := func(id string, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Load(context.Background(), item(id, priority), domain.RegionNear)
		}()
	}

	load("blocker", 0)
	waitFor(t, func() bool { return l.InFlight() == 1 })
	load("low", 1)
	waitFor(t, func() bool { return l.Stats().Queued == 1 })
	load("high", 9)
	waitFor(t, func() bool { return l.Stats().Queued == 2 })

	close(f.gate)
	wg.Wait()

	assert.Equal(t, []string{"blocker", "high", "low"}, f.dispatchOrder())
}

func TestCancelQueuedLoad(t *testing.T) {
	f := newStubFetcher()
	f.gate = make(chan struct{})
	defer close(f.gate)
	l := newTestLoader(t, f, 1)

	go l.Load(context.Background(), item("blocker", 0), domain.RegionVisible)
	waitFor(t, func() bool { return l.InFlight() == 1 })

	done := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), item("victim", 0), domain.RegionNear)
		done <- err
	}()
	waitFor(t, func() bool { return l.Stats().Queued == 1 })

	l.Cancel("victim")

	err := <-done
	var loadErr *domain.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, domain.FailureCancelled, loadErr.Kind)
	assert.Equal(t, 0, l.Stats().Queued)
	assert.Equal(t, 1, f.callCount(), "cancelled queued item must never hit the network")
}

func TestCancelAllAbortsInFlight(t *testing.T) {
	f := newStubFetcher()
	f.gate = make(chan struct{})
	defer close(f.gate)
	l := newTestLoader(t, f, 2)

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			_, err := l.Load(context.Background(), item(fmt.Sprintf("p%d", i), 0), domain.RegionVisible)
			errs <- err
		}(i)
	}
	waitFor(t, func() bool {
		s := l.Stats()
		return s.InFlight == 2 && s.Queued == 2
	})

	l.CancelAll()

	for i := 0; i < 4; i++ {
		err := <-errs
		var loadErr *domain.LoadError
		require.True(t, errors.As(err, &loadErr))
		assert.Equal(t, domain.FailureCancelled, loadErr.Kind)
	}
	waitFor(t, func() bool { return l.InFlight() == 0 })
}

func TestLoaderDoesNotRetry(t *testing.T) {
	f := newStubFetcher()
	f.fail = map[string]error{
		"https://cdn.example.com/bad.jpg": &domain.LoadError{Kind: domain.FailureNetwork, Err: errors.New("connection reset")},
	}
	l := newTestLoader(t, f, 2)

	_, err := l.Load(context.Background(), item("bad", 0), domain.RegionVisible)
	var loadErr *domain.LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, domain.FailureNetwork, loadErr.Kind)
	assert.Equal(t, 1, f.callCount(), "the loader itself never retries")
}

func TestLoadAfterClose(t *testing.T) {
	f := newStubFetcher()
	l := newTestLoader(t, f, 2)
	l.Close()

	_, err := l.Load(context.Background(), item("p1", 0), domain.RegionVisible)
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
}

// waitFor polls cond for up to five seconds.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
