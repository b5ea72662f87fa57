// Package telemetry passively samples engine behavior and raises advisory
// events when a reporting interval regresses against the previous one.
// Advisories are informational; the monitor never throttles the pipeline.
package telemetry

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tidegrove/galleria/internal/domain"
)

// Severity grades an advisory.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Interaction is a discrete user event the monitor counts.
type Interaction string

const (
	InteractionScroll       Interaction = "scroll"
	InteractionFilterSwitch Interaction = "filter-switch"
	InteractionItemClick    Interaction = "item-click"
)

// Default regression thresholds (relative change against the previous
// interval).
const (
	loadTimeThreshold  = 0.20  // +20%
	hitRateThreshold   = -0.10 // -10%
	memoryThreshold    = 0.25  // +25%
	frameDropThreshold = 0.15  // +15%
)

// Metrics is one reporting interval's aggregate.
type Metrics struct {
	At            time.Time
	AvgLoadTimeMs float64
	LoadCount     int
	HitRate       float64
	MemoryBytes   int64
	FrameDropRate float64
	Interactions  map[Interaction]int
}

// Regression names one axis that moved past its threshold.
type Regression struct {
	Axis     string
	Change   float64 // relative change, e.g. 0.35 = +35%
	Severity Severity
}

// Advisory is the periodic event emitted to subscribers.
type Advisory struct {
	Type            string
	Snapshot        Metrics
	Regressions     []Regression
	Recommendations []string
}

// Monitor collects samples and compares intervals.
type Monitor struct {
	logger       *slog.Logger
	clock        domain.Clock
	samplingRate float64
	interval     time.Duration
	historySize  int
	rand         *rand.Rand

	mu            sync.Mutex
	loadTimes     []time.Duration
	hits          int64
	misses        int64
	memorySamples []int64
	framesTotal   int
	framesDropped int
	interactions  map[Interaction]int

	history     []Metrics
	subscribers []chan Advisory

	stop chan struct{}
	done chan struct{}
}

// Options configure the monitor; zero values take defaults.
type Options struct {
	SamplingRate   float64 // default 1.0; production typically 0.1
	ReportInterval time.Duration
	HistorySize    int
}

// NewMonitor builds a monitor. Call Start to begin interval reporting.
func NewMonitor(opts Options, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SamplingRate <= 0 || opts.SamplingRate > 1 {
		opts.SamplingRate = 1.0
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 30 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	return &Monitor{
		logger:       logger,
		clock:        domain.SystemClock,
		samplingRate: opts.SamplingRate,
		interval:     opts.ReportInterval,
		historySize:  opts.HistorySize,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
		interactions: make(map[Interaction]int),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// WithClock substitutes the clock for deterministic tests.
func (m *Monitor) WithClock(c domain.Clock) *Monitor {
	m.clock = c
	return m
}

func (m *Monitor) sampled() bool {
	if m.samplingRate >= 1 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rand.Float64() < m.samplingRate
}

// RecordLoadTime samples one item's load duration.
func (m *Monitor) RecordLoadTime(id string, d time.Duration) {
	if !m.sampled() {
		return
	}
	m.mu.Lock()
	m.loadTimes = append(m.loadTimes, d)
	m.mu.Unlock()
}

// RecordCacheAccess samples one tier lookup outcome.
func (m *Monitor) RecordCacheAccess(hit bool) {
	if !m.sampled() {
		return
	}
	m.mu.Lock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
}

// RecordMemory samples resident decode-buffer size.
func (m *Monitor) RecordMemory(bytes int64) {
	m.mu.Lock()
	m.memorySamples = append(m.memorySamples, bytes)
	m.mu.Unlock()
}

// RecordFrame samples one scroll frame; dropped frames missed their budget.
func (m *Monitor) RecordFrame(dropped bool) {
	if !m.sampled() {
		return
	}
	m.mu.Lock()
	m.framesTotal++
	if dropped {
		m.framesDropped++
	}
	m.mu.Unlock()
}

// RecordInteraction counts one discrete user event.
func (m *Monitor) RecordInteraction(kind Interaction) {
	if !m.sampled() {
		return
	}
	m.mu.Lock()
	m.interactions[kind]++
	m.mu.Unlock()
}

// Subscribe returns a channel receiving each interval's advisory.
// Sends are non-blocking; a slow subscriber misses advisories.
func (m *Monitor) Subscribe() <-chan Advisory {
	ch := make(chan Advisory, 4)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Start launches interval reporting. Stop with Close.
func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Report()
			}
		}
	}()
}

// Close stops interval reporting.
func (m *Monitor) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
		<-m.done
	}
}

// Report snapshots the current interval, appends it to history, and emits
// an advisory comparing it to the previous interval.
func (m *Monitor) Report() Advisory {
	m.mu.Lock()
	snapshot := m.drainLocked()

	var prev *Metrics
	if len(m.history) > 0 {
		p := m.history[len(m.history)-1]
		prev = &p
	}
	m.history = append(m.history, snapshot)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}
	subs := append([]chan Advisory(nil), m.subscribers...)
	m.mu.Unlock()

	adv := Advisory{Type: "interval-report", Snapshot: snapshot}
	if prev != nil {
		adv.Regressions = compare(*prev, snapshot)
		adv.Recommendations = recommend(adv.Regressions)
	}
	if len(adv.Regressions) > 0 {
		m.logger.Warn("telemetry regressions detected", "count", len(adv.Regressions))
	}

	for _, ch := range subs {
		select {
		case ch <- adv:
		default: // Non-blocking if channel full
		}
	}
	return adv
}

// drainLocked aggregates and resets the interval accumulators. Caller
// holds m.mu.
func (m *Monitor) drainLocked() Metrics {
	snap := Metrics{
		At:           m.clock.Now(),
		LoadCount:    len(m.loadTimes),
		Interactions: m.interactions,
	}
	if len(m.loadTimes) > 0 {
		var total time.Duration
		for _, d := range m.loadTimes {
			total += d
		}
		snap.AvgLoadTimeMs = float64(total.Milliseconds()) / float64(len(m.loadTimes))
	}
	if m.hits+m.misses > 0 {
		snap.HitRate = float64(m.hits) / float64(m.hits+m.misses)
	}
	if len(m.memorySamples) > 0 {
		snap.MemoryBytes = m.memorySamples[len(m.memorySamples)-1]
	}
	if m.framesTotal > 0 {
		snap.FrameDropRate = float64(m.framesDropped) / float64(m.framesTotal)
	}

	m.loadTimes = nil
	m.hits, m.misses = 0, 0
	m.memorySamples = nil
	m.framesTotal, m.framesDropped = 0, 0
	m.interactions = make(map[Interaction]int)
	return snap
}

// History returns the retained interval snapshots, oldest first.
func (m *Monitor) History() []Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Metrics(nil), m.history...)
}

// compare checks the four regression axes between two intervals.
func compare(prev, cur Metrics) []Regression {
	var out []Regression

	if prev.AvgLoadTimeMs > 0 && cur.LoadCount > 0 {
		change := (cur.AvgLoadTimeMs - prev.AvgLoadTimeMs) / prev.AvgLoadTimeMs
		if change > loadTimeThreshold {
			out = append(out, Regression{Axis: "load-time", Change: change, Severity: grade(change, loadTimeThreshold)})
		}
	}
	if prev.HitRate > 0 {
		change := (cur.HitRate - prev.HitRate) / prev.HitRate
		if change < hitRateThreshold {
			out = append(out, Regression{Axis: "cache-hit-rate", Change: change, Severity: grade(-change, -hitRateThreshold)})
		}
	}
	if prev.MemoryBytes > 0 {
		change := float64(cur.MemoryBytes-prev.MemoryBytes) / float64(prev.MemoryBytes)
		if change > memoryThreshold {
			out = append(out, Regression{Axis: "memory", Change: change, Severity: grade(change, memoryThreshold)})
		}
	}
	if prev.FrameDropRate > 0 {
		change := (cur.FrameDropRate - prev.FrameDropRate) / prev.FrameDropRate
		if change > frameDropThreshold {
			out = append(out, Regression{Axis: "frame-drop-rate", Change: change, Severity: grade(change, frameDropThreshold)})
		}
	}
	return out
}

// grade maps how far past the threshold a change landed to a severity.
func grade(change, threshold float64) Severity {
	switch {
	case change > threshold*3:
		return SeverityCritical
	case change > threshold*1.5:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func recommend(regressions []Regression) []string {
	var out []string
	for _, r := range regressions {
		switch r.Axis {
		case "load-time":
			out = append(out, "load times regressed; consider lowering the quality preset or batch size")
		case "cache-hit-rate":
			out = append(out, "cache hit rate dropped; consider raising the fast-tier ceiling or preloading the active filter")
		case "memory":
			out = append(out, "memory grew; consider lowering the cleanup threshold")
		case "frame-drop-rate":
			out = append(out, "frame drops increased; consider shrinking the render window overscan")
		}
	}
	return out
}
