package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegrove/galleria/internal/log"
)

func newMonitor(t *testing.T) *Monitor {
	t.Helper()
	return NewMonitor(Options{HistorySize: 5}, log.Null())
}

func TestReportAggregatesInterval(t *testing.T) {
	m := newMonitor(t)

	m.RecordLoadTime("img-1", 100*time.Millisecond)
	m.RecordLoadTime("img-2", 300*time.Millisecond)
	m.RecordCacheAccess(true)
	m.RecordCacheAccess(true)
	m.RecordCacheAccess(false)
	m.RecordMemory(40 << 20)
	m.RecordFrame(false)
	m.RecordFrame(false)
	m.RecordFrame(true)
	m.RecordInteraction(InteractionScroll)
	m.RecordInteraction(InteractionScroll)
	m.RecordInteraction(InteractionFilterSwitch)

	adv := m.Report()

	assert.Equal(t, 2, adv.Snapshot.LoadCount)
	assert.InDelta(t, 200.0, adv.Snapshot.AvgLoadTimeMs, 0.001)
	assert.InDelta(t, 2.0/3.0, adv.Snapshot.HitRate, 0.001)
	assert.Equal(t, int64(40<<20), adv.Snapshot.MemoryBytes)
	assert.InDelta(t, 1.0/3.0, adv.Snapshot.FrameDropRate, 0.001)
	assert.Equal(t, 2, adv.Snapshot.Interactions[InteractionScroll])
	assert.Equal(t, 1, adv.Snapshot.Interactions[InteractionFilterSwitch])

	// First interval has nothing to compare against.
	assert.Empty(t, adv.Regressions)
}

func TestReportResetsAccumulators(t *testing.T) {
	m := newMonitor(t)

	m.RecordLoadTime("img-1", 100*time.Millisecond)
	m.Report()

	adv := m.Report()
	assert.Equal(t, 0, adv.Snapshot.LoadCount)
	assert.Zero(t, adv.Snapshot.AvgLoadTimeMs)
}

func TestLoadTimeRegressionDetected(t *testing.T) {
	m := newMonitor(t)

	m.RecordLoadTime("img-1", 100*time.Millisecond)
	m.Report()

	// 150ms vs 100ms is +50%, past the 20% threshold.
	m.RecordLoadTime("img-2", 150*time.Millisecond)
	adv := m.Report()

	require.Len(t, adv.Regressions, 1)
	assert.Equal(t, "load-time", adv.Regressions[0].Axis)
	assert.InDelta(t, 0.5, adv.Regressions[0].Change, 0.001)
	require.Len(t, adv.Recommendations, 1)
}

func TestLoadTimeWithinThresholdIsQuiet(t *testing.T) {
	m := newMonitor(t)

	m.RecordLoadTime("img-1", 100*time.Millisecond)
	m.Report()

	m.RecordLoadTime("img-2", 110*time.Millisecond)
	adv := m.Report()

	assert.Empty(t, adv.Regressions)
}

func TestHitRateRegressionDetected(t *testing.T) {
	m := newMonitor(t)

	for i := 0; i < 9; i++ {
		m.RecordCacheAccess(true)
	}
	m.RecordCacheAccess(false)
	m.Report() // 90% hit rate

	for i := 0; i < 5; i++ {
		m.RecordCacheAccess(true)
		m.RecordCacheAccess(false)
	}
	adv := m.Report() // 50%, a -44% relative drop

	require.Len(t, adv.Regressions, 1)
	assert.Equal(t, "cache-hit-rate", adv.Regressions[0].Axis)
}

func TestMemoryRegressionSeverity(t *testing.T) {
	m := newMonitor(t)

	m.RecordMemory(100 << 20)
	m.Report()

	// Doubling memory is a +100% change, past 3x the 25% threshold.
	m.RecordMemory(200 << 20)
	adv := m.Report()

	require.Len(t, adv.Regressions, 1)
	assert.Equal(t, "memory", adv.Regressions[0].Axis)
	assert.Equal(t, SeverityCritical, adv.Regressions[0].Severity)
}

func TestFrameDropRegressionDetected(t *testing.T) {
	m := newMonitor(t)

	for i := 0; i < 9; i++ {
		m.RecordFrame(false)
	}
	m.RecordFrame(true)
	m.Report() // 10% drop rate

	for i := 0; i < 8; i++ {
		m.RecordFrame(false)
	}
	m.RecordFrame(true)
	m.RecordFrame(true)
	adv := m.Report() // 20%, a +100% relative increase

	require.Len(t, adv.Regressions, 1)
	assert.Equal(t, "frame-drop-rate", adv.Regressions[0].Axis)
}

func TestHistoryIsBounded(t *testing.T) {
	m := newMonitor(t) // HistorySize 5

	for i := 0; i < 8; i++ {
		m.Report()
	}

	assert.Len(t, m.History(), 5)
}

func TestSubscriberReceivesAdvisory(t *testing.T) {
	m := newMonitor(t)
	ch := m.Subscribe()

	m.RecordLoadTime("img-1", 50*time.Millisecond)
	m.Report()

	select {
	case adv := <-ch:
		assert.Equal(t, "interval-report", adv.Type)
		assert.Equal(t, 1, adv.Snapshot.LoadCount)
	default:
		t.Fatal("expected an advisory on the subscriber channel")
	}
}

func TestSlowSubscriberNeverBlocksReport(t *testing.T) {
	m := newMonitor(t)
	m.Subscribe() // buffered at 4, never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			m.Report()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Report blocked on a slow subscriber")
	}
}

func TestSamplingRateZeroPointOneDropsMostSamples(t *testing.T) {
	m := NewMonitor(Options{SamplingRate: 0.1, HistorySize: 5}, log.Null())

	for i := 0; i < 1000; i++ {
		m.RecordLoadTime("img", 10*time.Millisecond)
	}
	adv := m.Report()

	assert.Less(t, adv.Snapshot.LoadCount, 300)
	assert.Greater(t, adv.Snapshot.LoadCount, 0)
}

func TestStartEmitsOnInterval(t *testing.T) {
	m := NewMonitor(Options{ReportInterval: 20 * time.Millisecond, HistorySize: 5}, log.Null())
	ch := m.Subscribe()
	m.Start()
	defer m.Close()

	select {
	case adv := <-ch:
		assert.Equal(t, "interval-report", adv.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no advisory emitted by the interval ticker")
	}
}
