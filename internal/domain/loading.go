package domain

// Phase is the orchestrator's state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseLoadingInitialBatch
	PhaseProgressiveLoading
	PhaseReady
	PhaseFiltering
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInitializing:
		return "initializing"
	case PhaseLoadingInitialBatch:
		return "loading-initial-batch"
	case PhaseProgressiveLoading:
		return "progressive-loading"
	case PhaseReady:
		return "ready"
	case PhaseFiltering:
		return "filtering"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Loading reports whether the phase is one of the loading states
// (from which Error is reachable).
func (p Phase) Loading() bool {
	switch p {
	case PhaseInitializing, PhaseLoadingInitialBatch, PhaseProgressiveLoading, PhaseFiltering:
		return true
	}
	return false
}

// LoadingState is the orchestrator-owned progress snapshot.
// Invariant: Loaded+Failed <= Total; len(InFlight) never exceeds the
// loader's concurrency ceiling.
type LoadingState struct {
	Total         int
	Loaded        int
	Failed        int
	InFlight      []string
	QueuedBatches [][]string
	Active        bool
	LastErr       error
}

// Progress returns settled/total in [0,1].
func (s LoadingState) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Loaded+s.Failed) / float64(s.Total)
}

// Settled reports whether every item has resolved or terminally failed.
func (s LoadingState) Settled() bool {
	return s.Total > 0 && s.Loaded+s.Failed == s.Total
}

// ItemStatus is the per-item render marker toggled on the render surface.
type ItemStatus int

const (
	ItemPending ItemStatus = iota
	ItemLoading
	ItemLoaded
	ItemFailed
)

func (s ItemStatus) String() string {
	switch s {
	case ItemLoading:
		return "loading"
	case ItemLoaded:
		return "loaded"
	case ItemFailed:
		return "error"
	default:
		return "pending"
	}
}
