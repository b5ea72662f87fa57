package tui

import (
	"time"

	"github.com/tidegrove/galleria/internal/telemetry"
)

// Message types for the TUI

// ErrMsg represents an error
type ErrMsg struct {
	Err     error
	Context string
}

// Error implements the error interface
func (e ErrMsg) Error() string {
	if e.Context != "" {
		return e.Context + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// GalleryStartedMsg signals that the orchestrator has begun loading
type GalleryStartedMsg struct{}

// TickMsg drives the periodic frame refresh while loads are in flight
type TickMsg time.Time

// AdvisoryMsg carries one telemetry advisory to the footer
type AdvisoryMsg struct {
	Advisory telemetry.Advisory
}

// AdvisoriesClosedMsg signals the advisory channel has drained
type AdvisoriesClosedMsg struct{}

// ItemRetriedMsg signals a manual per-item retry was scheduled
type ItemRetriedMsg struct {
	ID string
}
