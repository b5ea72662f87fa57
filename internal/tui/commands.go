package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tidegrove/galleria/internal/gallery"
	"github.com/tidegrove/galleria/internal/telemetry"
)

// Command factories for async operations

// StartGalleryCmd begins orchestrated loading.
func StartGalleryCmd(g *gallery.Gallery) tea.Cmd {
	return func() tea.Msg {
		if err := g.Start(context.Background()); err != nil {
			return ErrMsg{Err: err, Context: "starting gallery"}
		}
		return GalleryStartedMsg{}
	}
}

// RetryGalleryCmd re-enters initialization after a fatal fault.
func RetryGalleryCmd(g *gallery.Gallery) tea.Cmd {
	return func() tea.Msg {
		if err := g.Retry(context.Background()); err != nil {
			return ErrMsg{Err: err, Context: "retrying gallery"}
		}
		return GalleryStartedMsg{}
	}
}

// RetryItemCmd retries one permanently failed item.
func RetryItemCmd(g *gallery.Gallery, id string) tea.Cmd {
	return func() tea.Msg {
		if err := g.RetryItem(context.Background(), id); err != nil {
			return ErrMsg{Err: err, Context: "retrying item"}
		}
		return ItemRetriedMsg{ID: id}
	}
}

// WatchAdvisoriesCmd waits for the next telemetry advisory.
func WatchAdvisoriesCmd(ch <-chan telemetry.Advisory) tea.Cmd {
	return func() tea.Msg {
		adv, ok := <-ch
		if !ok {
			return AdvisoriesClosedMsg{}
		}
		return AdvisoryMsg{Advisory: adv}
	}
}

// TickCmd schedules the next frame refresh.
func TickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
