package tui

import (
	"sync"

	"github.com/tidegrove/galleria/internal/domain"
)

// Surface is the terminal render surface the orchestrator drives. It keeps
// the appended item order and per-item status markers; the model reads it
// on each frame. All methods are safe for concurrent use.
type Surface struct {
	mu       sync.Mutex
	order    []string
	items    map[string]domain.MediaItem
	statuses map[string]domain.ItemStatus
	banner   error
}

// NewSurface builds an empty surface.
func NewSurface() *Surface {
	return &Surface{
		items:    make(map[string]domain.MediaItem),
		statuses: make(map[string]domain.ItemStatus),
	}
}

// Append implements domain.RenderSurface.
func (s *Surface) Append(item domain.MediaItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		s.order = append(s.order, item.ID)
	}
	s.items[item.ID] = item
}

// Remove implements domain.RenderSurface.
func (s *Surface) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	delete(s.statuses, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// SetStatus implements domain.RenderSurface.
func (s *Surface) SetStatus(id string, status domain.ItemStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
}

// ShowBanner implements domain.RenderSurface.
func (s *Surface) ShowBanner(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banner = err
}

// ClearBanner implements domain.RenderSurface.
func (s *Surface) ClearBanner() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banner = nil
}

// Reset drops every appended item. Used on filter switches so the grid
// only shows the incoming filter.
func (s *Surface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.items = make(map[string]domain.MediaItem)
	s.statuses = make(map[string]domain.ItemStatus)
}

// Items returns the appended items in order with their statuses.
func (s *Surface) Items() ([]domain.MediaItem, map[string]domain.ItemStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MediaItem, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	statuses := make(map[string]domain.ItemStatus, len(s.statuses))
	for k, v := range s.statuses {
		statuses[k] = v
	}
	return out, statuses
}

// Banner returns the fatal-error banner, if any.
func (s *Surface) Banner() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}
