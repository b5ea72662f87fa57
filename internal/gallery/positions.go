package gallery

import (
	"encoding/json"
	"time"

	"github.com/tidegrove/galleria/internal/domain"
)

// savedPosition is the persisted per-filter scroll record.
type savedPosition struct {
	Offset  float64   `json:"offset"`
	SavedAt time.Time `json:"saved_at"`
}

func positionKey(filter string) string { return "position:" + filter }

// persistPosition stores one filter's scroll offset. Persistence failures
// degrade to defaults, never to errors.
func (g *Gallery) persistPosition(filter string, offset float64) {
	if g.positions == nil {
		return
	}
	raw, err := json.Marshal(savedPosition{Offset: offset, SavedAt: g.clock.Now()})
	if err != nil {
		return
	}
	if err := g.positions.Set(positionKey(filter), raw); err != nil {
		g.logger.Warn("persisting scroll position failed", "filter", filter, "error", err)
	}
}

// restorePosition returns a filter's persisted scroll offset. Positions
// older than the staleness window return ErrStalePosition and are removed.
func (g *Gallery) restorePosition(filter string) (float64, error) {
	if g.positions == nil {
		return 0, domain.ErrNotFound
	}
	raw, ok, err := g.positions.Get(positionKey(filter))
	if err != nil || !ok {
		return 0, domain.ErrNotFound
	}

	var pos savedPosition
	if err := json.Unmarshal(raw, &pos); err != nil {
		_ = g.positions.Delete(positionKey(filter))
		return 0, domain.ErrNotFound
	}

	staleness := g.cfg.PositionStaleness
	if staleness <= 0 {
		staleness = 24 * time.Hour
	}
	if g.clock.Now().Sub(pos.SavedAt) > staleness {
		_ = g.positions.Delete(positionKey(filter))
		return 0, domain.ErrStalePosition
	}
	return pos.Offset, nil
}
