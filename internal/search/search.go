// Package search provides fuzzy catalog search for the omnibar filter.
package search

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	sahilm "github.com/sahilm/fuzzy"

	"github.com/tidegrove/galleria/internal/domain"
)

// Result pairs a catalog item with match metadata for highlighting.
type Result struct {
	Item           domain.MediaItem
	MatchedIndexes []int // Character positions in the searchable text
	Score          int   // Higher = better
}

// Index implements sahilm/fuzzy.Source over pre-lowered searchable text
// so filter-as-you-type does not re-allocate per keystroke.
type Index struct {
	items []domain.MediaItem
	texts []string
}

// String returns the searchable text at index i (implements fuzzy.Source).
func (idx *Index) String(i int) string { return idx.texts[i] }

// Len returns the number of indexed items (implements fuzzy.Source).
func (idx *Index) Len() int { return len(idx.items) }

// Service handles fuzzy search across the catalog.
type Service struct {
	logger *slog.Logger

	mu    sync.RWMutex
	index *Index
}

// NewService creates a search service over a catalog.
func NewService(catalog *domain.Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{logger: logger, index: &Index{}}
	if catalog != nil {
		s.IndexItems(catalog.Items())
	}
	return s
}

// IndexItems rebuilds the search index. Searchable text is the alt text
// plus category, lowercased once at index time.
func (s *Service) IndexItems(items []domain.MediaItem) {
	idx := &Index{
		items: items,
		texts: make([]string, len(items)),
	}
	for i, it := range items {
		idx.texts[i] = strings.ToLower(searchableText(it))
	}

	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
	s.logger.Debug("indexed catalog for search", "count", len(items))
}

// Search performs filter-as-you-type fuzzy matching, best matches first.
func (s *Service) Search(query string) []Result {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return nil
	}

	s.mu.RLock()
	idx := s.index
	s.mu.RUnlock()
	if idx.Len() == 0 {
		return nil
	}

	matches := sahilm.FindFrom(query, idx)

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			Item:           idx.items[m.Index],
			MatchedIndexes: m.MatchedIndexes,
			Score:          m.Score,
		}
	}
	return results
}

// RankByID ranks catalog item IDs against a query using rune-fold fuzzy
// matching. Used for jump-to-item where the user types an id fragment.
func (s *Service) RankByID(query string) []domain.MediaItem {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return nil
	}

	s.mu.RLock()
	idx := s.index
	s.mu.RUnlock()

	byID := make(map[string]domain.MediaItem, len(idx.items))
	ids := make([]string, len(idx.items))
	for i, it := range idx.items {
		ids[i] = it.ID
		byID[it.ID] = it
	}

	ranks := fuzzy.RankFindFold(query, ids)
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].Distance < ranks[j].Distance })

	out := make([]domain.MediaItem, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, byID[r.Target])
	}
	return out
}

func searchableText(it domain.MediaItem) string {
	if it.AltText == "" {
		return it.Category + " " + it.ID
	}
	return it.AltText + " " + it.Category
}
