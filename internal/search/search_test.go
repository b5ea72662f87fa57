package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegrove/galleria/internal/domain"
	"github.com/tidegrove/galleria/internal/log"
)

func testCatalog(t *testing.T) *domain.Catalog {
	t.Helper()
	cat, err := domain.NewCatalog([]domain.MediaItem{
		{ID: "img-1", PrimaryURL: "https://cdn.example.com/1.jpg", Category: "nature", AltText: "Misty mountain lake at dawn"},
		{ID: "img-2", PrimaryURL: "https://cdn.example.com/2.jpg", Category: "urban", AltText: "Rainy neon street"},
		{ID: "img-3", PrimaryURL: "https://cdn.example.com/3.jpg", Category: "nature", AltText: "Forest waterfall"},
		{ID: "img-4", PrimaryURL: "https://cdn.example.com/4.jpg", Category: "temple", AltText: "Golden pavilion in snow"},
	})
	require.NoError(t, err)
	return cat
}

func TestSearchFindsByAltText(t *testing.T) {
	s := NewService(testCatalog(t), log.Null())

	results := s.Search("waterfall")
	require.Len(t, results, 1)
	assert.Equal(t, "img-3", results[0].Item.ID)
	assert.NotEmpty(t, results[0].MatchedIndexes)
}

func TestSearchMatchesCategory(t *testing.T) {
	s := NewService(testCatalog(t), log.Null())

	results := s.Search("temple")
	require.NotEmpty(t, results)
	assert.Equal(t, "img-4", results[0].Item.ID)
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	s := NewService(testCatalog(t), log.Null())

	lower := s.Search("misty")
	upper := s.Search("MISTY")
	require.NotEmpty(t, lower)
	require.Len(t, upper, len(lower))
	assert.Equal(t, lower[0].Item.ID, upper[0].Item.ID)
}

func TestSearchEmptyQueryReturnsNothing(t *testing.T) {
	s := NewService(testCatalog(t), log.Null())

	assert.Nil(t, s.Search(""))
	assert.Nil(t, s.Search("   "))
}

func TestSearchOrdersBestMatchFirst(t *testing.T) {
	s := NewService(testCatalog(t), log.Null())

	// "nature" appears in two items; an exact alt-text hit should rank
	// above a category-only hit.
	results := s.Search("lake")
	require.NotEmpty(t, results)
	assert.Equal(t, "img-1", results[0].Item.ID)
}

func TestRankByID(t *testing.T) {
	s := NewService(testCatalog(t), log.Null())

	results := s.RankByID("img-2")
	require.NotEmpty(t, results)
	assert.Equal(t, "img-2", results[0].ID)
}

func TestIndexItemsReplacesIndex(t *testing.T) {
	s := NewService(testCatalog(t), log.Null())

	s.IndexItems([]domain.MediaItem{
		{ID: "only", PrimaryURL: "https://cdn.example.com/o.jpg", AltText: "Solitary lighthouse"},
	})

	assert.Empty(t, s.Search("waterfall"))
	require.Len(t, s.Search("lighthouse"), 1)
}
