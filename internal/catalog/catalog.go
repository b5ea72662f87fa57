// Package catalog loads gallery catalogs from JSON manifests or gallery
// markup. Parsing is pure; validation lives in domain.NewCatalog.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tidegrove/galleria/internal/domain"
)

// ParseJSON decodes a JSON manifest into a validated catalog.
//
// The manifest is a flat array of items:
//
//	[{"id": "img-1", "url": "...", "thumbnail": "...", "category": "nature",
//	  "alt": "...", "width": 1600, "height": 1200, "priority": 2}]
func ParseJSON(r io.Reader) (*domain.Catalog, error) {
	var manifest []struct {
		ID        string `json:"id"`
		URL       string `json:"url"`
		Thumbnail string `json:"thumbnail"`
		Category  string `json:"category"`
		Alt       string `json:"alt"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Priority  int    `json:"priority"`
	}
	if err := json.NewDecoder(r).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decoding catalog manifest: %w", err)
	}

	items := make([]domain.MediaItem, 0, len(manifest))
	for _, m := range manifest {
		items = append(items, domain.MediaItem{
			ID:           m.ID,
			PrimaryURL:   m.URL,
			ThumbnailURL: m.Thumbnail,
			Category:     m.Category,
			AltText:      m.Alt,
			Width:        m.Width,
			Height:       m.Height,
			Priority:     m.Priority,
		})
	}
	return domain.NewCatalog(items)
}

// LoadFile reads a JSON manifest from disk.
func LoadFile(path string) (*domain.Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog manifest: %w", err)
	}
	defer f.Close()
	return ParseJSON(f)
}

// ParseHTML extracts a catalog from gallery markup. It looks for elements
// carrying data-media-id inside the gallery container and reads the source
// URL, category, alt text, and declared dimensions from attributes.
// Missing dimensions and priorities are tolerated and left zero.
func ParseHTML(r io.Reader) (*domain.Catalog, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing gallery markup: %w", err)
	}

	var items []domain.MediaItem
	doc.Find(".gallery [data-media-id], .gallery-container [data-media-id]").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-media-id")
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}

		item := domain.MediaItem{
			ID:       id,
			Category: strings.TrimSpace(s.AttrOr("data-category", "")),
			Priority: intAttr(s, "data-priority"),
		}

		img := s.Find("img").First()
		if img.Length() > 0 {
			// Lazy-loaded galleries keep the real URL in data-src and
			// a placeholder in src.
			item.PrimaryURL = strings.TrimSpace(img.AttrOr("data-src", img.AttrOr("src", "")))
			item.ThumbnailURL = strings.TrimSpace(img.AttrOr("data-thumbnail", ""))
			item.AltText = strings.TrimSpace(img.AttrOr("alt", ""))
			item.Width = intAttr(img, "width")
			item.Height = intAttr(img, "height")
		} else {
			item.PrimaryURL = strings.TrimSpace(s.AttrOr("data-src", ""))
			item.AltText = strings.TrimSpace(s.AttrOr("data-alt", ""))
		}
		items = append(items, item)
	})

	return domain.NewCatalog(items)
}

func intAttr(s *goquery.Selection, name string) int {
	v, ok := s.Attr(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}
