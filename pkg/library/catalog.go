package library

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aiostreams/aiostreams/pkg/idparser"
	"github.com/aiostreams/aiostreams/pkg/stremio"
	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

// Catalog sort keys.
const (
	SortAdded = "added"
	SortTitle = "title"
)

// Genre values flip the sort direction.
const (
	GenreOldestFirst = "Oldest First"
	GenreReversed    = "Z-A"
)

// Search scores. Fuzzy results below the floor are dropped.
const (
	scoreExact      = 110
	scorePrefix     = 100
	scoreWordPrefix = 95
	scoreSubstring  = 80
	scoreFuzzyFloor = 65
)

// CatalogRequest is one catalog page request.
type CatalogRequest struct {
	// Sort is SortAdded (default) or SortTitle.
	Sort string
	// Genre optionally flips the sort direction.
	Genre string
	// Search replaces sorting with scored matching when non-empty.
	Search string
	Skip   int
}

// Catalog returns one page of the library as catalog entries.
func (s *Service) Catalog(ctx context.Context, req CatalogRequest) ([]stremio.MetaPreviewItem, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("Couldn't load library for catalog: %w", err)
	}

	items := append([]Item(nil), snap.Items...)
	if req.Search != "" {
		items = scoreAndFilter(items, req.Search)
	} else {
		sortItems(items, req.Sort, req.Genre)
	}

	if req.Skip >= len(items) {
		return []stremio.MetaPreviewItem{}, nil
	}
	items = items[req.Skip:]
	if len(items) > s.opts.PageSize {
		items = items[:s.opts.PageSize]
	}

	previews := make([]stremio.MetaPreviewItem, 0, len(items))
	for _, item := range items {
		previews = append(previews, s.preview(item))
	}
	return previews, nil
}

func (s *Service) preview(item Item) stremio.MetaPreviewItem {
	name := item.Parsed.Title
	if name == "" {
		name = item.Download.Name
	}
	return stremio.MetaPreviewItem{
		ID:          s.itemID(item),
		Type:        "other",
		Name:        name,
		Description: describe(item),
	}
}

func (s *Service) itemID(item Item) string {
	return idparser.EncodeLibraryID(idparser.LibraryID{
		ServiceID: s.client.ID(),
		Kind:      item.Download.Kind,
		ItemID:    item.Download.ID,
	})
}

func sortItems(items []Item, sortKey, genre string) {
	switch sortKey {
	case SortTitle:
		ascending := genre != GenreReversed
		sort.SliceStable(items, func(i, j int) bool {
			ti := strings.ToLower(displayTitle(items[i]))
			tj := strings.ToLower(displayTitle(items[j]))
			if ascending {
				return ti < tj
			}
			return ti > tj
		})
	default: // SortAdded
		newestFirst := genre != GenreOldestFirst
		sort.SliceStable(items, func(i, j int) bool {
			if newestFirst {
				return items[i].Download.Added.After(items[j].Download.Added)
			}
			return items[i].Download.Added.Before(items[j].Download.Added)
		})
	}
}

// scoreAndFilter ranks items against a search query and drops the ones
// below the acceptance floor.
func scoreAndFilter(items []Item, query string) []Item {
	type scored struct {
		item  Item
		score int
	}
	var matches []scored
	for _, item := range items {
		if sc := searchScore(displayTitle(item), query); sc >= scoreFuzzyFloor {
			matches = append(matches, scored{item, sc})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	out := make([]Item, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.item)
	}
	return out
}

func searchScore(title, query string) int {
	normTitle := titleparser.Normalize(title)
	normQuery := titleparser.Normalize(query)
	if normTitle == "" || normQuery == "" {
		return 0
	}
	if normTitle == normQuery {
		return scoreExact
	}
	if strings.HasPrefix(normTitle, normQuery+" ") || strings.HasPrefix(normTitle, normQuery) {
		return scorePrefix
	}
	for _, word := range strings.Fields(normTitle) {
		if strings.HasPrefix(word, normQuery) {
			return scoreWordPrefix
		}
	}
	if strings.Contains(normTitle, normQuery) {
		return scoreSubstring
	}
	return int(titleparser.TokenSetRatio(title, query) * 100)
}

func displayTitle(item Item) string {
	if item.Parsed.Title != "" {
		return item.Parsed.Title
	}
	return item.Download.Name
}
