package library

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/idparser"
	"github.com/aiostreams/aiostreams/pkg/stremio"
	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

// releasedFormat is the ISO 8601 layout Stremio expects.
const releasedFormat = "2006-01-02T15:04:05.000Z"

// Meta builds the detail view for one owned item.
func (s *Service) Meta(ctx context.Context, libID idparser.LibraryID) (stremio.MetaItem, error) {
	item, err := s.find(ctx, libID.Kind, libID.ItemID)
	if err != nil {
		return stremio.MetaItem{}, err
	}

	// The snapshot listing may omit files; fetch the authoritative item
	// when needed.
	if len(item.Download.Files) == 0 {
		if d, err := s.authoritative(ctx, libID); err == nil {
			item.Download = d
		}
	}

	name := item.Parsed.Title
	if name == "" {
		name = item.Download.Name
	}
	meta := stremio.MetaItem{
		ID:          s.itemID(item),
		Type:        "other",
		Name:        name,
		Description: describe(item),
	}
	if !item.Download.Added.IsZero() {
		meta.Released = item.Download.Added.UTC().Format(releasedFormat)
	}

	videos := videoEntries(item)
	meta.Videos = videos
	if len(videos) == 1 && item.Download.Status.Playable() {
		meta.BehaviorHints = &stremio.MetaBehaviorHints{DefaultVideoID: videos[0].ID}
	}
	return meta, nil
}

// authoritative bypasses the snapshot and asks the service directly.
func (s *Service) authoritative(ctx context.Context, libID idparser.LibraryID) (debrid.Download, error) {
	switch libID.Kind {
	case "usenet":
		if uc, ok := s.client.(debrid.UsenetClient); ok {
			return uc.GetUsenet(ctx, libID.ItemID)
		}
	default:
		if tc, ok := s.client.(debrid.TorrentClient); ok {
			return tc.GetTorrent(ctx, libID.ItemID)
		}
	}
	return debrid.Download{}, debrid.NewError(debrid.ErrNotImplemented, fmt.Errorf("service %v can't fetch %v items", s.client.ID(), libID.Kind))
}

// videoEntries lists the item's video files as meta videos with stable IDs.
func videoEntries(item Item) []stremio.VideoItem {
	var videos []stremio.VideoItem
	for _, f := range item.Download.Files {
		pf := titleparser.Parse(f.Name)
		if pf.Extension == "" {
			continue
		}
		fileID := strconv.Itoa(f.Index)
		if f.Index < 0 {
			fileID = f.Name
		}
		v := stremio.VideoItem{
			ID: idparser.EncodeLibraryID(idparser.LibraryID{
				ServiceID: item.ServiceID,
				Kind:      item.Download.Kind,
				ItemID:    item.Download.ID,
				FileID:    fileID,
			}),
			Title:     f.Name,
			Available: item.Download.Status.Playable(),
		}
		if len(pf.Seasons) == 1 {
			v.Season = pf.Seasons[0]
		}
		if len(pf.Episodes) == 1 {
			v.Episode = pf.Episodes[0]
		}
		if !item.Download.Added.IsZero() {
			v.Released = item.Download.Added.UTC().Format(releasedFormat)
		}
		videos = append(videos, v)
	}
	sort.SliceStable(videos, func(i, j int) bool {
		if videos[i].Season != videos[j].Season {
			return videos[i].Season < videos[j].Season
		}
		if videos[i].Episode != videos[j].Episode {
			return videos[i].Episode < videos[j].Episode
		}
		return videos[i].Title < videos[j].Title
	})
	return videos
}

// describe summarizes an item for catalog and meta views.
func describe(item Item) string {
	var parts []string
	pf := item.Parsed
	if pf.Year > 0 {
		parts = append(parts, strconv.Itoa(pf.Year))
	}
	if len(pf.Seasons) > 0 {
		parts = append(parts, seasonRange(pf))
	}
	if pf.Resolution != "" {
		parts = append(parts, pf.Resolution)
	}
	if item.Download.Size > 0 {
		parts = append(parts, formatSize(item.Download.Size))
	}
	if n := len(item.Download.Files); n > 1 {
		parts = append(parts, fmt.Sprintf("%d files", n))
	}
	if !item.Download.Added.IsZero() {
		parts = append(parts, "added "+item.Download.Added.UTC().Format("2006-01-02"))
	}
	return strings.Join(parts, ", ")
}

func seasonRange(pf titleparser.ParsedFile) string {
	min, max := pf.Seasons[0], pf.Seasons[0]
	for _, s := range pf.Seasons[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if min == max {
		if len(pf.Episodes) == 1 {
			return fmt.Sprintf("S%02dE%02d", min, pf.Episodes[0])
		}
		return fmt.Sprintf("S%02d", min)
	}
	return fmt.Sprintf("S%02d-S%02d", min, max)
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
