package library

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/idparser"
	"github.com/aiostreams/aiostreams/pkg/metadata"
	"github.com/aiostreams/aiostreams/pkg/stream"
	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

// Search finds owned items matching a stream request. Results are
// confirmed: the content is known to be in the library, so no
// availability probe is needed.
func (s *Service) Search(ctx context.Context, md metadata.Metadata, id idparser.ParsedID) ([]stream.Stream, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("Couldn't load library for search: %w", err)
	}

	episode := episodeRequest(md, id)
	var results []stream.Stream
	for _, item := range snap.Items {
		if !item.Download.Status.Playable() || item.Download.Name == "" {
			continue
		}
		if !titleparser.Matches(item.Parsed.Title, md.Titles, titleparser.LibraryMatchThreshold) {
			continue
		}
		if id.IsSeries() && !titleparser.MatchesEpisode(item.Parsed, episode) {
			continue
		}
		results = append(results, s.toStream(item))
	}
	s.logger.Debug("Library search finished",
		zap.Int("matches", len(results)), zap.String("debridService", s.client.ID()), zap.String("id", id.String()))
	return results, nil
}

// Streams builds the stream list for one library video ID, requested
// after the user opened an item from the library catalog. A file part in
// the ID pins the file to play.
func (s *Service) Streams(ctx context.Context, libID idparser.LibraryID) ([]stream.Stream, error) {
	item, err := s.find(ctx, libID.Kind, libID.ItemID)
	if err != nil {
		return nil, err
	}
	st := s.toStream(item)
	if libID.FileID != "" {
		if idx, err := strconv.Atoi(libID.FileID); err == nil {
			st.FileIndex = idx
		} else {
			st.Filename = libID.FileID
		}
	}
	return []stream.Stream{st}, nil
}

func (s *Service) toStream(item Item) stream.Stream {
	st := stream.Stream{
		Addon:     "library",
		Title:     item.Download.Name,
		Size:      item.Download.Size,
		AddedAt:   item.Download.Added,
		FileIndex: -1,
		Confirmed: true,
		Library:   true,
		Parsed:    item.Parsed,
		Service: stream.ServiceInfo{
			ID:     s.client.ID(),
			Cached: true,
			Owned:  true,
			ItemID: item.Download.ID,
		},
	}
	if item.Download.Kind == "usenet" {
		st.Type = stream.TypeUsenet
		// Usenet items have no info hash; derive a stable digest so
		// dedupe can still fold identical content.
		sum := sha1.Sum([]byte(s.client.ID() + ":" + item.Download.ID + ":" + item.Download.Name))
		st.InfoHash = hex.EncodeToString(sum[:])
	} else {
		st.Type = stream.TypeTorrent
		st.InfoHash = item.Download.Hash
	}
	return st
}

// episodeRequest translates the request ID into every episode numbering
// the library item might use.
func episodeRequest(md metadata.Metadata, id idparser.ParsedID) titleparser.EpisodeRequest {
	numbers := md.EpisodeRequest(id)
	return titleparser.EpisodeRequest{
		Season:                  numbers.Season,
		Episode:                 numbers.Episode,
		AbsoluteEpisode:         numbers.AbsoluteEpisode,
		RelativeAbsoluteEpisode: numbers.RelativeEpisode,
	}
}
