// Package metadata resolves external IDs into the titles, year and season
// layout used for matching library content against a request.
package metadata

import (
	"github.com/aiostreams/aiostreams/pkg/idparser"
)

// SeasonInfo is the episode count of one season, used to translate between
// season/episode and absolute episode numbering.
type SeasonInfo struct {
	Number       int
	EpisodeCount int
}

// Metadata is what a search needs to know about the requested item.
// Titles holds the primary title first, followed by known aliases and
// localized titles.
type Metadata struct {
	Titles           []string
	Year             int
	Kind             idparser.MediaKind
	Seasons          []SeasonInfo
	OriginalLanguage string
}

// Title returns the primary title, or "" if none is known.
func (m Metadata) Title() string {
	if len(m.Titles) == 0 {
		return ""
	}
	return m.Titles[0]
}

// AbsoluteEpisode converts a season/episode pair into the absolute episode
// number across all regular seasons. Returns 0 when the season layout
// doesn't cover the requested season.
func (m Metadata) AbsoluteEpisode(season, episode int) int {
	if season <= 0 || episode <= 0 {
		return 0
	}
	abs := 0
	for _, s := range m.Seasons {
		if s.Number <= 0 {
			// Specials don't count towards absolute numbering
			continue
		}
		if s.Number < season {
			abs += s.EpisodeCount
		}
	}
	if season > 1 && abs == 0 {
		return 0
	}
	return abs + episode
}

// EpisodeRequest builds the set of episode numbers a request can be known
// under: the plain season/episode pair, the absolute number across seasons
// and, for anime IDs that already carry an absolute number, the relative
// position within the season.
func (m Metadata) EpisodeRequest(id idparser.ParsedID) EpisodeNumbers {
	req := EpisodeNumbers{Season: id.Season, Episode: id.Episode}
	if id.Kind == idparser.KindAnime && id.Season == 0 {
		// Anime IDs carry the absolute episode; derive season/episode
		req.AbsoluteEpisode = id.Episode
		season, episode := m.seasonEpisodeFromAbsolute(id.Episode)
		req.Season = season
		req.RelativeEpisode = episode
		return req
	}
	req.AbsoluteEpisode = m.AbsoluteEpisode(id.Season, id.Episode)
	return req
}

// EpisodeNumbers carries every numbering a single episode can appear under
// in release names.
type EpisodeNumbers struct {
	Season          int
	Episode         int
	AbsoluteEpisode int
	RelativeEpisode int
}

func (m Metadata) seasonEpisodeFromAbsolute(abs int) (int, int) {
	if abs <= 0 {
		return 0, 0
	}
	remaining := abs
	for _, s := range m.Seasons {
		if s.Number <= 0 || s.EpisodeCount <= 0 {
			continue
		}
		if remaining <= s.EpisodeCount {
			return s.Number, remaining
		}
		remaining -= s.EpisodeCount
	}
	return 0, 0
}
