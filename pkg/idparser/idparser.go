// Package idparser decodes the external identifiers Stremio sends in
// stream/meta/catalog requests into their namespace, value and season/episode
// parts, and re-encodes them canonically.
package idparser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MediaKind discriminates what a ParsedID refers to.
type MediaKind string

const (
	KindMovie  MediaKind = "movie"
	KindSeries MediaKind = "series"
	KindAnime  MediaKind = "anime"
)

// ParsedID is an external identifier decomposed into its parts.
// It's immutable after parsing.
type ParsedID struct {
	Namespace string
	Value     string
	Kind      MediaKind
	Season    int
	Episode   int
}

var (
	imdbRE    = regexp.MustCompile(`^tt\d+$`)
	numericRE = regexp.MustCompile(`^\d+$`)

	knownNamespaces = map[string]bool{
		"imdb": true, "tmdb": true, "tvdb": true, "kitsu": true, "anilist": true, "mal": true, "tt": true,
	}
	animeNamespaces = map[string]bool{
		"kitsu": true, "anilist": true, "mal": true,
	}
)

// Parse decodes identifiers of the forms "tt<digits>",
// "<namespace>:<value>[:<season>:<episode>]", "<namespace>-<value>" and bare
// numerics. kindHint comes from the request's type discriminator and is used
// when the namespace alone doesn't determine the kind.
func Parse(id string, kindHint MediaKind) (ParsedID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ParsedID{}, fmt.Errorf("Couldn't parse empty ID")
	}

	p := ParsedID{Kind: kindHint}

	switch {
	case imdbRE.MatchString(id):
		p.Namespace = "imdb"
		p.Value = id
	case strings.Contains(id, ":"):
		parts := strings.Split(id, ":")
		ns := strings.ToLower(parts[0])
		// "tt123:2:5" carries the IMDb ID in the first part
		if imdbRE.MatchString(parts[0]) {
			p.Namespace = "imdb"
			p.Value = parts[0]
			parts = append([]string{"imdb"}, parts...)
		} else {
			if !knownNamespaces[ns] {
				return ParsedID{}, fmt.Errorf("Couldn't parse ID %q: unknown namespace %q", id, ns)
			}
			p.Namespace = ns
			if len(parts) < 2 || parts[1] == "" {
				return ParsedID{}, fmt.Errorf("Couldn't parse ID %q: missing value", id)
			}
			p.Value = parts[1]
		}
		var err error
		if len(parts) >= 3 && parts[2] != "" {
			if p.Season, err = strconv.Atoi(parts[2]); err != nil {
				return ParsedID{}, fmt.Errorf("Couldn't parse season in ID %q: %v", id, err)
			}
		}
		if len(parts) >= 4 && parts[3] != "" {
			if p.Episode, err = strconv.Atoi(parts[3]); err != nil {
				return ParsedID{}, fmt.Errorf("Couldn't parse episode in ID %q: %v", id, err)
			}
		}
		// Anime namespaces use "<ns>:<value>:<episode>" with no season
		if animeNamespaces[p.Namespace] && len(parts) == 3 {
			p.Episode = p.Season
			p.Season = 0
		}
	case strings.Contains(id, "-"):
		parts := strings.SplitN(id, "-", 2)
		ns := strings.ToLower(parts[0])
		if !knownNamespaces[ns] || parts[1] == "" {
			return ParsedID{}, fmt.Errorf("Couldn't parse ID %q: unknown namespace %q", id, ns)
		}
		p.Namespace = ns
		p.Value = parts[1]
	case numericRE.MatchString(id):
		// Bare numerics are TMDB IDs by convention
		p.Namespace = "tmdb"
		p.Value = id
	default:
		return ParsedID{}, fmt.Errorf("Couldn't parse ID %q: unrecognized format", id)
	}

	if animeNamespaces[p.Namespace] {
		p.Kind = KindAnime
	} else if p.Kind == "" {
		if p.Season > 0 || p.Episode > 0 {
			p.Kind = KindSeries
		} else {
			p.Kind = KindMovie
		}
	}

	return p, nil
}

// String re-encodes the ParsedID to its canonical form. Parsing the result
// and encoding again yields the same string.
func (p ParsedID) String() string {
	var base string
	if p.Namespace == "imdb" {
		base = p.Value
	} else {
		base = p.Namespace + ":" + p.Value
	}
	if p.Kind == KindAnime && p.Episode > 0 && p.Season == 0 {
		return base + ":" + strconv.Itoa(p.Episode)
	}
	if p.Season > 0 || p.Episode > 0 {
		return base + ":" + strconv.Itoa(p.Season) + ":" + strconv.Itoa(p.Episode)
	}
	return base
}

// IsSeries reports whether the ID refers to an episodic item.
func (p ParsedID) IsSeries() bool {
	return p.Kind == KindSeries || (p.Kind == KindAnime && p.Episode > 0)
}
