package titleparser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Office (US)", "office us"},
		{"Spider-Man: No Way Home", "spider man no way home"},
		{"  A   Quiet  Place ", "quiet place"},
		{"MÖVIE", "m vie"},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Normalize(tt.in), "input: %q", tt.in)
	}
}

func TestTokenSetRatioIdentical(t *testing.T) {
	require.Equal(t, 1.0, TokenSetRatio("The Matrix", "Matrix, The"))
}

func TestTokenSetRatioSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"Breaking Bad", "Breaking Bad 1080p Complete"},
		{"Dune Part Two", "Dune"},
		{"Some Show", "Entirely Different"},
	}
	for _, p := range pairs {
		require.InDelta(t, TokenSetRatio(p[0], p[1]), TokenSetRatio(p[1], p[0]), 1e-9)
	}
}

func TestMatches(t *testing.T) {
	titles := []string{"Breaking Bad", "Metástasis"}
	require.True(t, Matches("Breaking.Bad", titles, LibraryMatchThreshold))
	require.True(t, Matches("breaking bad", titles, LibraryMatchThreshold))
	require.False(t, Matches("Better Call Saul", titles, LibraryMatchThreshold))
	require.False(t, Matches("", titles, LibraryMatchThreshold))
}

func TestMatchesSupersetTitle(t *testing.T) {
	// Extra release tokens on one side shouldn't break the match
	require.True(t, Matches("Breaking Bad", []string{"Breaking Bad"}, LibraryMatchThreshold))
	require.True(t, TokenSetRatio("Breaking Bad Complete Series", "Breaking Bad") >= LibraryMatchThreshold)
}

func TestMatchesEpisode(t *testing.T) {
	req := EpisodeRequest{Season: 2, Episode: 5}

	exact := ParsedFile{Seasons: []int{2}, Episodes: []int{5}}
	require.True(t, MatchesEpisode(exact, req))

	wrongSeason := ParsedFile{Seasons: []int{3}, Episodes: []int{5}}
	require.False(t, MatchesEpisode(wrongSeason, req))

	wrongEpisode := ParsedFile{Seasons: []int{2}, Episodes: []int{4}}
	require.False(t, MatchesEpisode(wrongEpisode, req))

	pack := ParsedFile{Seasons: []int{2}, SeasonPack: true}
	require.True(t, MatchesEpisode(pack, req))

	packWrongSeason := ParsedFile{Seasons: []int{1}, SeasonPack: true}
	require.False(t, MatchesEpisode(packWrongSeason, req))
}

func TestMatchesEpisodeAbsolute(t *testing.T) {
	// Anime release numbered by absolute episode
	req := EpisodeRequest{Season: 22, Episode: 68, AbsoluteEpisode: 1153}
	candidate := ParsedFile{Episodes: []int{1153}}
	require.True(t, MatchesEpisode(candidate, req))
}

func TestMatchesEpisodeFolderSeason(t *testing.T) {
	// File only carries the episode, the folder vouches for the season
	req := EpisodeRequest{Season: 2, Episode: 5}
	candidate := ParsedFile{Episodes: []int{5}, FolderSeasons: []int{2}}
	require.True(t, MatchesEpisode(candidate, req))
}

func TestPickLocalized(t *testing.T) {
	byLang := map[string]string{
		"en": "english.png",
		"de": "german.png",
		"ja": "japanese.png",
	}
	order := []string{"ja", "en", "de"}

	require.Equal(t, "german.png", PickLocalized(byLang, order, "de-DE", "ja"))
	require.Equal(t, "japanese.png", PickLocalized(byLang, order, "fr", "ja"))
	require.Equal(t, "english.png", PickLocalized(byLang, order, "fr", "it"))
	require.Equal(t, "", PickLocalized(nil, nil, "en", "en"))
}
