package idparser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseIMDb(t *testing.T) {
	p, err := Parse("tt0903747", KindSeries)
	require.NoError(t, err)
	require.Equal(t, "imdb", p.Namespace)
	require.Equal(t, "tt0903747", p.Value)
	require.Equal(t, KindSeries, p.Kind)
	require.Zero(t, p.Season)
	require.Zero(t, p.Episode)
}

func TestParseIMDbEpisode(t *testing.T) {
	p, err := Parse("tt0903747:2:5", "")
	require.NoError(t, err)
	require.Equal(t, "imdb", p.Namespace)
	require.Equal(t, "tt0903747", p.Value)
	require.Equal(t, 2, p.Season)
	require.Equal(t, 5, p.Episode)
	require.Equal(t, KindSeries, p.Kind)
	require.True(t, p.IsSeries())
}

func TestParseNamespaced(t *testing.T) {
	p, err := Parse("tmdb:1396:2:5", "")
	require.NoError(t, err)
	require.Equal(t, "tmdb", p.Namespace)
	require.Equal(t, "1396", p.Value)
	require.Equal(t, 2, p.Season)
	require.Equal(t, 5, p.Episode)
}

func TestParseDashForm(t *testing.T) {
	p, err := Parse("tvdb-81189", KindSeries)
	require.NoError(t, err)
	require.Equal(t, "tvdb", p.Namespace)
	require.Equal(t, "81189", p.Value)
}

func TestParseBareNumeric(t *testing.T) {
	p, err := Parse("1396", KindMovie)
	require.NoError(t, err)
	require.Equal(t, "tmdb", p.Namespace)
	require.Equal(t, "1396", p.Value)
}

func TestParseKitsuEpisode(t *testing.T) {
	// Anime IDs carry an absolute episode, not season:episode
	p, err := Parse("kitsu:1376:5", "")
	require.NoError(t, err)
	require.Equal(t, "kitsu", p.Namespace)
	require.Equal(t, KindAnime, p.Kind)
	require.Zero(t, p.Season)
	require.Equal(t, 5, p.Episode)
	require.True(t, p.IsSeries())
}

func TestParseErrors(t *testing.T) {
	for _, id := range []string{"", "unknown:123", "tmdb:", "what-is-this:a:b", "!!!"} {
		_, err := Parse(id, "")
		require.Error(t, err, "id: %q", id)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	// encode(parse(id)) must be stable under a second parse+encode
	ids := []string{
		"tt0903747",
		"tt0903747:2:5",
		"tmdb:1396",
		"tmdb:1396:2:5",
		"kitsu:1376:5",
		"tvdb-81189",
		"1396",
	}
	for _, id := range ids {
		first, err := Parse(id, "")
		require.NoError(t, err, "id: %q", id)
		canonical := first.String()
		second, err := Parse(canonical, first.Kind)
		require.NoError(t, err, "canonical: %q", canonical)
		require.Equal(t, canonical, second.String(), "id: %q", id)
		require.Equal(t, first, second, "id: %q", id)
	}
}

func TestLibraryIDRoundTrip(t *testing.T) {
	tests := []LibraryID{
		{ServiceID: "torbox", Kind: "torrent", ItemID: "12345"},
		{ServiceID: "torbox", Kind: "usenet", ItemID: "987", FileID: "3"},
		{ServiceID: "stremthru", Kind: "torrent", ItemID: "abc.def", FileID: "Some File.mkv"},
	}
	for _, want := range tests {
		id := EncodeLibraryID(want)
		require.True(t, IsLibraryID(id))
		got, err := ParseLibraryID(id)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestLibraryIDNotConfusedWithExternal(t *testing.T) {
	require.False(t, IsLibraryID("tt0903747"))
	require.False(t, IsLibraryID("tmdb:1396"))
	_, err := ParseLibraryID("tt0903747")
	require.Error(t, err)
	_, err = ParseLibraryID(LibraryPrefix + ".torbox")
	require.Error(t, err)
}
