package fileselect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

func TestSelectEpisode(t *testing.T) {
	files := []debrid.File{
		{Index: 0, Name: "Show.S02E04.1080p.mkv", Path: "Show.S02.1080p/Show.S02E04.1080p.mkv", Size: 1000},
		{Index: 1, Name: "Show.S02E05.1080p.mkv", Path: "Show.S02.1080p/Show.S02E05.1080p.mkv", Size: 1000},
		{Index: 2, Name: "Show.S02E06.1080p.mkv", Path: "Show.S02.1080p/Show.S02E06.1080p.mkv", Size: 1000},
	}

	got, err := Select(files, NewRequest(nil, titleparser.EpisodeRequest{Season: 2, Episode: 5}))
	require.NoError(t, err)
	require.Equal(t, 1, got.Index)
}

func TestSelectEpisodeFolderSeason(t *testing.T) {
	// Files only numbered by episode, folder carries the season
	files := []debrid.File{
		{Index: 0, Name: "E04.mkv", Path: "Show.S02.1080p/E04.mkv", Size: 1000},
		{Index: 1, Name: "E05.mkv", Path: "Show.S02.1080p/E05.mkv", Size: 1000},
	}

	got, err := Select(files, NewRequest(nil, titleparser.EpisodeRequest{Season: 2, Episode: 5}))
	require.NoError(t, err)
	require.Equal(t, 1, got.Index)
}

func TestSelectEpisodeNoMatch(t *testing.T) {
	files := []debrid.File{
		{Index: 0, Name: "Show.S01E01.mkv", Size: 1000},
	}

	_, err := Select(files, NewRequest(nil, titleparser.EpisodeRequest{Season: 2, Episode: 5}))
	require.Error(t, err)
	require.True(t, debrid.IsKind(err, debrid.ErrNoMatchingFile))
}

func TestSelectMovieLargestVideo(t *testing.T) {
	files := []debrid.File{
		{Index: 0, Name: "movie.mkv", Size: 5000},
		{Index: 1, Name: "extras.mkv", Size: 500},
		{Index: 2, Name: "info.nfo", Size: 10},
	}

	got, err := Select(files, NewRequest(nil, titleparser.EpisodeRequest{}))
	require.NoError(t, err)
	require.Equal(t, 0, got.Index)
}

func TestSelectSkipsSamples(t *testing.T) {
	files := []debrid.File{
		{Index: 0, Name: "movie-sample.mkv", Size: 9000},
		{Index: 1, Name: "movie.mkv", Size: 5000},
	}

	got, err := Select(files, NewRequest(nil, titleparser.EpisodeRequest{}))
	require.NoError(t, err)
	require.Equal(t, 1, got.Index)
}

func TestSelectNoVideos(t *testing.T) {
	files := []debrid.File{
		{Index: 0, Name: "readme.txt", Size: 10},
		{Index: 1, Name: "cover.jpg", Size: 100},
	}

	_, err := Select(files, NewRequest(nil, titleparser.EpisodeRequest{}))
	require.True(t, debrid.IsKind(err, debrid.ErrNoMatchingFile))
}

func TestSelectDeterministicTieBreak(t *testing.T) {
	files := []debrid.File{
		{Index: 0, Name: "b.mkv", Path: "folder/sub/b.mkv", Size: 1000},
		{Index: 1, Name: "a.mkv", Path: "folder/a.mkv", Size: 1000},
		{Index: 2, Name: "c.mkv", Path: "folder/c.mkv", Size: 1000},
	}

	// Equal size: shallower path wins, then lexical order
	got, err := Select(files, NewRequest(nil, titleparser.EpisodeRequest{}))
	require.NoError(t, err)
	require.Equal(t, 1, got.Index)

	// Order of the input slice doesn't change the outcome
	reversed := []debrid.File{files[2], files[1], files[0]}
	got2, err := Select(reversed, NewRequest(nil, titleparser.EpisodeRequest{}))
	require.NoError(t, err)
	require.Equal(t, got.Index, got2.Index)
}

func TestSelectAbsoluteEpisode(t *testing.T) {
	files := []debrid.File{
		{Index: 0, Name: "[Group] Anime - 1152 [1080p].mkv", Size: 1000},
		{Index: 1, Name: "[Group] Anime - 1153 [1080p].mkv", Size: 1000},
	}

	got, err := Select(files, NewRequest(nil, titleparser.EpisodeRequest{Season: 22, Episode: 68, AbsoluteEpisode: 1153}))
	require.NoError(t, err)
	require.Equal(t, 1, got.Index)
}

func TestSelectPinnedFile(t *testing.T) {
	files := []debrid.File{
		{Index: 0, Name: "Show.S02E05.720p.mkv", Size: 1000},
		{Index: 1, Name: "Show.S02E05.1080p.mkv", Size: 2000},
	}

	req := NewRequest(nil, titleparser.EpisodeRequest{Season: 2, Episode: 5})
	req.ChosenIndex = 0
	got, err := Select(files, req)
	require.NoError(t, err)
	require.Equal(t, 0, got.Index)

	req = NewRequest(nil, titleparser.EpisodeRequest{Season: 2, Episode: 5})
	req.ChosenFilename = "Show.S02E05.720p.mkv"
	got, err = Select(files, req)
	require.NoError(t, err)
	require.Equal(t, 0, got.Index)

	// A pinned file that fails the episode constraints is ignored
	req = NewRequest(nil, titleparser.EpisodeRequest{Season: 2, Episode: 6})
	req.ChosenIndex = 0
	_, err = Select(files, req)
	require.True(t, debrid.IsKind(err, debrid.ErrNoMatchingFile))
}
