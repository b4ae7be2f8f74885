package aggregator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/addon"
	"github.com/aiostreams/aiostreams/pkg/cache"
	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/idparser"
	"github.com/aiostreams/aiostreams/pkg/library"
	"github.com/aiostreams/aiostreams/pkg/lock"
	"github.com/aiostreams/aiostreams/pkg/metadata"
)

func newAddon(t *testing.T, name string, handler http.HandlerFunc) *addon.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	clients, err := addon.Expand(addon.Preset{Name: name, URL: srv.URL, Timeout: time.Second}, []string{"torbox"}, addon.DefaultClientOpts)
	require.NoError(t, err)
	return clients[0]
}

func streamsBody(urls ...string) string {
	body := `{"streams": [`
	for i, u := range urls {
		if i > 0 {
			body += ","
		}
		body += `{"name": "1080p", "url": "` + u + `"}`
	}
	return body + `]}`
}

func TestAggregateMergesAllSources(t *testing.T) {
	fast := newAddon(t, "Fast", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(streamsBody("https://fast.example.com/1", "https://fast.example.com/2")))
	})
	slow := newAddon(t, "Slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(streamsBody("https://slow.example.com/1")))
	})

	a := New(nil, []*addon.Client{fast, slow}, nil, zap.NewNop())
	id := idparser.ParsedID{Namespace: "imdb", Value: "tt1375666", Kind: idparser.KindMovie}

	streams, errs, err := a.Aggregate(context.Background(), "movie", id)
	require.NoError(t, err)
	require.Empty(t, errs)
	require.Len(t, streams, 3)
}

func TestAggregateSettledAll(t *testing.T) {
	ok := newAddon(t, "OK", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(streamsBody("https://ok.example.com/1")))
	})
	broken := newAddon(t, "Broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	a := New(nil, []*addon.Client{ok, broken}, nil, zap.NewNop())
	id := idparser.ParsedID{Namespace: "imdb", Value: "tt1375666", Kind: idparser.KindMovie}

	streams, errs, err := a.Aggregate(context.Background(), "movie", id)
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, errs, 1)
	require.Equal(t, "Broken", errs[0].Title)
}

func TestAggregateEmptySources(t *testing.T) {
	a := New(nil, nil, nil, zap.NewNop())
	id := idparser.ParsedID{Namespace: "imdb", Value: "tt1375666", Kind: idparser.KindMovie}

	streams, errs, err := a.Aggregate(context.Background(), "movie", id)
	require.NoError(t, err)
	require.Empty(t, streams)
	require.Empty(t, errs)
}

// libClient is a minimal torrent service with one owned movie.
type libClient struct{}

var _ debrid.Service = libClient{}
var _ debrid.TorrentClient = libClient{}

func (libClient) ID() string                          { return "fake" }
func (libClient) Name() string                        { return "Fake" }
func (libClient) TestToken(ctx context.Context) error { return nil }

func (libClient) CheckHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (libClient) AddMagnet(ctx context.Context, magnet string) (debrid.Download, error) {
	return debrid.Download{}, debrid.NewError(debrid.ErrNotImplemented, nil)
}

func (libClient) AddTorrent(ctx context.Context, torrentURL string) (debrid.Download, error) {
	return debrid.Download{}, debrid.NewError(debrid.ErrNotImplemented, nil)
}

func (libClient) ListTorrents(ctx context.Context) ([]debrid.Download, error) {
	return []debrid.Download{{
		ID: "1", Kind: "torrent", Name: "Inception.2010.2160p.WEB-DL.x265-GRP",
		Hash: "aa8255ecdc7ca55fb0bbf81323d87062db1f6d1c", Size: 20 << 30,
		Status: debrid.StatusDownloaded,
	}}, nil
}

func (libClient) GetTorrent(ctx context.Context, id string) (debrid.Download, error) {
	return debrid.Download{}, debrid.NewError(debrid.ErrNotFound, nil)
}

func (libClient) RemoveTorrent(ctx context.Context, id string) error { return nil }

func (libClient) GenerateTorrentLink(ctx context.Context, id string, file debrid.File) (string, error) {
	return "", debrid.NewError(debrid.ErrNotImplemented, nil)
}

func TestAggregateIncludesLibrary(t *testing.T) {
	cinemeta := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta": {"id": "tt1375666", "name": "Inception", "releaseInfo": "2010"}}`))
	}))
	t.Cleanup(cinemeta.Close)

	mdOpts := metadata.DefaultClientOpts
	mdOpts.CinemetaURL = cinemeta.URL
	md := metadata.NewClient(mdOpts, cache.NewInMemory(time.Minute), zap.NewNop())

	lib := library.NewService(libClient{}, cache.NewInMemory(time.Minute), lock.NewMemory(), library.DefaultOptions, zap.NewNop())

	a := New(md, nil, []*library.Service{lib}, zap.NewNop())
	id := idparser.ParsedID{Namespace: "imdb", Value: "tt1375666", Kind: idparser.KindMovie}

	streams, errs, err := a.Aggregate(context.Background(), "movie", id)
	require.NoError(t, err)
	require.Empty(t, errs)
	require.Len(t, streams, 1)
	require.True(t, streams[0].Confirmed)
	require.True(t, streams[0].Library)
	require.Equal(t, "fake", streams[0].Service.ID)
}
