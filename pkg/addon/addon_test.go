package addon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aiostreams/aiostreams/pkg/stream"
)

func TestPresetValidate(t *testing.T) {
	require.Error(t, Preset{}.Validate())
	require.Error(t, Preset{Name: "Foo"}.Validate())
	require.Error(t, Preset{Name: "Foo", URL: "ftp://example.com"}.Validate())
	require.NoError(t, Preset{Name: "Foo", URL: "https://example.com"}.Validate())
}

func TestExpandMultipleInstances(t *testing.T) {
	p := Preset{Name: "Torrentio", URL: "https://example.com", UseMultipleInstances: true}

	clients, err := Expand(p, []string{"torbox", "stremthru"}, DefaultClientOpts)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	require.Equal(t, "Torrentio | torbox", clients[0].Name())
	require.Equal(t, "torbox", clients[0].ServiceID())
	require.Equal(t, "Torrentio | stremthru", clients[1].Name())
}

func TestExpandSingleInstance(t *testing.T) {
	p := Preset{Name: "Torrentio", URL: "https://example.com"}

	clients, err := Expand(p, []string{"torbox"}, DefaultClientOpts)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	require.Equal(t, "Torrentio", clients[0].Name())
	require.Equal(t, "torbox", clients[0].ServiceID())

	// With multiple services and no UseMultipleInstances the instance
	// can't be pinned to one service.
	clients, err = Expand(p, []string{"torbox", "stremthru"}, DefaultClientOpts)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	require.Empty(t, clients[0].ServiceID())
}

func TestExpandP2P(t *testing.T) {
	p := Preset{Name: "Torrentio", URL: "https://example.com", IncludeP2P: true}

	clients, err := Expand(p, []string{"torbox"}, DefaultClientOpts)
	require.NoError(t, err)
	require.Len(t, clients, 2)
	require.Equal(t, "Torrentio | P2P", clients[1].Name())
	require.True(t, clients[1].keepP2P)
}

func TestExpandServiceRestriction(t *testing.T) {
	p := Preset{Name: "Torrentio", URL: "https://example.com", UseMultipleInstances: true, Services: []string{"torbox"}}

	clients, err := Expand(p, []string{"torbox", "stremthru"}, DefaultClientOpts)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	require.Equal(t, "torbox", clients[0].ServiceID())
}

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(p *Preset)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := Preset{Name: "Test Addon", URL: srv.URL}
	if mutate != nil {
		mutate(&p)
	}
	clients, err := Expand(p, []string{"torbox"}, DefaultClientOpts)
	require.NoError(t, err)
	return clients[0]
}

func TestStreamsParsing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stream/series/tt0903747:2:1.json", r.URL.Path)
		w.Write([]byte(`{"streams": [
			{
				"name": "Torrentio 1080p",
				"description": "Breaking.Bad.S02E01.1080p.BluRay.x264-GRP\n👤 57 💾 2.04 GB ⚙️ ThePirateBay",
				"infoHash": "DD8255ECDC7CA55FB0BBF81323D87062DB1F6D1C",
				"fileIdx": 3
			},
			{
				"name": "Debrid 4K",
				"url": "https://cdn.example.com/play/1",
				"behaviorHints": {"filename": "Breaking.Bad.S02E01.2160p.mkv", "videoSize": 4294967296, "bingeGroup": "grp-2160p"}
			},
			{"name": "❌ Invalid token", "description": "fix your config"},
			{"title": "This movie is not yet released"}
		]}`))
	}, nil)

	streams, errs := c.Streams(context.Background(), "series", "tt0903747:2:1")
	require.Empty(t, errs)
	require.Len(t, streams, 2)

	require.Equal(t, stream.TypeTorrent, streams[0].Type)
	require.Equal(t, "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c", streams[0].InfoHash)
	require.Equal(t, 3, streams[0].FileIndex)
	require.Equal(t, 57, streams[0].Seeders)
	require.Equal(t, int64(2190433320), streams[0].Size)
	require.Equal(t, "Breaking.Bad.S02E01.1080p.BluRay.x264-GRP", streams[0].Filename)
	require.Equal(t, "torbox", streams[0].Service.ID)

	require.Equal(t, stream.TypeHTTP, streams[1].Type)
	require.Equal(t, "https://cdn.example.com/play/1", streams[1].URL)
	require.Equal(t, "Breaking.Bad.S02E01.2160p.mkv", streams[1].Filename)
	require.Equal(t, int64(4294967296), streams[1].Size)
	require.Equal(t, "grp-2160p", streams[1].BingeGroup)
}

func TestStreamsDropRawTorrentsWithoutService(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"streams": [{"name": "1080p", "infoHash": "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"}]}`))
	}

	// No service: the raw hash is unplayable and gets dropped.
	c := newTestClient(t, handler, nil)
	c.serviceID = ""
	streams, errs := c.Streams(context.Background(), "movie", "tt1375666")
	require.Empty(t, errs)
	require.Empty(t, streams)

	// P2P instance: the raw hash is kept as a p2p stream.
	c = newTestClient(t, handler, func(p *Preset) { p.IncludeP2P = true })
	c.serviceID = ""
	c.keepP2P = true
	streams, errs = c.Streams(context.Background(), "movie", "tt1375666")
	require.Empty(t, errs)
	require.Len(t, streams, 1)
	require.Equal(t, stream.TypeP2P, streams[0].Type)
}

func TestStreamsTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"streams": []}`))
	}, func(p *Preset) { p.Timeout = 20 * time.Millisecond })

	streams, errs := c.Streams(context.Background(), "movie", "tt1375666")
	require.Empty(t, streams)
	require.Len(t, errs, 1)
	require.Equal(t, "Test Addon", errs[0].Title)
	require.Equal(t, "timeout", errs[0].Description)
}

func TestStreamsHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, nil)

	streams, errs := c.Streams(context.Background(), "movie", "tt1375666")
	require.Empty(t, streams)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Description, "500")
}

func TestStreamsMediaTypeRestriction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should never reach the addon")
	}, func(p *Preset) { p.MediaTypes = []string{"movie"} })

	streams, errs := c.Streams(context.Background(), "series", "tt0903747:2:1")
	require.Empty(t, streams)
	require.Empty(t, errs)
}

func TestManifestCapabilities(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/manifest.json", r.URL.Path)
		w.Write([]byte(`{
			"id": "org.example.addon",
			"name": "Example",
			"resources": ["catalog", {"name": "stream", "types": ["movie"]}, "meta"]
		}`))
	}, nil)

	manifest, caps, err := c.Manifest(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Example", manifest.Name)
	require.True(t, caps.Streams)
	require.True(t, caps.Catalog)
	require.True(t, caps.Meta)
	require.False(t, caps.Subtitles)
}
