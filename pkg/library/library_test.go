package library

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/cache"
	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/idparser"
	"github.com/aiostreams/aiostreams/pkg/lock"
	"github.com/aiostreams/aiostreams/pkg/metadata"
)

// fakeClient is an in-memory debrid.Service + TorrentClient.
type fakeClient struct {
	torrents  []debrid.Download
	listCalls int32
}

var _ debrid.Service = (*fakeClient)(nil)
var _ debrid.TorrentClient = (*fakeClient)(nil)

func (f *fakeClient) ID() string                          { return "fake" }
func (f *fakeClient) Name() string                        { return "Fake" }
func (f *fakeClient) TestToken(ctx context.Context) error { return nil }

func (f *fakeClient) CheckHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (f *fakeClient) AddMagnet(ctx context.Context, magnet string) (debrid.Download, error) {
	return debrid.Download{}, debrid.NewError(debrid.ErrNotImplemented, nil)
}

func (f *fakeClient) AddTorrent(ctx context.Context, torrentURL string) (debrid.Download, error) {
	return debrid.Download{}, debrid.NewError(debrid.ErrNotImplemented, nil)
}

func (f *fakeClient) ListTorrents(ctx context.Context) ([]debrid.Download, error) {
	atomic.AddInt32(&f.listCalls, 1)
	return f.torrents, nil
}

func (f *fakeClient) GetTorrent(ctx context.Context, id string) (debrid.Download, error) {
	for _, d := range f.torrents {
		if d.ID == id {
			return d, nil
		}
	}
	return debrid.Download{}, debrid.NewError(debrid.ErrNotFound, nil)
}

func (f *fakeClient) RemoveTorrent(ctx context.Context, id string) error { return nil }

func (f *fakeClient) GenerateTorrentLink(ctx context.Context, id string, file debrid.File) (string, error) {
	return "https://cdn.example.com/" + id, nil
}

func testDownloads() []debrid.Download {
	return []debrid.Download{
		{
			ID: "1", Kind: "torrent", Name: "Breaking.Bad.S02.1080p.BluRay.x264-GRP",
			Hash: "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c", Size: 30 << 30,
			Status: debrid.StatusDownloaded, Added: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Files: []debrid.File{
				{Index: 0, Name: "Breaking.Bad.S02E01.1080p.mkv", Path: "BB.S02/Breaking.Bad.S02E01.1080p.mkv", Size: 3 << 30},
				{Index: 1, Name: "Breaking.Bad.S02E02.1080p.mkv", Path: "BB.S02/Breaking.Bad.S02E02.1080p.mkv", Size: 3 << 30},
			},
		},
		{
			ID: "2", Kind: "torrent", Name: "Inception.2010.2160p.WEB-DL.x265-GRP",
			Hash: "aa8255ecdc7ca55fb0bbf81323d87062db1f6d1c", Size: 20 << 30,
			Status: debrid.StatusDownloaded, Added: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			Files: []debrid.File{
				{Index: 0, Name: "Inception.2010.2160p.mkv", Size: 20 << 30},
			},
		},
		{
			ID: "3", Kind: "torrent", Name: "Some.Download.In.Progress.1080p",
			Hash: "bb8255ecdc7ca55fb0bbf81323d87062db1f6d1c", Size: 1 << 30,
			Status: debrid.StatusDownloading, Added: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func newTestService(t *testing.T, opts Options) (*Service, *fakeClient) {
	t.Helper()
	client := &fakeClient{torrents: testDownloads()}
	svc := NewService(client, cache.NewInMemory(time.Minute), lock.NewMemory(), opts, zap.NewNop())
	return svc, client
}

func TestSnapshotSingleFetch(t *testing.T) {
	svc, client := newTestService(t, DefaultOptions)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 3)
	require.Equal(t, "Breaking Bad", snap.Items[0].Parsed.Title)

	_, err = svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&client.listCalls))
}

func TestSnapshotStaleServed(t *testing.T) {
	opts := DefaultOptions
	opts.StaleThreshold = 10 * time.Millisecond
	svc, client := newTestService(t, opts)

	_, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	// The stale snapshot comes back immediately; the refresh runs in the
	// background.
	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Items, 3)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&client.listCalls) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshInvalidates(t *testing.T) {
	svc, client := newTestService(t, DefaultOptions)

	_, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&client.listCalls))
}

func TestOwnedHashes(t *testing.T) {
	svc, _ := newTestService(t, DefaultOptions)

	owned, err := svc.OwnedHashes(context.Background())
	require.NoError(t, err)
	require.True(t, owned["dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"])
	require.True(t, owned["aa8255ecdc7ca55fb0bbf81323d87062db1f6d1c"])
	// The still-downloading item isn't advertised as available
	require.False(t, owned["bb8255ecdc7ca55fb0bbf81323d87062db1f6d1c"])
}

func TestOptionsTTL(t *testing.T) {
	opts := Options{RefreshInterval: 10 * time.Minute}
	require.Equal(t, 24*time.Hour, opts.TTL())

	opts.RefreshInterval = 10 * time.Hour
	require.Equal(t, 30*time.Hour, opts.TTL())
}

func TestCatalogSortAndPage(t *testing.T) {
	svc, _ := newTestService(t, DefaultOptions)

	// Default: newest first
	previews, err := svc.Catalog(context.Background(), CatalogRequest{})
	require.NoError(t, err)
	require.Len(t, previews, 3)
	require.Contains(t, previews[0].Name, "Some")
	require.Equal(t, "Inception", previews[1].Name)

	// Oldest first
	previews, err = svc.Catalog(context.Background(), CatalogRequest{Genre: GenreOldestFirst})
	require.NoError(t, err)
	require.Equal(t, "Breaking Bad", previews[0].Name)

	// Title ascending
	previews, err = svc.Catalog(context.Background(), CatalogRequest{Sort: SortTitle})
	require.NoError(t, err)
	require.Equal(t, "Breaking Bad", previews[0].Name)

	// Skip beyond the end
	previews, err = svc.Catalog(context.Background(), CatalogRequest{Skip: 100})
	require.NoError(t, err)
	require.Empty(t, previews)
}

func TestCatalogSearch(t *testing.T) {
	svc, _ := newTestService(t, DefaultOptions)

	previews, err := svc.Catalog(context.Background(), CatalogRequest{Search: "breaking bad"})
	require.NoError(t, err)
	require.NotEmpty(t, previews)
	require.Equal(t, "Breaking Bad", previews[0].Name)

	previews, err = svc.Catalog(context.Background(), CatalogRequest{Search: "zzzzqqqq"})
	require.NoError(t, err)
	require.Empty(t, previews)
}

func TestSearchScore(t *testing.T) {
	require.Equal(t, scoreExact, searchScore("Breaking Bad", "breaking bad"))
	require.Equal(t, scorePrefix, searchScore("Breaking Bad", "breaking"))
	require.Equal(t, scoreWordPrefix, searchScore("Breaking Bad", "bad"))
	require.Less(t, searchScore("Inception", "breaking"), scoreFuzzyFloor)
}

func TestMetaVideosAndIDs(t *testing.T) {
	svc, _ := newTestService(t, DefaultOptions)

	libID := idparser.LibraryID{ServiceID: "fake", Kind: "torrent", ItemID: "1"}
	meta, err := svc.Meta(context.Background(), libID)
	require.NoError(t, err)
	require.Equal(t, "Breaking Bad", meta.Name)
	require.Len(t, meta.Videos, 2)

	parsed, err := idparser.ParseLibraryID(meta.Videos[0].ID)
	require.NoError(t, err)
	require.Equal(t, "fake", parsed.ServiceID)
	require.Equal(t, "1", parsed.ItemID)
	require.Equal(t, "0", parsed.FileID)
	require.Equal(t, 2, meta.Videos[0].Season)
	require.Equal(t, 1, meta.Videos[0].Episode)

	// Two playable videos: no default video
	require.Nil(t, meta.BehaviorHints)

	// One playable video: default video set
	meta, err = svc.Meta(context.Background(), idparser.LibraryID{ServiceID: "fake", Kind: "torrent", ItemID: "2"})
	require.NoError(t, err)
	require.NotNil(t, meta.BehaviorHints)
	require.NotEmpty(t, meta.BehaviorHints.DefaultVideoID)
}

func TestMetaNotFound(t *testing.T) {
	svc, _ := newTestService(t, DefaultOptions)

	_, err := svc.Meta(context.Background(), idparser.LibraryID{ServiceID: "fake", Kind: "torrent", ItemID: "999"})
	require.True(t, debrid.IsKind(err, debrid.ErrNotFound))
}

func TestSearchConfirmedResults(t *testing.T) {
	svc, _ := newTestService(t, DefaultOptions)

	md := metadata.Metadata{Titles: []string{"Breaking Bad"}}
	id := idparser.ParsedID{Namespace: "imdb", Value: "tt0903747", Kind: idparser.KindSeries, Season: 2, Episode: 1}

	results, err := svc.Search(context.Background(), md, id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Confirmed)
	require.True(t, results[0].Library)
	require.True(t, results[0].Service.Cached)
	require.Equal(t, "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c", results[0].InfoHash)

	// Wrong season: the S02 pack doesn't cover S05
	id.Season = 5
	results, err = svc.Search(context.Background(), md, id)
	require.NoError(t, err)
	require.Empty(t, results)

	// Unrelated title
	md.Titles = []string{"Better Call Saul"}
	id.Season = 2
	results, err = svc.Search(context.Background(), md, id)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchSkipsUnplayable(t *testing.T) {
	svc, _ := newTestService(t, DefaultOptions)

	md := metadata.Metadata{Titles: []string{"Some Download In Progress"}}
	id := idparser.ParsedID{Namespace: "imdb", Value: "tt1", Kind: idparser.KindMovie}

	results, err := svc.Search(context.Background(), md, id)
	require.NoError(t, err)
	require.Empty(t, results)
}
