package playback

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/cache"
	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/lock"
	"github.com/aiostreams/aiostreams/pkg/stream"
)

const testHash = "dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c"

// scriptedService returns its statuses in sequence on every Get/poll.
type scriptedService struct {
	statuses        []debrid.Status
	statusIndex     int32
	addCalls        int32
	addTorrentCalls int32
	generateCalls   int32
	removeCalls     int32
	files           []debrid.File
}

var _ debrid.Service = (*scriptedService)(nil)
var _ debrid.TorrentClient = (*scriptedService)(nil)

func (s *scriptedService) ID() string                          { return "fake" }
func (s *scriptedService) Name() string                        { return "Fake" }
func (s *scriptedService) TestToken(ctx context.Context) error { return nil }

func (s *scriptedService) CheckHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (s *scriptedService) current() debrid.Status {
	i := atomic.AddInt32(&s.statusIndex, 1) - 1
	if int(i) >= len(s.statuses) {
		return s.statuses[len(s.statuses)-1]
	}
	return s.statuses[i]
}

func (s *scriptedService) item() debrid.Download {
	return debrid.Download{
		ID: "42", Kind: "torrent", Name: "Inception.2010.1080p.BluRay.x264-GRP",
		Hash: testHash, Status: s.current(), Files: s.files,
	}
}

func (s *scriptedService) AddMagnet(ctx context.Context, magnet string) (debrid.Download, error) {
	atomic.AddInt32(&s.addCalls, 1)
	return s.item(), nil
}

func (s *scriptedService) AddTorrent(ctx context.Context, torrentURL string) (debrid.Download, error) {
	atomic.AddInt32(&s.addTorrentCalls, 1)
	return s.item(), nil
}

func (s *scriptedService) ListTorrents(ctx context.Context) ([]debrid.Download, error) {
	return nil, nil
}

func (s *scriptedService) GetTorrent(ctx context.Context, id string) (debrid.Download, error) {
	return s.item(), nil
}

func (s *scriptedService) RemoveTorrent(ctx context.Context, id string) error {
	atomic.AddInt32(&s.removeCalls, 1)
	return nil
}

func (s *scriptedService) GenerateTorrentLink(ctx context.Context, id string, file debrid.File) (string, error) {
	atomic.AddInt32(&s.generateCalls, 1)
	return "https://cdn.example.com/" + id + "/" + file.Name, nil
}

func defaultFiles() []debrid.File {
	return []debrid.File{
		{Index: 0, Name: "Inception.2010.1080p.BluRay.x264-GRP.mkv", Size: 10 << 30},
		{Index: 1, Name: "sample.mkv", Size: 50 << 20},
	}
}

func newResolver(t *testing.T, svc *scriptedService, opts Options) *Resolver {
	t.Helper()
	return NewResolver(map[string]debrid.Service{"fake": svc}, "cred", cache.NewInMemory(time.Minute), lock.NewMemory(), opts, zap.NewNop())
}

func movieInfo() Info {
	return Info{
		Type:      stream.TypeTorrent,
		Hash:      testHash,
		ServiceID: "fake",
		FileIndex: -1,
		Titles:    []string{"Inception"},
	}
}

func TestResolveDownloaded(t *testing.T) {
	svc := &scriptedService{statuses: []debrid.Status{debrid.StatusDownloaded}, files: defaultFiles()}
	r := newResolver(t, svc, Options{})

	url, err := r.Resolve(context.Background(), movieInfo(), false)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/42/Inception.2010.1080p.BluRay.x264-GRP.mkv", url)

	// Second resolve is served from the link cache
	url2, err := r.Resolve(context.Background(), movieInfo(), false)
	require.NoError(t, err)
	require.Equal(t, url, url2)
	require.Equal(t, int32(1), atomic.LoadInt32(&svc.generateCalls))
	require.Equal(t, int32(1), atomic.LoadInt32(&svc.addCalls))
}

func TestResolveNotCached(t *testing.T) {
	svc := &scriptedService{statuses: []debrid.Status{debrid.StatusDownloading}, files: defaultFiles()}
	r := newResolver(t, svc, Options{})

	_, err := r.Resolve(context.Background(), movieInfo(), false)
	require.ErrorIs(t, err, ErrNotCached)
	require.Equal(t, int32(1), atomic.LoadInt32(&svc.addCalls))

	// The negative verdict is cached: no second add within the window
	_, err = r.Resolve(context.Background(), movieInfo(), false)
	require.ErrorIs(t, err, ErrNotCached)
	require.Equal(t, int32(1), atomic.LoadInt32(&svc.addCalls))
}

func TestResolveDownloadURL(t *testing.T) {
	svc := &scriptedService{statuses: []debrid.Status{debrid.StatusDownloaded}, files: defaultFiles()}
	r := newResolver(t, svc, Options{AllowTorrentDownloadURL: true})

	// A .torrent URL goes through the torrent-file path, not the magnet one
	info := movieInfo()
	info.DownloadURL = "https://indexer.example.com/dl/42.torrent"
	_, err := r.Resolve(context.Background(), info, false)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&svc.addTorrentCalls))
	require.Equal(t, int32(0), atomic.LoadInt32(&svc.addCalls))

	// With torrent file URLs disallowed, the add falls back to the magnet
	svc = &scriptedService{statuses: []debrid.Status{debrid.StatusDownloaded}, files: defaultFiles()}
	r = newResolver(t, svc, Options{})
	info = movieInfo()
	info.DownloadURL = "https://indexer.example.com/dl/42.torrent"
	_, err = r.Resolve(context.Background(), info, false)
	require.NoError(t, err)
	require.Equal(t, int32(0), atomic.LoadInt32(&svc.addTorrentCalls))
	require.Equal(t, int32(1), atomic.LoadInt32(&svc.addCalls))
}

func TestResolveCacheAndPlayPolls(t *testing.T) {
	svc := &scriptedService{
		statuses: []debrid.Status{debrid.StatusDownloading, debrid.StatusDownloading, debrid.StatusDownloaded},
		files:    defaultFiles(),
	}
	r := newResolver(t, svc, Options{PollInterval: 5 * time.Millisecond, PollAttempts: 10})

	url, err := r.Resolve(context.Background(), movieInfo(), true)
	require.NoError(t, err)
	require.NotEmpty(t, url)
}

func TestResolveCacheAndPlayGivesUp(t *testing.T) {
	svc := &scriptedService{statuses: []debrid.Status{debrid.StatusDownloading}, files: defaultFiles()}
	r := newResolver(t, svc, Options{PollInterval: time.Millisecond, PollAttempts: 3})

	_, err := r.Resolve(context.Background(), movieInfo(), true)
	require.True(t, debrid.IsKind(err, debrid.ErrNotFound))
}

func TestResolveErrorState(t *testing.T) {
	svc := &scriptedService{statuses: []debrid.Status{debrid.StatusError}, files: defaultFiles()}
	r := newResolver(t, svc, Options{})

	_, err := r.Resolve(context.Background(), movieInfo(), false)
	require.True(t, debrid.IsKind(err, debrid.ErrUnknown))
}

func TestResolveAutoRemove(t *testing.T) {
	svc := &scriptedService{statuses: []debrid.Status{debrid.StatusDownloaded}, files: defaultFiles()}
	r := newResolver(t, svc, Options{AutoRemove: true})

	_, err := r.Resolve(context.Background(), movieInfo(), false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&svc.removeCalls) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestResolveNoRemoveForOwnedItems(t *testing.T) {
	svc := &scriptedService{statuses: []debrid.Status{debrid.StatusDownloaded}, files: defaultFiles()}
	r := newResolver(t, svc, Options{AutoRemove: true})

	info := movieInfo()
	info.ServiceItemID = "42"
	_, err := r.Resolve(context.Background(), info, false)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&svc.removeCalls))
	require.Equal(t, int32(0), atomic.LoadInt32(&svc.addCalls))
}

func TestResolveFileIndexPin(t *testing.T) {
	svc := &scriptedService{statuses: []debrid.Status{debrid.StatusDownloaded}, files: defaultFiles()}
	r := newResolver(t, svc, Options{})

	info := movieInfo()
	info.FileIndex = 1
	url, err := r.Resolve(context.Background(), info, false)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/42/sample.mkv", url)
}

func TestResolveUnknownService(t *testing.T) {
	r := newResolver(t, &scriptedService{statuses: []debrid.Status{debrid.StatusDownloaded}}, Options{})

	info := movieInfo()
	info.ServiceID = "nope"
	_, err := r.Resolve(context.Background(), info, false)
	require.True(t, debrid.IsKind(err, debrid.ErrNotFound))
}
