// Package playback turns a stream candidate into a playable URL at the
// moment the user actually presses play. Resolution runs under a
// per-fingerprint lock so concurrent plays of the same content mint the
// link exactly once, and minted links are cached for their validity
// window.
package playback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/cache"
	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/fileselect"
	"github.com/aiostreams/aiostreams/pkg/lock"
	"github.com/aiostreams/aiostreams/pkg/stream"
	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

// ErrNotCached means the content isn't ready on the service yet and the
// request didn't ask to wait for it.
var ErrNotCached = debrid.NewError(debrid.ErrNotFound, fmt.Errorf("content not cached yet"))

// Info identifies what to resolve.
type Info struct {
	Type stream.Type
	// Hash is the info hash (torrents) or content digest (usenet).
	Hash string
	// NZB is the fetch URL for usenet content.
	NZB string
	// DownloadURL is an optional .torrent URL; used instead of a magnet
	// when torrent-file adds are allowed.
	DownloadURL string

	ServiceID string
	// ServiceItemID is set when the item already exists on the service
	// (library results). Such items are never auto-removed.
	ServiceItemID string

	// FileIndex pins the file directly; negative means "select".
	FileIndex int
	// Filename is the expected filename, used as a selection hint.
	Filename string

	// Titles and Episode drive file selection inside packs.
	Titles  []string
	Episode titleparser.EpisodeRequest

	// Private content is never auto-removed.
	Private bool
}

// Options configure the resolver.
type Options struct {
	// LinkValidity is how long a minted playback URL stays cached.
	LinkValidity time.Duration
	// NotCachedWindow is how long a "not cached yet" verdict is
	// remembered, so repeated clicks don't re-add the item.
	NotCachedWindow time.Duration
	// PollInterval and PollAttempts bound the cache-and-play wait.
	PollInterval time.Duration
	PollAttempts int
	// AllowTorrentDownloadURL permits adding items via .torrent URL
	// instead of a magnet.
	AllowTorrentDownloadURL bool
	// AutoRemove deletes transient items from the service after the
	// link was minted.
	AutoRemove bool
	// LockTimeout bounds waiting on a concurrent resolve of the same
	// fingerprint.
	LockTimeout time.Duration
}

var DefaultOptions = Options{
	LinkValidity:    3 * time.Hour,
	NotCachedWindow: 60 * time.Second,
	PollInterval:    11 * time.Second,
	PollAttempts:    10,
	LockTimeout:     30 * time.Second,
}

// cachedLink is the cache value; an empty URL is the negative
// "not cached yet" marker.
type cachedLink struct {
	URL string
}

// Resolver resolves playback URLs for one user's services.
type Resolver struct {
	services map[string]debrid.Service
	// credentialDigest isolates the link cache between users sharing
	// a deployment.
	credentialDigest string
	cache            cache.Cache
	locks            lock.Manager
	opts             Options
	logger           *zap.Logger
}

func NewResolver(services map[string]debrid.Service, credentialDigest string, linkCache cache.Cache, locks lock.Manager, opts Options, logger *zap.Logger) *Resolver {
	if opts.LinkValidity <= 0 {
		opts.LinkValidity = DefaultOptions.LinkValidity
	}
	if opts.NotCachedWindow <= 0 {
		opts.NotCachedWindow = DefaultOptions.NotCachedWindow
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions.PollInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = DefaultOptions.PollAttempts
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultOptions.LockTimeout
	}
	return &Resolver{
		services:         services,
		credentialDigest: credentialDigest,
		cache:            linkCache,
		locks:            locks,
		opts:             opts,
		logger:           logger,
	}
}

// fingerprint covers everything that influences which URL comes out.
func (r *Resolver) fingerprint(info Info, cacheAndPlay bool) string {
	sum := sha256.Sum256([]byte(info.Hash + "|" + info.ServiceID + "|" + r.credentialDigest + "|" +
		strconv.Itoa(info.Episode.Season) + ":" + strconv.Itoa(info.Episode.Episode) + ":" + strconv.Itoa(info.Episode.AbsoluteEpisode) + "|" +
		info.Filename + "|" + strconv.Itoa(info.FileIndex) + "|" + strconv.FormatBool(cacheAndPlay)))
	return "playback:" + hex.EncodeToString(sum[:])
}

// Resolve returns the playback URL for the stream, minting it if
// needed. ErrNotCached (wrapped) is returned when the content isn't
// ready and cacheAndPlay is off.
func (r *Resolver) Resolve(ctx context.Context, info Info, cacheAndPlay bool) (string, error) {
	svc, ok := r.services[info.ServiceID]
	if !ok {
		return "", debrid.NewError(debrid.ErrNotFound, fmt.Errorf("no configured service %q", info.ServiceID))
	}

	key := r.fingerprint(info, cacheAndPlay)
	lockTTL := r.opts.LockTimeout
	if cacheAndPlay {
		// The lock must outlive the polling ceiling
		lockTTL += time.Duration(r.opts.PollAttempts+1) * r.opts.PollInterval
	}

	result, err := r.locks.WithLock(ctx, key, func(ctx context.Context) (interface{}, error) {
		var link cachedLink
		if _, found, err := cache.GobGet(ctx, r.cache, key, &link); err == nil && found {
			if link.URL != "" {
				return link.URL, nil
			}
			if !cacheAndPlay {
				return "", ErrNotCached
			}
		}
		return r.mint(ctx, svc, info, cacheAndPlay, key)
	}, lock.Options{Timeout: r.opts.LockTimeout, TTL: lockTTL})
	if err != nil {
		return "", err
	}
	url, ok := result.Value.(string)
	if !ok {
		return "", fmt.Errorf("Couldn't resolve playback URL: unexpected result type %T", result.Value)
	}
	return url, nil
}

// mint acquires the item, waits for it if asked to, selects the file
// and generates the URL.
func (r *Resolver) mint(ctx context.Context, svc debrid.Service, info Info, cacheAndPlay bool, key string) (string, error) {
	zapFields := []zap.Field{
		zap.String("debridService", info.ServiceID),
		zap.String("hash", info.Hash),
	}

	item, transient, err := r.acquire(ctx, svc, info)
	if err != nil {
		return "", err
	}

	if item.Status == debrid.StatusError {
		return "", debrid.NewError(debrid.ErrUnknown, fmt.Errorf("download %v is in error state", item.ID))
	}
	if !item.Status.Playable() {
		// Remember the verdict so repeated clicks within the window
		// don't hammer the service
		if err := cache.GobSet(ctx, r.cache, key, cachedLink{}, r.opts.NotCachedWindow); err != nil {
			r.logger.Error("Couldn't cache not-cached marker", append(zapFields, zap.Error(err))...)
		}
		if !cacheAndPlay {
			return "", ErrNotCached
		}
		item, err = r.await(ctx, svc, info, item.ID)
		if err != nil {
			return "", err
		}
	}

	file := debrid.File{Index: info.FileIndex}
	if info.FileIndex < 0 {
		req := fileselect.NewRequest(info.Titles, info.Episode)
		req.ChosenFilename = info.Filename
		file, err = fileselect.Select(item.Files, req)
		if err != nil {
			return "", err
		}
	} else {
		for _, f := range item.Files {
			if f.Index == info.FileIndex {
				file = f
				break
			}
		}
	}

	url, err := r.generate(ctx, svc, info, item.ID, file)
	if err != nil {
		return "", err
	}

	if err := cache.GobSet(ctx, r.cache, key, cachedLink{URL: url}, r.opts.LinkValidity); err != nil {
		r.logger.Error("Couldn't cache playback URL", append(zapFields, zap.Error(err))...)
	}
	r.logger.Debug("Resolved playback URL", append(zapFields, zap.String("file", file.Name))...)

	if r.opts.AutoRemove && transient && !info.Private {
		go r.remove(svc, info, item.ID)
	}
	return url, nil
}

// acquire returns the service item, adding it when it doesn't exist
// yet. The second return says whether the item was added by us (and may
// be auto-removed later).
func (r *Resolver) acquire(ctx context.Context, svc debrid.Service, info Info) (debrid.Download, bool, error) {
	if info.Type == stream.TypeUsenet {
		uc, ok := svc.(debrid.UsenetClient)
		if !ok {
			return debrid.Download{}, false, debrid.NewError(debrid.ErrNotImplemented, fmt.Errorf("service %v has no usenet support", svc.ID()))
		}
		if info.ServiceItemID != "" {
			item, err := uc.GetUsenet(ctx, info.ServiceItemID)
			return item, false, err
		}
		item, err := uc.AddNZB(ctx, info.NZB, info.Filename)
		return item, true, err
	}

	tc, ok := svc.(debrid.TorrentClient)
	if !ok {
		return debrid.Download{}, false, debrid.NewError(debrid.ErrNotImplemented, fmt.Errorf("service %v has no torrent support", svc.ID()))
	}
	if info.ServiceItemID != "" {
		item, err := tc.GetTorrent(ctx, info.ServiceItemID)
		return item, false, err
	}
	if info.DownloadURL != "" && r.opts.AllowTorrentDownloadURL {
		item, err := tc.AddTorrent(ctx, info.DownloadURL)
		return item, true, err
	}
	item, err := tc.AddMagnet(ctx, debrid.BuildMagnet(info.Hash, info.Filename, debrid.DefaultTrackers))
	return item, true, err
}

// await polls until the item is downloaded or the attempts run out.
func (r *Resolver) await(ctx context.Context, svc debrid.Service, info Info, itemID string) (debrid.Download, error) {
	for attempt := 0; attempt < r.opts.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return debrid.Download{}, ctx.Err()
		case <-time.After(r.opts.PollInterval):
		}

		item, _, err := r.get(ctx, svc, info, itemID)
		if err != nil {
			return debrid.Download{}, err
		}
		if item.Status == debrid.StatusError {
			return debrid.Download{}, debrid.NewError(debrid.ErrUnknown, fmt.Errorf("download %v failed while waiting", itemID))
		}
		if item.Status.Playable() {
			return item, nil
		}
	}
	return debrid.Download{}, debrid.NewError(debrid.ErrNotFound, fmt.Errorf("download %v not ready after %d polls", itemID, r.opts.PollAttempts))
}

func (r *Resolver) get(ctx context.Context, svc debrid.Service, info Info, itemID string) (debrid.Download, bool, error) {
	if info.Type == stream.TypeUsenet {
		uc, ok := svc.(debrid.UsenetClient)
		if !ok {
			return debrid.Download{}, false, debrid.NewError(debrid.ErrNotImplemented, nil)
		}
		item, err := uc.GetUsenet(ctx, itemID)
		return item, true, err
	}
	tc, ok := svc.(debrid.TorrentClient)
	if !ok {
		return debrid.Download{}, false, debrid.NewError(debrid.ErrNotImplemented, nil)
	}
	item, err := tc.GetTorrent(ctx, itemID)
	return item, true, err
}

func (r *Resolver) generate(ctx context.Context, svc debrid.Service, info Info, itemID string, file debrid.File) (string, error) {
	if info.Type == stream.TypeUsenet {
		uc, ok := svc.(debrid.UsenetClient)
		if !ok {
			return "", debrid.NewError(debrid.ErrNotImplemented, nil)
		}
		return uc.GenerateUsenetLink(ctx, itemID, file)
	}
	tc, ok := svc.(debrid.TorrentClient)
	if !ok {
		return "", debrid.NewError(debrid.ErrNotImplemented, nil)
	}
	return tc.GenerateTorrentLink(ctx, itemID, file)
}

// remove is fire-and-forget: the playback URL stays valid, the item
// just no longer occupies the user's account.
func (r *Resolver) remove(svc debrid.Service, info Info, itemID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	if info.Type == stream.TypeUsenet {
		if uc, ok := svc.(debrid.UsenetClient); ok {
			err = uc.RemoveUsenet(ctx, itemID)
		}
	} else if tc, ok := svc.(debrid.TorrentClient); ok {
		err = tc.RemoveTorrent(ctx, itemID)
	}
	if err != nil {
		r.logger.Warn("Couldn't auto-remove download",
			zap.Error(err), zap.String("debridService", svc.ID()), zap.String("itemID", itemID))
	}
}
