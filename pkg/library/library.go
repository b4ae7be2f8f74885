// Package library exposes a debrid service's owned items as a Stremio
// catalog and as confirmed stream candidates. All reads go through a
// snapshot cache so a burst of catalog, meta and stream requests costs
// at most one listing fetch per service.
package library

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/cache"
	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/lock"
	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

// Options configure the snapshot cache behavior.
type Options struct {
	// RefreshInterval is how often the snapshot should ideally be
	// re-fetched. The cache TTL is derived from it.
	RefreshInterval time.Duration
	// StaleThreshold is the age beyond which a snapshot is served stale
	// while a background refresh runs.
	StaleThreshold time.Duration
	// PageSize is the catalog page size.
	PageSize int
	// FetchTimeout bounds a single listing fetch.
	FetchTimeout time.Duration
}

var DefaultOptions = Options{
	RefreshInterval: 10 * time.Minute,
	StaleThreshold:  2 * time.Minute,
	PageSize:        100,
	FetchTimeout:    30 * time.Second,
}

// TTL returns the snapshot cache TTL: long enough that transient fetch
// failures serve stale data instead of nothing.
func (o Options) TTL() time.Duration {
	ttl := 3 * o.RefreshInterval
	if ttl < 24*time.Hour {
		ttl = 24 * time.Hour
	}
	return ttl
}

// Item is one owned download with its parsed release name.
type Item struct {
	ServiceID string
	Download  debrid.Download
	Parsed    titleparser.ParsedFile
}

// Snapshot is the cached state of a service's library.
type Snapshot struct {
	Items     []Item
	FetchedAt time.Time
}

// Service serves library operations for one debrid account.
type Service struct {
	client debrid.Service
	cache  cache.Cache
	locks  lock.Manager
	opts   Options
	logger *zap.Logger
}

func NewService(client debrid.Service, snapshotCache cache.Cache, locks lock.Manager, opts Options, logger *zap.Logger) *Service {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultOptions.PageSize
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultOptions.FetchTimeout
	}
	return &Service{
		client: client,
		cache:  snapshotCache,
		locks:  locks,
		opts:   opts,
		logger: logger,
	}
}

// ID returns the underlying service's ID.
func (s *Service) ID() string {
	return s.client.ID()
}

func (s *Service) snapshotKey() string {
	return "library:snapshot:" + s.client.ID()
}

// Snapshot returns the current library snapshot. Fresh entries are
// returned directly; stale ones are returned immediately while a refresh
// runs in the background; a miss blocks on a single-flight fetch.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	zapFieldService := zap.String("debridService", s.client.ID())

	var snap Snapshot
	meta, found, err := cache.GobGet(ctx, s.cache, s.snapshotKey(), &snap)
	if err != nil {
		s.logger.Error("Couldn't decode library snapshot", zap.Error(err), zapFieldService)
	} else if found {
		if !meta.Stale(s.opts.StaleThreshold) {
			return snap, nil
		}
		s.logger.Debug("Serving stale library snapshot, refreshing in background",
			zap.Duration("age", meta.Age()), zapFieldService)
		go s.backgroundRefresh()
		return snap, nil
	}

	return s.refresh(ctx, lock.Options{Timeout: s.opts.FetchTimeout, TTL: s.opts.FetchTimeout + 5*time.Second})
}

// Refresh invalidates the snapshot and fetches a new one.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	s.cache.Delete(ctx, s.snapshotKey())
	return s.refresh(ctx, lock.Options{Timeout: s.opts.FetchTimeout, TTL: s.opts.FetchTimeout + 5*time.Second})
}

// refresh fetches the library under a single-flight lock. Losers of the
// race block until the winner is done and then read the winner's result
// from the cache.
func (s *Service) refresh(ctx context.Context, lockOpts lock.Options) (Snapshot, error) {
	refreshKey := s.snapshotKey() + ":refresh"
	result, err := s.locks.WithLock(ctx, refreshKey, func(ctx context.Context) (interface{}, error) {
		// The winner may have refreshed while we waited for the lock
		var snap Snapshot
		if meta, found, err := cache.GobGet(ctx, s.cache, s.snapshotKey(), &snap); err == nil && found && !meta.Stale(s.opts.StaleThreshold) {
			return snap, nil
		}
		return s.fetch(ctx)
	}, lockOpts)
	if err != nil {
		return Snapshot{}, err
	}
	snap, ok := result.Value.(Snapshot)
	if !ok {
		return Snapshot{}, fmt.Errorf("Couldn't refresh library snapshot: unexpected result type %T", result.Value)
	}
	return snap, nil
}

// backgroundRefresh refreshes without blocking the reader that triggered
// it. Concurrent triggers collapse into one refresh; losers just drop.
func (s *Service) backgroundRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
	defer cancel()

	_, err := s.refresh(ctx, lock.Options{Timeout: 0, TTL: s.opts.FetchTimeout + 5*time.Second})
	if err == lock.ErrNotAcquired {
		return
	}
	if err != nil {
		s.logger.Error("Couldn't refresh library snapshot in background", zap.Error(err), zap.String("debridService", s.client.ID()))
	}
}

// fetch lists everything the account owns and caches the snapshot.
func (s *Service) fetch(ctx context.Context) (Snapshot, error) {
	zapFieldService := zap.String("debridService", s.client.ID())
	start := time.Now()

	var items []Item
	var fetchErr error
	fetched := false

	if tc, ok := s.client.(debrid.TorrentClient); ok {
		downloads, err := tc.ListTorrents(ctx)
		if err != nil {
			fetchErr = multierr.Append(fetchErr, fmt.Errorf("Couldn't list torrents: %w", err))
		} else {
			fetched = true
			for _, d := range downloads {
				items = append(items, newItem(s.client.ID(), d))
			}
		}
	}
	if uc, ok := s.client.(debrid.UsenetClient); ok {
		downloads, err := uc.ListUsenet(ctx)
		if err != nil {
			fetchErr = multierr.Append(fetchErr, fmt.Errorf("Couldn't list usenet downloads: %w", err))
		} else {
			fetched = true
			for _, d := range downloads {
				items = append(items, newItem(s.client.ID(), d))
			}
		}
	}

	// Partial results are better than none; fail only when nothing
	// could be listed.
	if !fetched {
		if fetchErr == nil {
			fetchErr = fmt.Errorf("service %v has no listable capabilities", s.client.ID())
		}
		return Snapshot{}, fetchErr
	}
	if fetchErr != nil {
		s.logger.Warn("Library fetch partially failed", zap.Error(fetchErr), zapFieldService)
	}

	snap := Snapshot{Items: items, FetchedAt: time.Now()}
	if err := cache.GobSet(ctx, s.cache, s.snapshotKey(), snap, s.opts.TTL()); err != nil {
		s.logger.Error("Couldn't cache library snapshot", zap.Error(err), zapFieldService)
	}
	s.logger.Debug("Fetched library snapshot",
		zap.Int("items", len(items)), zap.Duration("duration", time.Since(start)), zapFieldService)
	return snap, nil
}

func newItem(serviceID string, d debrid.Download) Item {
	return Item{
		ServiceID: serviceID,
		Download:  d,
		Parsed:    titleparser.Parse(d.Name),
	}
}

// OwnedHashes returns the content hashes of everything in the library
// snapshot, so availability checks can flag results the account
// already owns.
func (s *Service) OwnedHashes(ctx context.Context) (map[string]bool, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(snap.Items))
	for _, item := range snap.Items {
		// Unfinished downloads aren't available for playback yet
		if item.Download.Hash != "" && item.Download.Status.Playable() {
			owned[item.Download.Hash] = true
		}
	}
	return owned, nil
}

// find returns the item with the given kind and ID from the snapshot.
func (s *Service) find(ctx context.Context, kind, itemID string) (Item, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return Item{}, err
	}
	for _, item := range snap.Items {
		if item.Download.Kind == kind && item.Download.ID == itemID {
			return item, nil
		}
	}
	return Item{}, debrid.NewError(debrid.ErrNotFound, fmt.Errorf("item %v/%v not in library", kind, itemID))
}
