package main

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/aiostreams/aiostreams/pkg/cache"
	"github.com/aiostreams/aiostreams/pkg/lock"
	"github.com/aiostreams/aiostreams/pkg/logadapter"
)

// stores bundles the cache namespaces and the lock manager all request
// handling shares. With a Redis address configured everything lives in
// Redis, so multiple instances cooperate; otherwise tokens and
// availability results stay in memory and the expensive-to-rebuild data
// (library snapshots, metadata, playback links) persists in BadgerDB.
type stores struct {
	tokens       cache.Cache
	availability cache.Cache
	metadata     cache.Cache
	library      cache.Cache
	links        cache.Cache
	locks        lock.Manager

	db *badger.DB
}

func createStores(config config, logger *zap.Logger) (*stores, error) {
	if config.RedisAddr != "" {
		redisOpts := &redis.Options{
			Addr: config.RedisAddr,
		}
		if config.RedisCreds != "" {
			if username, password, ok := strings.Cut(config.RedisCreds, ":"); ok {
				redisOpts.Username = username
				redisOpts.Password = password
			} else {
				redisOpts.Password = config.RedisCreds
			}
		}
		rdb := redis.NewClient(redisOpts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, err
		}
		backend := cache.NewRedis(rdb, logger)
		return &stores{
			tokens:       cache.NewPrefixed(backend, "token"),
			availability: cache.NewPrefixed(backend, "availability"),
			metadata:     cache.NewPrefixed(backend, "metadata"),
			library:      cache.NewPrefixed(backend, "library"),
			links:        cache.NewPrefixed(backend, "link"),
			locks:        lock.NewRedis(rdb, logger),
		}, nil
	}

	badgerOpts := badger.DefaultOptions(config.StoragePath).
		WithLogger(logadapter.NewBadger2Zap(logger)).
		// The default is 2 GB, but the entries here are small
		WithValueLogFileSize(1024 * 1024 * 64)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	persistent := cache.NewBadger(db, logger)
	memory := cache.NewInMemory(10 * time.Minute)
	return &stores{
		tokens:       cache.NewPrefixed(memory, "token"),
		availability: cache.NewPrefixed(memory, "availability"),
		metadata:     cache.NewPrefixed(persistent, "metadata"),
		library:      cache.NewPrefixed(persistent, "library"),
		links:        cache.NewPrefixed(persistent, "link"),
		locks:        lock.NewMemory(),
		db:           db,
	}, nil
}

// close releases the persistent store, if one is open.
func (s *stores) close(logger *zap.Logger) {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		logger.Error("Couldn't close BadgerDB", zap.Error(err))
	}
}

// logStats logs the goroutine count and, when BadgerDB is used, the
// on-disk storage size every hour until the context is canceled.
func (s *stores) logStats(ctx context.Context, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fields := []zap.Field{zap.Int("goroutines", runtime.NumGoroutine())}
			if s.db != nil {
				lsm, vlog := s.db.Size()
				fields = append(fields,
					zap.Int64("badgerLSMbytes", lsm),
					zap.Int64("badgerVlogBytes", vlog))
			}
			logger.Info("Storage stats", fields...)
		}
	}
}

// runGC reclaims BadgerDB value log space in regular intervals until the
// context is canceled. No-op when Redis is used.
func (s *stores) runGC(ctx context.Context, logger *zap.Logger) {
	if s.db == nil {
		return
	}
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// RunValueLogGC only ever rewrites one file; loop until there's
			// nothing left to collect.
			for {
				if err := s.db.RunValueLogGC(0.5); err != nil {
					if err != badger.ErrNoRewrite {
						logger.Error("Couldn't run BadgerDB garbage collection", zap.Error(err))
					}
					break
				}
			}
		}
	}
}
