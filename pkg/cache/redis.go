package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var _ Cache = (*Redis)(nil)

// Redis is a Cache backed by a Redis server, for sharing cache entries
// across multiple cooperating processes.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// redisEntry is what's actually stored in Redis, so that the entry's
// creation time and configured TTL survive the round trip.
type redisEntry struct {
	Value   []byte
	Created time.Time
	TTL     time.Duration
}

// NewRedis creates a new Redis-backed cache.
// The client is shared with other components (e.g. the distributed lock).
func NewRedis(rdb *redis.Client, logger *zap.Logger) *Redis {
	return &Redis{
		rdb:    rdb,
		logger: logger,
	}
}

// Get implements the Cache interface.
func (c *Redis) Get(ctx context.Context, key string) ([]byte, Meta, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, Meta{}, false
	} else if err != nil {
		c.logger.Error("Couldn't get cache entry from Redis", zap.Error(err), zap.String("key", key))
		return nil, Meta{}, false
	}
	var entry redisEntry
	decoder := gob.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&entry); err != nil {
		c.logger.Error("Couldn't decode cache entry from Redis", zap.Error(err), zap.String("key", key))
		return nil, Meta{}, false
	}
	return entry.Value, Meta{Created: entry.Created, TTL: entry.TTL}, true
}

// Set implements the Cache interface.
func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	entry := redisEntry{
		Value:   value,
		Created: time.Now(),
		TTL:     ttl,
	}
	writer := bytes.Buffer{}
	encoder := gob.NewEncoder(&writer)
	if err := encoder.Encode(entry); err != nil {
		c.logger.Error("Couldn't encode cache entry for Redis", zap.Error(err), zap.String("key", key))
		return
	}
	if err := c.rdb.Set(ctx, key, writer.Bytes(), ttl).Err(); err != nil {
		c.logger.Error("Couldn't set cache entry in Redis", zap.Error(err), zap.String("key", key))
	}
}

// TTL implements the Cache interface.
func (c *Redis) TTL(ctx context.Context, key string) (time.Duration, bool) {
	remaining, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		c.logger.Error("Couldn't get TTL from Redis", zap.Error(err), zap.String("key", key))
		return 0, false
	}
	// -2: key doesn't exist; -1: key exists but has no TTL
	if remaining == -2*time.Second {
		return 0, false
	}
	if remaining < 0 {
		return 0, true
	}
	return remaining, true
}

// Delete implements the Cache interface.
func (c *Redis) Delete(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.logger.Error("Couldn't delete cache entry from Redis", zap.Error(err), zap.String("key", key))
	}
}

// Clear implements the Cache interface.
// It flushes the whole logical Redis DB, so each namespace that needs
// independent clearing must use its own DB index.
func (c *Redis) Clear(ctx context.Context) {
	if err := c.rdb.FlushDB(ctx).Err(); err != nil {
		c.logger.Error("Couldn't flush Redis DB", zap.Error(err))
	}
}
