package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

var _ Cache = (*InMemory)(nil)

// InMemory is a Cache backed by github.com/patrickmn/go-cache.
// It's the default backend when no Redis address is configured.
type InMemory struct {
	cache *gocache.Cache
}

type memoryEntry struct {
	Value []byte
	Meta  Meta
}

// NewInMemory creates a new in-memory cache.
// cleanupInterval controls how often expired entries are actually removed.
func NewInMemory(cleanupInterval time.Duration) *InMemory {
	return &InMemory{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

// Get implements the Cache interface.
func (c *InMemory) Get(_ context.Context, key string) ([]byte, Meta, bool) {
	entryIface, found := c.cache.Get(key)
	if !found {
		return nil, Meta{}, false
	}
	entry, ok := entryIface.(memoryEntry)
	if !ok {
		// Shouldn't happen - only Set writes to this cache
		return nil, Meta{}, false
	}
	return entry.Value, entry.Meta, true
}

// Set implements the Cache interface.
func (c *InMemory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	entry := memoryEntry{
		Value: value,
		Meta: Meta{
			Created: time.Now(),
			TTL:     ttl,
		},
	}
	if ttl == 0 {
		c.cache.Set(key, entry, gocache.NoExpiration)
	} else {
		c.cache.Set(key, entry, ttl)
	}
}

// TTL implements the Cache interface.
func (c *InMemory) TTL(_ context.Context, key string) (time.Duration, bool) {
	_, expiration, found := c.cache.GetWithExpiration(key)
	if !found {
		return 0, false
	}
	if expiration.IsZero() {
		// No expiry configured
		return 0, true
	}
	remaining := time.Until(expiration)
	if remaining < 0 {
		return 0, false
	}
	return remaining, true
}

// Delete implements the Cache interface.
func (c *InMemory) Delete(_ context.Context, key string) {
	c.cache.Delete(key)
}

// Clear implements the Cache interface.
func (c *InMemory) Clear(_ context.Context) {
	c.cache.Flush()
}

// ItemCount returns the number of entries, including not yet cleaned up expired ones.
func (c *InMemory) ItemCount() int {
	return c.cache.ItemCount()
}
