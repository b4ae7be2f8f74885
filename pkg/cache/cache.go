package cache

import (
	"context"
	"time"
)

// Meta carries the metadata that's stored alongside every cache entry.
// Callers use it to compute staleness for stale-while-revalidate reads.
type Meta struct {
	Created time.Time
	// TTL is the TTL the entry was written with, not the remaining one.
	TTL time.Duration
}

// Age returns how long ago the entry was created.
func (m Meta) Age() time.Duration {
	return time.Since(m.Created)
}

// Stale reports whether the entry is older than the given threshold.
// An entry can be stale but not yet expired - that's the window in which
// a reader returns the cached value and triggers a background refresh.
func (m Meta) Stale(threshold time.Duration) bool {
	return m.Age() > threshold
}

// Cache is a keyed TTL store with stale-tolerance metadata.
// All operations are non-throwing: on backend errors Get degrades to a miss
// and Set is best-effort. Implementations log backend errors themselves.
// Values are opaque bytes; use the Gob* helpers for typed values.
type Cache interface {
	// Get returns the value and its metadata. The bool signals a hit.
	Get(ctx context.Context, key string) ([]byte, Meta, bool)
	// Set writes the value with the given TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// TTL returns the remaining TTL of the entry. The bool signals existence.
	TTL(ctx context.Context, key string) (time.Duration, bool)
	// Delete removes the entry. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string)
	// Clear removes all entries of this cache (i.e. of this namespace).
	Clear(ctx context.Context)
}

var _ Cache = (*prefixed)(nil)

// prefixed namespaces all keys of a shared backend.
type prefixed struct {
	c      Cache
	prefix string
}

// NewPrefixed returns a Cache whose keys are all prefixed with the given
// namespace. Multiple namespaces can share one backend while keeping
// independent key spaces. Note that Clear clears the whole backend, so
// namespaces that need independent Clear semantics should use separate
// backend instances instead.
func NewPrefixed(c Cache, namespace string) Cache {
	return &prefixed{c: c, prefix: namespace + ":"}
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, Meta, bool) {
	return p.c.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	p.c.Set(ctx, p.prefix+key, value, ttl)
}

func (p *prefixed) TTL(ctx context.Context, key string) (time.Duration, bool) {
	return p.c.TTL(ctx, p.prefix+key)
}

func (p *prefixed) Delete(ctx context.Context, key string) {
	p.c.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Clear(ctx context.Context) {
	p.c.Clear(ctx)
}
