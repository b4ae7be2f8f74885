package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the lock is still held by someone else
// after waiting for the configured timeout.
var ErrNotAcquired = errors.New("lock not acquired within timeout")

// Options configure a single WithLock call.
type Options struct {
	// Timeout is the maximum time to wait for the lock when it's held by another caller.
	// A zero Timeout means "don't wait" - fail immediately if held.
	Timeout time.Duration
	// TTL bounds the maximum hold time. On expiry the lock auto-releases
	// even if the holder crashed or is still running fn.
	TTL time.Duration
}

// Result is the outcome of a WithLock call.
type Result struct {
	// Value is whatever fn returned. Only meaningful when Acquired is true.
	Value interface{}
	// Acquired signals whether this caller actually held the lock and ran fn.
	Acquired bool
}

// Manager provides named mutual exclusion across the cooperating process set.
//
// Used to serialize identical outbound upstream calls (request coalescing),
// make library refreshes single-flight and guarantee at-most-one
// "add then poll" sequence per resolve fingerprint.
//
// Re-entry on the same key from the same logical caller is not supported;
// callers must not self-recurse.
type Manager interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error), opts Options) (Result, error)
}
