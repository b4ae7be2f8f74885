package lock

import (
	"context"
	"sync"
	"time"
)

var _ Manager = (*Memory)(nil)

// Memory is an in-process Manager. It provides the full Manager contract
// for single-process deployments; multi-process deployments use Redis.
type Memory struct {
	mu    sync.Mutex
	locks map[string]*memLock
}

// memLock is a semaphore with capacity 1. Holding the token means holding the lock.
// refs counts the goroutines holding or waiting for the lock, so the
// entry can be dropped once nobody uses it anymore.
type memLock struct {
	ch   chan struct{}
	refs int
}

// NewMemory creates a new in-process lock manager.
func NewMemory() *Memory {
	return &Memory{
		locks: map[string]*memLock{},
	}
}

func (m *Memory) lockFor(key string) *memLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &memLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	return l
}

// put drops the caller's reference. The last one out deletes the
// entry, so the map doesn't grow with every fingerprint ever locked.
func (m *Memory) put(key string, l *memLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// WithLock implements the Manager interface.
func (m *Memory) WithLock(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error), opts Options) (Result, error) {
	l := m.lockFor(key)
	defer m.put(key, l)

	// Fast path
	select {
	case l.ch <- struct{}{}:
	default:
		if opts.Timeout <= 0 {
			return Result{}, ErrNotAcquired
		}
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		select {
		case l.ch <- struct{}{}:
		case <-timer.C:
			return Result{}, ErrNotAcquired
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	// The once guards against a double release when the TTL fires while fn is still running.
	var once sync.Once
	release := func() {
		once.Do(func() {
			<-l.ch
		})
	}
	if opts.TTL > 0 {
		ttlTimer := time.AfterFunc(opts.TTL, release)
		defer ttlTimer.Stop()
	}
	defer release()

	value, err := fn(ctx)
	return Result{Value: value, Acquired: true}, err
}
