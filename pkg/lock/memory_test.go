package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithLockRunsFn(t *testing.T) {
	m := NewMemory()
	res, err := m.WithLock(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
		return 42, nil
	}, Options{Timeout: time.Second, TTL: time.Second})
	require.NoError(t, err)
	require.True(t, res.Acquired)
	require.Equal(t, 42, res.Value)
}

func TestWithLockMutualExclusion(t *testing.T) {
	m := NewMemory()
	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.WithLock(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&inside, 1)
				if n > atomic.LoadInt32(&maxInside) {
					atomic.StoreInt32(&maxInside, n)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil, nil
			}, Options{Timeout: 5 * time.Second, TTL: time.Minute})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
}

func TestWithLockSingleFlight(t *testing.T) {
	// With a zero wait timeout, concurrent callers on the same key must
	// lead to exactly one fn invocation; the rest fail fast.
	m := NewMemory()
	var invocations int32
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		m.WithLock(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
			atomic.AddInt32(&invocations, 1)
			close(started)
			<-release
			return nil, nil
		}, Options{TTL: time.Minute})
	}()
	<-started

	var wg sync.WaitGroup
	var notAcquired int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.WithLock(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
				atomic.AddInt32(&invocations, 1)
				return nil, nil
			}, Options{})
			if err == ErrNotAcquired {
				atomic.AddInt32(&notAcquired, 1)
			}
		}()
	}
	wg.Wait()
	close(release)

	require.Equal(t, int32(1), atomic.LoadInt32(&invocations))
	require.Equal(t, int32(10), atomic.LoadInt32(&notAcquired))
}

func TestWithLockDropsUnusedEntries(t *testing.T) {
	// Every distinct key locked once must not leave an entry behind, or
	// a long-running process accumulates one per fingerprint ever seen.
	m := NewMemory()
	for _, key := range []string{"a", "b", "c"} {
		_, err := m.WithLock(context.Background(), key, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, Options{Timeout: time.Second, TTL: time.Minute})
		require.NoError(t, err)
	}

	m.mu.Lock()
	remaining := len(m.locks)
	m.mu.Unlock()
	require.Zero(t, remaining)

	// An entry with waiters survives until the last one is done
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.WithLock(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
				time.Sleep(time.Millisecond)
				return nil, nil
			}, Options{Timeout: time.Second, TTL: time.Minute})
		}()
	}
	wg.Wait()
	m.mu.Lock()
	remaining = len(m.locks)
	m.mu.Unlock()
	require.Zero(t, remaining)
}

func TestWithLockTTLAutoRelease(t *testing.T) {
	m := NewMemory()
	blocked := make(chan struct{})
	go func() {
		m.WithLock(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
			close(blocked)
			time.Sleep(time.Second)
			return nil, nil
		}, Options{TTL: 20 * time.Millisecond})
	}()
	<-blocked

	// The first holder's TTL expires while its fn still runs, so a second
	// caller must be able to acquire well before the fn finishes.
	start := time.Now()
	res, err := m.WithLock(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, Options{Timeout: 500 * time.Millisecond, TTL: time.Minute})
	require.NoError(t, err)
	require.True(t, res.Acquired)
	require.Less(t, int64(time.Since(start)), int64(500*time.Millisecond))
}

func TestWithLockContextCancel(t *testing.T) {
	m := NewMemory()
	blocked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		m.WithLock(context.Background(), "k", func(ctx context.Context) (interface{}, error) {
			close(blocked)
			<-release
			return nil, nil
		}, Options{TTL: time.Minute})
	}()
	<-blocked
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := m.WithLock(ctx, "k", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	}, Options{Timeout: 5 * time.Second})
	require.ErrorIs(t, err, context.Canceled)
}
