package lock

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// How often a waiter re-tries the acquisition while the lock is held.
const acquirePollInterval = 25 * time.Millisecond

// releaseScript deletes the lock key only if it still carries our token,
// so an expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

var _ Manager = (*Redis)(nil)

// Redis is a Manager backed by a Redis server, providing mutual exclusion
// across all processes that share the server.
type Redis struct {
	rdb       *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedis creates a new Redis-backed lock manager.
func NewRedis(rdb *redis.Client, logger *zap.Logger) *Redis {
	return &Redis{
		rdb:       rdb,
		keyPrefix: "lock:",
		logger:    logger,
	}
}

// WithLock implements the Manager interface.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error), opts Options) (Result, error) {
	redisKey := r.keyPrefix + key
	token := strconv.FormatInt(rand.Int63(), 36) + strconv.FormatInt(time.Now().UnixNano(), 36)
	ttl := opts.TTL
	if ttl <= 0 {
		// Redis requires an expiry; an unbounded hold would leak the key on a crash
		ttl = time.Minute
	}

	deadline := time.Now().Add(opts.Timeout)
	for {
		ok, err := r.rdb.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return Result{}, err
		}
		if ok {
			break
		}
		if opts.Timeout <= 0 || time.Now().After(deadline) {
			return Result{}, ErrNotAcquired
		}
		timer := time.NewTimer(acquirePollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		}
	}

	defer func() {
		// Release with a short detached context so the lock is freed even
		// when the request context is already cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.rdb, []string{redisKey}, token).Err(); err != nil && err != redis.Nil {
			r.logger.Error("Couldn't release lock", zap.Error(err), zap.String("key", key))
		}
	}()

	value, err := fn(ctx)
	return Result{Value: value, Acquired: true}, err
}
