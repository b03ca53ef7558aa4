package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only if the caller still owns it.
// A plain DEL would let a holder whose TTL expired release somebody
// else's lock.
var releaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = holder token
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a cross-process Locking backed by SET NX with a TTL.
// The TTL guards against a crashed holder leaking the lock forever; pick it
// comfortably above the longest transaction the lock protects.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type RedisOptions struct {
	// TTL defaults to 30s.
	TTL time.Duration
	// Prefix defaults to "lock:".
	Prefix string
}

func NewRedis(client *redis.Client, opts RedisOptions) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("locking: redis client is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Prefix == "" {
		opts.Prefix = "lock:"
	}
	return &Redis{client: client, ttl: opts.TTL, prefix: opts.Prefix}, nil
}

func (r *Redis) WithExclusiveLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return fmt.Errorf("locking: key is required")
	}
	redisKey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("locking: acquire %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, key)
	}
	defer func() {
		// Release is best-effort; TTL cleans up after a failed release.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err()
	}()

	return fn(ctx)
}
