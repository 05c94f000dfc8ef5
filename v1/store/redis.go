package store

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
)

const defaultRedisOpTimeout = 5 * time.Second

// RedisStore implements Store using a Redis backend. Atomicity of Add is
// provided by SET NX, which makes the store safe to share across processes.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisStoreOptions)

type redisStoreOptions struct {
	timeout time.Duration
}

// WithTimeout sets the operation timeout for Redis calls.
func WithTimeout(d time.Duration) RedisOption {
	return func(o *redisStoreOptions) {
		o.timeout = d
	}
}

// NewRedis returns a new RedisStore using the provided Redis client.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	o := redisStoreOptions{timeout: defaultRedisOpTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore{client: client, timeout: o.timeout}
}

// Add implements Store.Add.
func (s *RedisStore) Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.client.SetNX(cctx, key, value, ttl).Result()
	if err != nil {
		return false, s.wrap("setnx", key, err)
	}
	return ok, nil
}

// TTL implements Store.TTL. Redis reports -1 for keys without expiry and -2
// for absent keys; both map to ok=false.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	d, err := s.client.PTTL(cctx, key).Result()
	if err != nil {
		return 0, false, s.wrap("pttl", key, err)
	}
	if d <= 0 {
		return 0, false, nil
	}
	return d, true, nil
}

// Delete implements Store.Delete.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.Del(cctx, key).Err(); err != nil {
		return s.wrap("del", key, err)
	}
	return nil
}

// Exists implements Store.Exists.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.client.Exists(cctx, key).Result()
	if err != nil {
		return false, s.wrap("exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) wrap(op, key string, err error) error {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("redis %s %q: %w", op, key, latcherrors.ErrTimeout)
	}
	if stdErrors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("redis %s %q: %w", op, key, latcherrors.ErrConnectionClosed)
	}
	return fmt.Errorf("redis %s %q: %w", op, key, err)
}
