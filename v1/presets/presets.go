// Package presets wires common backend combinations into ready-to-use lock
// providers.
package presets

import (
	"time"

	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-latch/v1/lock"
	"github.com/mirkobrombin/go-latch/v1/store"
	"github.com/mirkobrombin/go-latch/v1/syncbus"
)

const (
	breakerThreshold = 5
	breakerTimeout   = 30 * time.Second
)

// RedisOptions configures the connection to Redis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis creates a lock provider using Redis as both the lock store and
// the release bus. The publish path is wrapped in a circuit breaker so a
// degraded Redis pub/sub cannot stall releases; waiters then fall back to
// TTL-bounded polling.
func NewRedis(opts RedisOptions, lockOpts ...lock.Option) (*lock.Provider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	st := store.NewRedis(client)
	bus := syncbus.NewCircuitBreaker(
		syncbus.NewRedisBus(syncbus.RedisBusOptions{Client: client}),
		breakerThreshold, breakerTimeout)
	return lock.New(st, bus, lockOpts...)
}

// NewRedisWithNATS creates a lock provider using Redis as the lock store
// and NATS as the release bus.
func NewRedisWithNATS(opts RedisOptions, conn *nats.Conn, lockOpts ...lock.Option) (*lock.Provider, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	st := store.NewRedis(client)
	bus := syncbus.NewCircuitBreaker(syncbus.NewNATSBus(conn),
		breakerThreshold, breakerTimeout)
	return lock.New(st, bus, lockOpts...)
}

// NewStandalone creates a lock provider that runs entirely in-memory with
// no external dependencies. It only coordinates goroutines within one
// process; useful for local development and tests.
func NewStandalone(lockOpts ...lock.Option) (*lock.Provider, error) {
	st := store.NewInMemory()
	bus := syncbus.NewInMemoryBus()
	return lock.New(st, bus, lockOpts...)
}
