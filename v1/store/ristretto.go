package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoStore implements Store on top of dgraph-io/ristretto. Ristretto
// supplies the TTL bookkeeping; the internal mutex supplies the
// create-if-absent atomicity that ristretto itself does not. The atomicity
// is process-local, so this backend only coordinates goroutines within one
// process.
type RistrettoStore struct {
	mu sync.Mutex
	c  *ristretto.Cache
}

// RistrettoOption configures the underlying ristretto cache.
type RistrettoOption func(*ristretto.Config)

// WithRistretto applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistretto(cfg *ristretto.Config) RistrettoOption {
	return func(c *ristretto.Config) {
		if cfg == nil {
			return
		}
		*c = *cfg
	}
}

// NewRistretto returns a Store backed by ristretto.
func NewRistretto(opts ...RistrettoOption) *RistrettoStore {
	cfg := &ristretto.Config{
		NumCounters: 1e4,     // number of keys to track frequency of (10k).
		MaxCost:     1 << 20, // maximum cost of cache (1MB by default).
		BufferItems: 64,      // number of keys per Get buffer.
	}
	for _, opt := range opts {
		opt(cfg)
	}
	rc, err := ristretto.NewCache(cfg)
	if err != nil {
		panic(err)
	}
	return &RistrettoStore{c: rc}
}

// Add implements Store.Add.
func (s *RistrettoStore) Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	if ttl < 0 {
		ttl = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.c.Get(key); ok {
		return false, nil
	}
	if !s.c.SetWithTTL(key, value, 1, ttl) {
		return false, fmt.Errorf("ristretto rejected %q", key)
	}
	s.c.Wait()
	return true, nil
}

// TTL implements Store.TTL.
func (s *RistrettoStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	select {
	case <-ctx.Done():
		return 0, false, ctx.Err()
	default:
	}
	d, ok := s.c.GetTTL(key)
	if !ok || d <= 0 {
		return 0, false, nil
	}
	return d, true, nil
}

// Delete implements Store.Delete.
func (s *RistrettoStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	s.c.Del(key)
	s.c.Wait()
	s.mu.Unlock()
	return nil
}

// Exists implements Store.Exists.
func (s *RistrettoStore) Exists(ctx context.Context, key string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	_, ok := s.c.Get(key)
	return ok, nil
}

// Close releases resources held by the store.
func (s *RistrettoStore) Close() {
	s.c.Close()
}
