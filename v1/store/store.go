package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Store defines the operations the lock provider needs from a key-value
// backend.
type Store interface {
	// Add atomically creates the record if the key is absent. The boolean
	// return reports whether the record was created; false means the key
	// already exists and is not an error. A non-positive ttl stores the
	// record without expiry.
	Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// TTL returns the remaining lifetime of the record. The boolean return
	// is false when the key is absent, the record has no expiry, or the
	// backend does not track TTLs.
	TTL(ctx context.Context, key string) (time.Duration, bool, error)
	// Delete removes the record. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
	// Exists reports whether an unexpired record is present.
	Exists(ctx context.Context, key string) (bool, error)
}

type record struct {
	value     string
	expiresAt time.Time
}

// InMemoryStore is a Store backed by local memory, mainly for single-process
// use and testing.
type InMemoryStore struct {
	mu            sync.Mutex
	items         map[string]record
	sweepInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	adds      atomic.Uint64
	conflicts atomic.Uint64
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithSweepInterval sets the interval at which expired records are removed.
// A zero or negative duration disables the background sweeper.
func WithSweepInterval(d time.Duration) InMemoryOption {
	return func(s *InMemoryStore) {
		s.sweepInterval = d
	}
}

// defaultSweepInterval is the default period for removing expired records.
const defaultSweepInterval = time.Minute

// NewInMemory returns a new InMemoryStore instance.
func NewInMemory(opts ...InMemoryOption) *InMemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &InMemoryStore{
		items:         make(map[string]record),
		sweepInterval: defaultSweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweeper()
	}
	return s
}

// Add implements Store.Add.
func (s *InMemoryStore) Add(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	now := time.Now()
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.items[key]; ok {
		if r.expiresAt.IsZero() || now.Before(r.expiresAt) {
			s.conflicts.Add(1)
			return false, nil
		}
		// expired record, reclaim it
	}
	s.items[key] = record{value: value, expiresAt: exp}
	s.adds.Add(1)
	return true, nil
}

// TTL implements Store.TTL.
func (s *InMemoryStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	select {
	case <-ctx.Done():
		return 0, false, ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[key]
	if !ok || r.expiresAt.IsZero() {
		return 0, false, nil
	}
	d := time.Until(r.expiresAt)
	if d <= 0 {
		delete(s.items, key)
		return 0, false, nil
	}
	return d, true, nil
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Exists implements Store.Exists.
func (s *InMemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[key]
	if !ok {
		return false, nil
	}
	if !r.expiresAt.IsZero() && now.After(r.expiresAt) {
		delete(s.items, key)
		return false, nil
	}
	return true, nil
}

// sweeper periodically removes expired records. Lock keyspaces stay small,
// so a full scan per tick is cheaper than the sampling a value cache needs.
func (s *InMemoryStore) sweeper() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, r := range s.items {
				if !r.expiresAt.IsZero() && now.After(r.expiresAt) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		case <-s.ctx.Done():
			return
		}
	}
}

// Close terminates the background sweeper and clears the store.
func (s *InMemoryStore) Close() {
	s.cancel()
	s.wg.Wait()
	s.mu.Lock()
	s.items = make(map[string]record)
	s.mu.Unlock()
}

// Stats reports basic metrics about store usage.
type Stats struct {
	Adds      uint64
	Conflicts uint64
	Size      int
}

// Metrics returns current metrics for the store.
func (s *InMemoryStore) Metrics() Stats {
	s.mu.Lock()
	size := len(s.items)
	s.mu.Unlock()
	return Stats{
		Adds:      s.adds.Load(),
		Conflicts: s.conflicts.Load(),
		Size:      size,
	}
}
