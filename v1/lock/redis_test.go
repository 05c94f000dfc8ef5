package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-latch/v1/store"
	"github.com/mirkobrombin/go-latch/v1/syncbus"
)

// newRedisProviders simulates two processes sharing one Redis: each gets its
// own client, store and bus, coupled only through the backend.
func newRedisProviders(t *testing.T) (*Provider, *Provider, context.Context) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	newProvider := func() (*Provider, *redis.Client) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		bus := syncbus.NewRedisBus(syncbus.RedisBusOptions{Client: client})
		p, err := New(store.NewRedis(client), bus)
		if err != nil {
			t.Fatalf("new provider: %v", err)
		}
		return p, client
	}
	a, clientA := newProvider()
	b, clientB := newProvider()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
		_ = clientA.Close()
		_ = clientB.Close()
		mr.Close()
	})
	return a, b, context.Background()
}

func TestRedisCrossProviderExclusion(t *testing.T) {
	a, b, ctx := newRedisProviders(t)

	h, err := a.Acquire(ctx, "job", WithTTL(0), WithWait(0))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := b.Acquire(ctx, "job", WithTTL(0), WithWait(0)); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired got %v", err)
	}
	if locked, err := b.IsLocked(ctx, "job"); err != nil || !locked {
		t.Fatalf("islocked: %v locked %v", err, locked)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	h2, err := b.Acquire(ctx, "job", WithTTL(0), WithWait(0))
	if err != nil {
		t.Fatalf("reacquire from other provider: %v", err)
	}
	_ = h2.Release(ctx)
}

func TestRedisCrossProviderEarlyWake(t *testing.T) {
	a, b, ctx := newRedisProviders(t)

	h, err := a.Acquire(ctx, "job", WithTTL(0), WithWait(0))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		h2, err := b.Acquire(ctx, "job", WithTTL(0), WithWait(10*time.Second))
		if err == nil {
			_ = h2.Release(ctx)
		}
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	if err := h.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired")
	}
	if elapsed := time.Since(start); elapsed > 900*time.Millisecond {
		t.Fatalf("waiter took %v, release notification did not cross providers", elapsed)
	}
}

func TestRedisPrefixIsolation(t *testing.T) {
	a, _, ctx := newRedisProviders(t)

	if _, err := a.Acquire(ctx, "job", WithTTL(0), WithWait(0)); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok, err := a.store.Exists(ctx, "latch:job"); err != nil || !ok {
		t.Fatalf("expected record under latch prefix, ok %v err %v", ok, err)
	}
	if ok, _ := a.store.Exists(ctx, "job"); ok {
		t.Fatal("record leaked outside the lock prefix")
	}
}
