package syncbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingBus struct {
	InMemoryBus
	fail bool
}

func (f *failingBus) Publish(ctx context.Context, ev Event) error {
	if f.fail {
		return errors.New("backend down")
	}
	return f.InMemoryBus.Publish(ctx, ev)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	fb := &failingBus{fail: true}
	cb := NewCircuitBreaker(fb, 2, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cb.Publish(ctx, Event{Name: "k"}); err == nil {
			t.Fatal("expected failure")
		}
	}
	if err := cb.Publish(ctx, Event{Name: "k"}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen got %v", err)
	}
	if cb.IsHealthy() {
		t.Fatal("breaker should be unhealthy while open")
	}
}

func TestCircuitBreakerRecovers(t *testing.T) {
	fb := &failingBus{fail: true}
	cb := NewCircuitBreaker(fb, 1, 20*time.Millisecond)
	ctx := context.Background()

	if err := cb.Publish(ctx, Event{Name: "k"}); err == nil {
		t.Fatal("expected failure")
	}
	time.Sleep(30 * time.Millisecond)
	fb.fail = false
	// half-open probe succeeds and closes the circuit
	if err := cb.Publish(ctx, Event{Name: "k"}); err != nil {
		t.Fatalf("probe publish: %v", err)
	}
	if err := cb.Publish(ctx, Event{Name: "k"}); err != nil {
		t.Fatalf("publish after recovery: %v", err)
	}
	if !cb.IsHealthy() {
		t.Fatal("breaker should be healthy after recovery")
	}
}

func TestCircuitBreakerPassesSubscriptions(t *testing.T) {
	fb := &failingBus{}
	cb := NewCircuitBreaker(fb, 1, time.Second)
	ctx := context.Background()

	ch, err := cb.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := cb.Publish(ctx, Event{Name: "k"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	if err := cb.Unsubscribe(ctx, ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
}
