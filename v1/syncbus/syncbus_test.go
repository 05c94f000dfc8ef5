package syncbus

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, Event{Name: "orders"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Name != "orders" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	m := bus.Metrics()
	if m.Published != 1 || m.Delivered != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestInMemoryBusFanOut(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	ch1, _ := bus.Subscribe(ctx)
	ch2, _ := bus.Subscribe(ctx)
	_ = bus.Publish(ctx, Event{Name: "k"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for fan-out")
		}
	}
}

func TestInMemoryBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	ch, _ := bus.Subscribe(ctx)
	if err := bus.Unsubscribe(ctx, ch); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}
	// events after unsubscribe go nowhere
	if err := bus.Publish(ctx, Event{Name: "k"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestInMemoryBusContextBasedUnsubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	subCtx, cancel := context.WithCancel(context.Background())
	ch, _ := bus.Subscribe(subCtx)
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for context unsubscribe")
	}
}
