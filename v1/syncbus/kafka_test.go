package syncbus

import (
	"context"
	"os"
	"testing"
	"time"

	sarama "github.com/IBM/sarama"
	"github.com/google/uuid"
)

func newKafkaBus(t *testing.T) (*KafkaBus, context.Context) {
	t.Helper()
	addr := os.Getenv("LATCH_TEST_KAFKA_ADDR")
	if addr == "" {
		t.Skip("LATCH_TEST_KAFKA_ADDR not set, skipping Kafka integration tests")
	}
	t.Logf("TestKafkaBus: using real Kafka at %s", addr)

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	bus, err := NewKafkaBus([]string{addr}, config, WithTopic("latch-test-"+uuid.NewString()))
	if err != nil {
		t.Fatalf("NewKafkaBus: %v", err)
	}
	t.Cleanup(func() {
		bus.Close()
	})
	return bus, context.Background()
}

func TestKafkaBusPublishSubscribeFlowAndMetrics(t *testing.T) {
	bus, ctx := newKafkaBus(t)

	ch, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// give the partition consumer a moment to reach the head offset
	time.Sleep(500 * time.Millisecond)

	if err := bus.Publish(ctx, Event{Name: "orders"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Name != "orders" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for publish")
	}
	m := bus.Metrics()
	if m.Published != 1 {
		t.Fatalf("expected published 1 got %d", m.Published)
	}
}
