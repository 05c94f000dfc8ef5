package syncbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	sarama "github.com/IBM/sarama"
)

const defaultKafkaTopic = "latch-released"

// KafkaBus implements Bus using a Kafka backend. All release events travel
// on one topic; consumers start at the newest offset since stale release
// events are worthless to a waiter.
type KafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	topic    string

	mu        sync.Mutex
	pc        sarama.PartitionConsumer
	chans     []chan Event
	published uint64
	delivered uint64
}

// KafkaOption configures a KafkaBus.
type KafkaOption func(*KafkaBus)

// WithTopic overrides the Kafka topic used for release events.
func WithTopic(topic string) KafkaOption {
	return func(b *KafkaBus) { b.topic = topic }
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers.
func NewKafkaBus(brokers []string, cfg *sarama.Config, opts ...KafkaOption) (*KafkaBus, error) {
	if !cfg.Producer.Return.Successes {
		cfg.Producer.Return.Successes = true
	}
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	b := &KafkaBus{
		producer: producer,
		consumer: consumer,
		topic:    defaultKafkaTopic,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{Topic: b.topic, Value: sarama.ByteEncoder(data)}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *KafkaBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 1)
	b.mu.Lock()
	if b.pc == nil {
		pc, err := b.consumer.ConsumePartition(b.topic, 0, sarama.OffsetNewest)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.pc = pc
		go b.dispatch(pc)
	}
	b.chans = append(b.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), ch)
	}()
	return ch, nil
}

func (b *KafkaBus) dispatch(pc sarama.PartitionConsumer) {
	for msg := range pc.Messages() {
		var ev Event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			continue
		}
		b.mu.Lock()
		chans := append([]chan Event(nil), b.chans...)
		b.mu.Unlock()
		for _, ch := range chans {
			select {
			case ch <- ev:
				atomic.AddUint64(&b.delivered, 1)
			default:
			}
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, ch <-chan Event) error {
	b.mu.Lock()
	for i, c := range b.chans {
		if c == ch {
			b.chans[i] = b.chans[len(b.chans)-1]
			b.chans = b.chans[:len(b.chans)-1]
			close(c)
			break
		}
	}
	if len(b.chans) > 0 || b.pc == nil {
		b.mu.Unlock()
		return nil
	}
	pc := b.pc
	b.pc = nil
	b.mu.Unlock()
	return pc.Close()
}

// Metrics returns the published and delivered counts.
func (b *KafkaBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}

// Close releases resources used by the KafkaBus.
func (b *KafkaBus) Close() {
	_ = b.producer.Close()
	_ = b.consumer.Close()
}
