package syncbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

const defaultNATSSubject = "latch.released"

// NATSBus implements Bus using a NATS backend.
type NATSBus struct {
	conn    *nats.Conn
	subject string

	mu        sync.Mutex
	sub       *nats.Subscription
	chans     []chan Event
	published uint64
	delivered uint64
}

// NATSOption configures a NATSBus.
type NATSOption func(*NATSBus)

// WithSubject overrides the NATS subject used for release events.
func WithSubject(subject string) NATSOption {
	return func(b *NATSBus) { b.subject = subject }
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn, opts ...NATSOption) *NATSBus {
	b := &NATSBus{conn: conn, subject: defaultNATSSubject}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, data); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Subscribe implements Bus.Subscribe. The first subscriber opens the NATS
// subscription; later subscribers share it.
func (b *NATSBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 1)
	b.mu.Lock()
	if b.sub == nil {
		sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
			var ev Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				return
			}
			b.mu.Lock()
			chans := append([]chan Event(nil), b.chans...)
			b.mu.Unlock()
			for _, c := range chans {
				select {
				case c <- ev:
					atomic.AddUint64(&b.delivered, 1)
				default:
				}
			}
		})
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.sub = sub
	}
	b.chans = append(b.chans, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), ch)
	}()
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, ch <-chan Event) error {
	b.mu.Lock()
	for i, c := range b.chans {
		if c == ch {
			b.chans[i] = b.chans[len(b.chans)-1]
			b.chans = b.chans[:len(b.chans)-1]
			close(c)
			break
		}
	}
	if len(b.chans) > 0 || b.sub == nil {
		b.mu.Unlock()
		return nil
	}
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	return sub.Unsubscribe()
}

// Metrics returns the published and delivered counts.
func (b *NATSBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}
