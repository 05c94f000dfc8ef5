package syncbus

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
)

const (
	redisBusTimeout     = 5 * time.Second
	defaultRedisChannel = "latch:released"

	// processed-id cap; the map is reset when it grows past this. Dedupe
	// only needs to cover messages in flight, not history.
	processedLimit = 4096
)

// redisPayload is the wire form of an Event plus a message id for dedupe.
type redisPayload struct {
	Name string `json:"n"`
	ID   string `json:"i"`
}

// RedisBus implements Bus using a single Redis pub/sub channel.
type RedisBus struct {
	client  *redis.Client
	channel string

	mu        sync.Mutex
	pubsub    *redis.PubSub
	chans     []chan Event
	processed map[string]struct{}
	closed    bool
	published atomic.Uint64
	delivered atomic.Uint64
}

// RedisBusOptions configures a RedisBus.
type RedisBusOptions struct {
	Client *redis.Client
	// Channel overrides the pub/sub channel name. Empty means the default.
	Channel string
}

// NewRedisBus returns a new RedisBus using the provided Redis client.
func NewRedisBus(opts RedisBusOptions) *RedisBus {
	channel := opts.Channel
	if channel == "" {
		channel = defaultRedisChannel
	}
	return &RedisBus{
		client:    opts.Client,
		channel:   channel,
		processed: make(map[string]struct{}),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return latcherrors.ErrTimeout
		}
		return err
	}
	data, err := json.Marshal(redisPayload{Name: ev.Name, ID: uuid.NewString()})
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	if err := b.client.Publish(cctx, b.channel, data).Err(); err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return latcherrors.ErrTimeout
		}
		if stdErrors.Is(err, redis.ErrClosed) {
			return latcherrors.ErrConnectionClosed
		}
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe. The first subscriber opens the Redis
// subscription; later subscribers share it.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, latcherrors.ErrTimeout
		}
		return nil, err
	}
	ch := make(chan Event, 1)
	backoff := 100 * time.Millisecond
	for {
		b.mu.Lock()
		if b.pubsub != nil {
			b.chans = append(b.chans, ch)
			b.mu.Unlock()
			break
		}
		b.mu.Unlock()

		cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
		ps := b.client.Subscribe(cctx, b.channel)
		_, err := ps.Receive(cctx)
		cancel()
		if err == nil {
			b.mu.Lock()
			b.pubsub = ps
			b.chans = append(b.chans, ch)
			b.mu.Unlock()
			go b.dispatch(ps)
			break
		}
		_ = ps.Close()
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, latcherrors.ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		jitter := time.Duration(rand.Int63n(int64(backoff)))
		time.Sleep(backoff + jitter)
		if backoff < time.Second {
			backoff *= 2
			if backoff > time.Second {
				backoff = time.Second
			}
		}
	}

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), ch)
	}()
	return ch, nil
}

func (b *RedisBus) dispatch(ps *redis.PubSub) {
	for msg := range ps.Channel() {
		var payload redisPayload
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			continue
		}
		b.mu.Lock()
		if _, ok := b.processed[payload.ID]; ok {
			b.mu.Unlock()
			continue
		}
		if len(b.processed) >= processedLimit {
			b.processed = make(map[string]struct{})
		}
		b.processed[payload.ID] = struct{}{}
		chans := append([]chan Event(nil), b.chans...)
		b.mu.Unlock()

		ev := Event{Name: payload.Name}
		for _, ch := range chans {
			select {
			case ch <- ev:
				b.delivered.Add(1)
			default:
			}
		}
	}
}

// Unsubscribe implements Bus.Unsubscribe. The last subscriber closes the
// Redis subscription.
func (b *RedisBus) Unsubscribe(ctx context.Context, ch <-chan Event) error {
	b.mu.Lock()
	for i, c := range b.chans {
		if c == ch {
			b.chans[i] = b.chans[len(b.chans)-1]
			b.chans = b.chans[:len(b.chans)-1]
			close(c)
			break
		}
	}
	if len(b.chans) > 0 || b.pubsub == nil {
		b.mu.Unlock()
		return nil
	}
	ps := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, redisBusTimeout)
	defer cancel()
	_ = ps.Unsubscribe(cctx, b.channel)
	if err := ps.Close(); err != nil {
		if stdErrors.Is(err, redis.ErrClosed) {
			return latcherrors.ErrConnectionClosed
		}
		return err
	}
	return nil
}

// Close drops every subscriber and closes the Redis subscription.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	chans := b.chans
	b.chans = nil
	ps := b.pubsub
	b.pubsub = nil
	b.mu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
	if ps != nil {
		return ps.Close()
	}
	return nil
}

// Metrics returns the published and delivered counts.
func (b *RedisBus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
	}
}
