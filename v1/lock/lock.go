package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/go-latch/v1/metrics"
	"github.com/mirkobrombin/go-latch/v1/store"
	"github.com/mirkobrombin/go-latch/v1/syncbus"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-latch/v1/lock")

// ErrNotAcquired is returned when the lock is held elsewhere and the wait
// budget is exhausted. It is a negative result, not an infrastructure
// failure; backend errors propagate separately.
var ErrNotAcquired = errors.New("latch: lock not acquired")

// ErrEmptyName is returned when the lock name is empty.
var ErrEmptyName = errors.New("latch: lock name must not be empty")

const (
	// DefaultTTL bounds how long a crashed holder can block a name.
	DefaultTTL = 20 * time.Minute
	// DefaultWait bounds how long Acquire waits for a contended name.
	DefaultWait = time.Minute

	// minPollDelay is the floor on the retry backoff, preventing tight
	// polling loops.
	minPollDelay = time.Second
	// fallbackPoll is used when the holder's record exposes no TTL.
	fallbackPoll = time.Second

	defaultPrefix = "latch:"
)

// lockRecord is the informational value stored under the lock key.
type lockRecord struct {
	Owner string `json:"o"`
	At    int64  `json:"t"` // UnixMilli
}

// Provider coordinates named locks through a shared store and wakes local
// waiters early on release notifications from the bus.
type Provider struct {
	store   store.Store
	bus     syncbus.Bus
	prefix  string
	defTTL  time.Duration
	defWait time.Duration
	owner   string
	waiters *waitRegistry

	sub       <-chan syncbus.Event
	busCtx    context.Context
	busCancel context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	traceEnabled bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithPrefix scopes lock keys under the given store prefix so they cannot
// collide with unrelated entries sharing the same backend.
func WithPrefix(prefix string) Option {
	return func(p *Provider) { p.prefix = prefix }
}

// WithDefaultTTL sets the default lock timeout. Zero means no expiry, so
// holders must explicitly release.
func WithDefaultTTL(d time.Duration) Option {
	return func(p *Provider) { p.defTTL = d }
}

// WithDefaultWait sets the default acquire timeout. Zero means a single
// attempt without waiting.
func WithDefaultWait(d time.Duration) Option {
	return func(p *Provider) { p.defWait = d }
}

// WithTracing enables OpenTelemetry tracing for lock operations.
func WithTracing() Option {
	return func(p *Provider) { p.traceEnabled = true }
}

// New returns a Provider backed by st that listens for release events on
// bus. A nil bus falls back to an in-memory bus, which is only useful for
// single-process deployments.
func New(st store.Store, bus syncbus.Bus, opts ...Option) (*Provider, error) {
	if bus == nil {
		bus = syncbus.NewInMemoryBus()
	}
	owner, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}
	p := &Provider{
		store:   st,
		bus:     bus,
		prefix:  defaultPrefix,
		defTTL:  DefaultTTL,
		defWait: DefaultWait,
		owner:   owner,
		waiters: newWaitRegistry(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.busCtx, p.busCancel = context.WithCancel(context.Background())
	ch, err := bus.Subscribe(p.busCtx)
	if err != nil {
		p.busCancel()
		return nil, fmt.Errorf("latch: subscribe: %w", err)
	}
	p.sub = ch
	p.wg.Add(1)
	go p.dispatch()
	return p, nil
}

// dispatch forwards release notifications to the wait registry. It may run
// concurrently with any number of waiters; the registry arbitrates.
func (p *Provider) dispatch() {
	defer p.wg.Done()
	for ev := range p.sub {
		p.waiters.signal(ev.Name)
	}
}

type acquireConfig struct {
	ttl  time.Duration
	wait time.Duration
}

// AcquireOption overrides the provider defaults for one Acquire call.
type AcquireOption func(*acquireConfig)

// WithTTL sets the lock timeout for this acquisition. Zero means the record
// never expires.
func WithTTL(d time.Duration) AcquireOption {
	return func(c *acquireConfig) { c.ttl = d }
}

// WithWait sets the acquire timeout for this acquisition. Zero means try
// once and return immediately on contention.
func WithWait(d time.Duration) AcquireOption {
	return func(c *acquireConfig) { c.wait = d }
}

// Acquire obtains the named lock, waiting up to the acquire timeout while it
// is held elsewhere. It returns ErrNotAcquired when outcompeted, ctx.Err()
// when the caller cancels, and a wrapped backend error when the store
// itself fails.
func (p *Provider) Acquire(ctx context.Context, name string, opts ...AcquireOption) (*Handle, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	cfg := acquireConfig{ttl: p.defTTL, wait: p.defWait}
	for _, opt := range opts {
		opt(&cfg)
	}

	var span trace.Span
	if p.traceEnabled {
		ctx, span = tracer.Start(ctx, "Lock.Acquire",
			trace.WithAttributes(attribute.String("latch.name", name)))
		defer span.End()
	}
	metrics.AcquireCounter.Inc()

	key := p.prefix + name
	deadline := time.Now().Add(cfg.wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := p.store.Add(ctx, key, p.record(), cfg.ttl)
		if err != nil {
			return nil, fmt.Errorf("latch: acquire %q: %w", name, err)
		}
		if ok {
			metrics.AcquiredCounter.Inc()
			if p.traceEnabled {
				span.SetAttributes(attribute.Bool("latch.acquired", true))
			}
			return &Handle{name: name, p: p}, nil
		}
		if cfg.wait <= 0 || !time.Now().Before(deadline) {
			if p.traceEnabled {
				span.SetAttributes(attribute.Bool("latch.acquired", false))
			}
			return nil, ErrNotAcquired
		}

		// Bound the wait by both the acquire deadline and the soonest the
		// holder's record can expire on its own.
		poll := fallbackPoll
		if d, known, err := p.store.TTL(ctx, key); err != nil {
			return nil, fmt.Errorf("latch: ttl %q: %w", name, err)
		} else if known {
			poll = d
		}
		delay := time.Until(deadline)
		if poll < delay {
			delay = poll
		}
		if delay < minPollDelay {
			delay = minPollDelay
		}

		metrics.ContendedCounter.Inc()
		sig := p.waiters.acquire(name)
		metrics.WaiterGauge.Inc()
		timer := time.NewTimer(delay)
		woken := false
		select {
		case <-timer.C:
		case <-sig.Wait():
			woken = true
		case <-ctx.Done():
			timer.Stop()
			p.waiters.release(name, sig)
			metrics.WaiterGauge.Dec()
			return nil, ctx.Err()
		}
		timer.Stop()
		sig.Reset()
		p.waiters.release(name, sig)
		metrics.WaiterGauge.Dec()
		if woken {
			metrics.EarlyWakeCounter.Inc()
		}
	}
}

// Release deletes the lock record and broadcasts a release notification.
// Deletion happens first so a waiter woken by the notification finds the
// record already gone. Releasing a name with no record is a no-op; there is
// no owner check, so callers are expected to release only what they hold.
func (p *Provider) Release(ctx context.Context, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	var span trace.Span
	if p.traceEnabled {
		ctx, span = tracer.Start(ctx, "Lock.Release",
			trace.WithAttributes(attribute.String("latch.name", name)))
		defer span.End()
	}
	if err := p.store.Delete(ctx, p.prefix+name); err != nil {
		return fmt.Errorf("latch: release %q: %w", name, err)
	}
	metrics.ReleaseCounter.Inc()
	// Best-effort: a lost notification only costs waiters latency, never
	// correctness, so bus failures are not surfaced to the holder.
	_ = p.bus.Publish(ctx, syncbus.Event{Name: name})
	return nil
}

// IsLocked reports whether a record currently exists for name. The answer
// may be stale the instant it returns; it is no substitute for Acquire.
func (p *Provider) IsLocked(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, ErrEmptyName
	}
	ok, err := p.store.Exists(ctx, p.prefix+name)
	if err != nil {
		return false, fmt.Errorf("latch: query %q: %w", name, err)
	}
	return ok, nil
}

// Owner returns the provider's identity, recorded in lock values.
func (p *Provider) Owner() string {
	return p.owner
}

// Close tears down the bus subscription. Locks already held stay valid and
// can still be released through their handles.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.busCancel()
		p.closeErr = p.bus.Unsubscribe(context.Background(), p.sub)
		p.wg.Wait()
	})
	return p.closeErr
}

func (p *Provider) record() string {
	data, _ := json.Marshal(lockRecord{Owner: p.owner, At: time.Now().UnixMilli()})
	return string(data)
}
