package lock

import "sync"

// wakeSignal is a reusable set/unset event shared by every local waiter for
// one lock name. Set closes the current channel so all waiters racing on
// Wait unblock at once; Reset swaps in a fresh channel for the next round.
type wakeSignal struct {
	mu   sync.Mutex
	ch   chan struct{}
	set  bool
	refs int
}

func newWakeSignal() *wakeSignal {
	return &wakeSignal{ch: make(chan struct{})}
}

// Set marks the signal. No-op if already set.
func (s *wakeSignal) Set() {
	s.mu.Lock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
	s.mu.Unlock()
}

// Wait returns the channel that closes when the signal is set.
func (s *wakeSignal) Wait() <-chan struct{} {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	return ch
}

// Reset returns the signal to unset so it can be reused.
func (s *wakeSignal) Reset() {
	s.mu.Lock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
	s.mu.Unlock()
}

// waitRegistry maps lock names to wake signals. It is safe for concurrent
// use by waiters and by the bus dispatch goroutine. Entries are reference
// counted and dropped when the last local waiter leaves, so the map cannot
// grow with the number of distinct names ever contended.
type waitRegistry struct {
	mu      sync.Mutex
	signals map[string]*wakeSignal
}

func newWaitRegistry() *waitRegistry {
	return &waitRegistry{signals: make(map[string]*wakeSignal)}
}

// acquire returns the wake signal for name, creating it on first use.
func (r *waitRegistry) acquire(name string) *wakeSignal {
	r.mu.Lock()
	s, ok := r.signals[name]
	if !ok {
		s = newWakeSignal()
		r.signals[name] = s
	}
	s.refs++
	r.mu.Unlock()
	return s
}

// release drops one reference; the entry is removed once nobody waits.
func (r *waitRegistry) release(name string, s *wakeSignal) {
	r.mu.Lock()
	s.refs--
	if s.refs <= 0 && r.signals[name] == s {
		delete(r.signals, name)
	}
	r.mu.Unlock()
}

// signal sets the wake signal for name. No-op if nobody waits locally.
func (r *waitRegistry) signal(name string) {
	r.mu.Lock()
	s, ok := r.signals[name]
	r.mu.Unlock()
	if ok {
		s.Set()
	}
}

func (r *waitRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}
