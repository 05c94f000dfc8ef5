package lock

import (
	"context"
	"sync"
)

// Handle represents current ownership of a lock. It is returned only on a
// successful acquisition.
type Handle struct {
	name string
	p    *Provider
	once sync.Once
}

// Name returns the lock name this handle owns.
func (h *Handle) Name() string {
	return h.name
}

// Release ends the holder's claim. Only the first call has effect; repeat
// calls return nil, so deferred and explicit releases can coexist.
func (h *Handle) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		err = h.p.Release(ctx, h.name)
	})
	return err
}
