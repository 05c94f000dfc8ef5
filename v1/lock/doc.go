// Package lock implements a named, TTL-bounded distributed lock on top of a
// store.Store and a syncbus.Bus. Ownership is arbitrated solely by the
// store's atomic create-if-absent; the bus only wakes waiters early so they
// do not have to sleep out their full polling backoff. Locks can have a TTL
// so a crashed holder cannot block a name forever.
package lock
