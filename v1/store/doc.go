// Package store abstracts the key-value backend that arbitrates lock
// ownership. Correctness of the lock protocol rests entirely on Add being
// atomic: at most one unexpired record may exist per key at any instant.
// The in-memory backend spawns a background goroutine that periodically
// sweeps expired records; the sweep interval can be customized through
// options when creating the store.
package store
