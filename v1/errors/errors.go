// Package errors defines sentinel errors shared by the latch backends.
package errors

import "errors"

var (
	// ErrTimeout is returned when a backend operation exceeds its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrConnectionClosed is returned when the backend connection is gone.
	ErrConnectionClosed = errors.New("connection closed")
)
