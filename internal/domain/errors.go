package domain

import "errors"

var (
	// ErrNotFound marks expected absence: a market slug that upstream has not
	// created yet, or a cache miss. Callers treat it as a skip, not a failure.
	ErrNotFound = errors.New("not found")

	ErrNotConnected = errors.New("websocket not connected")
	ErrUnresolved   = errors.New("market not resolved upstream")
)
