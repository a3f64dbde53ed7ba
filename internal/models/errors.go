package models

import "errors"

var (
	// ErrProtocol marks an inbound message that is malformed or missing required fields.
	ErrProtocol = errors.New("protocol error")
	// ErrNotFound marks an absent room, session or connection.
	ErrNotFound = errors.New("not found")
	// ErrStoreDegraded marks a failed durable-store lookup or write.
	ErrStoreDegraded = errors.New("store degraded")
	// ErrInvariant marks a broken internal invariant (programming error).
	ErrInvariant = errors.New("invariant violation")
	// ErrForbidden marks an action the sender is not allowed to perform.
	ErrForbidden = errors.New("forbidden")
)
