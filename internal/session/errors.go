package session

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidState signals an operation that is illegal in the
	// session's current state, e.g. extending a session that is not
	// processing.
	ErrInvalidState = errors.New("operation not allowed in current session state")
)
