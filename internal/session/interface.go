package session

import "context"

// SessionStore is the single source of truth for session records. Rows
// are never hard-deleted; termination is recorded in place so the table
// doubles as an audit log.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	// GetActiveByUser returns the newest session for the user in an
	// active status, or ErrSessionNotFound.
	GetActiveByUser(ctx context.Context, userID string) (*Session, error)
	Update(ctx context.Context, session *Session) error
	ListActive(ctx context.Context) ([]*Session, error)
}
