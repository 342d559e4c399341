// Package storage defines the Adapter interface used by the session manager
// to persist sessions and look up the users that own them.
//
// Sessions and users carry caller-defined attributes. The attribute types are
// type parameters: S for sessions and U for users. Use a struct with json tags
// for typed attributes, or map[string]any when the attributes are not known
// in advance.
package storage

import (
	"context"
	"time"
)

const (
	// MaxIDLength is the maximum allowed length of a session or user ID.
	MaxIDLength = 255
)

// Session is a session as seen by the session manager.
type Session[S any] struct {
	ID         string    // unique session identifier
	UserID     string    // identifier of the owning user
	ExpiresAt  time.Time // time that this session expires, and can be deleted
	Attributes S         // additional fields stored with the session
}

// User is the owner of one or more sessions.
type User[U any] struct {
	ID         string
	Attributes U
}

// Adapter is the interface used by the session manager for persisting sessions
// to a database. Users are created and deleted outside of the adapter; the adapter
// only reads them.
type Adapter[S, U any] interface {
	// DeleteSession deletes the session given its unique ID. It is not an error if
	// the session does not exist.
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteUserSessions deletes all sessions that belong to the user.
	DeleteUserSessions(ctx context.Context, userID string) error

	// GetSessionAndUser returns the session and the user that owns it. If there
	// is no matching session then both return values are nil, and so is the error.
	GetSessionAndUser(ctx context.Context, sessionID string) (*Session[S], *User[U], error)

	// GetUserSessions returns all sessions that belong to the user. If the user
	// has no sessions, an empty slice is returned.
	GetUserSessions(ctx context.Context, userID string) ([]*Session[S], error)

	// SetSession saves the session, replacing any existing session with the same ID.
	SetSession(ctx context.Context, session *Session[S]) error

	// UpdateSessionExpiration sets the expiry time of an existing session.
	UpdateSessionExpiration(ctx context.Context, sessionID string, expiresAt time.Time) error

	// DeleteExpiredSessions deletes every session that expired before the current time.
	DeleteExpiredSessions(ctx context.Context) error
}

// Expired reports whether the session has expired at time now.
func (s *Session[S]) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
