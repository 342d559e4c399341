package session

import (
	"context"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/jjeffery/errors"
	"github.com/jjeffery/surrealsessions/internal/log"
	"github.com/jjeffery/surrealsessions/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultExpiresIn is the session lifetime used when Options.ExpiresIn is zero.
	DefaultExpiresIn = 30 * 24 * time.Hour

	// DefaultCookieName is the cookie name used when Options.CookieName is blank.
	DefaultCookieName = "auth_session"
)

// Session is a stored session as seen by the manager. Fresh is set when the
// session was created or had its expiry extended, meaning the session cookie
// should be sent to the client again.
type Session[S any] struct {
	storage.Session[S]
	Fresh bool
}

// Options control the behaviour of a Manager.
type Options struct {
	// ExpiresIn is the lifetime of a session. Sessions in the second half
	// of their lifetime are extended when validated.
	ExpiresIn time.Duration

	// CookieName is the name of the session cookie.
	CookieName string

	// Cookie holds the attributes of the session cookie. If Path is blank
	// then "/" is used. MaxAge is ignored, because the cookie expires
	// with its session.
	Cookie sessions.Options

	// Secret is the keying material for signing and encrypting the
	// session cookie. If empty, the cookie holds the plain session id.
	Secret []byte

	// OldSecrets are previous values of Secret. They are used to decode
	// cookies but never to encode them.
	OldSecrets [][]byte

	// Logger receives debug and error messages. If nil, the logger for
	// the "session" component is used.
	Logger *zerolog.Logger

	// TimeNow is used to obtain the current time. If nil, time.Now is used.
	TimeNow func() time.Time
}

// Manager creates, validates and invalidates sessions stored in an adapter.
// It is safe for concurrent use.
type Manager[S, U any] struct {
	adapter    storage.Adapter[S, U]
	expiresIn  time.Duration
	cookieName string
	cookie     sessions.Options
	encode     []securecookie.Codec
	decode     []securecookie.Codec
	logger     zerolog.Logger
	timeNow    func() time.Time
}

// New creates a session manager for the sessions stored in adapter.
func New[S, U any](adapter storage.Adapter[S, U], opts Options) *Manager[S, U] {
	m := &Manager[S, U]{
		adapter:    adapter,
		expiresIn:  opts.ExpiresIn,
		cookieName: opts.CookieName,
		cookie:     opts.Cookie,
		timeNow:    opts.TimeNow,
	}
	if m.expiresIn <= 0 {
		m.expiresIn = DefaultExpiresIn
	}
	if m.cookieName == "" {
		m.cookieName = DefaultCookieName
	}
	if m.cookie.Path == "" {
		m.cookie.Path = "/"
	}
	if m.timeNow == nil {
		m.timeNow = time.Now
	}
	if opts.Logger != nil {
		m.logger = *opts.Logger
	} else {
		m.logger = log.WithComponent("session")
	}
	if len(opts.Secret) > 0 {
		m.encode, m.decode = newCodecs(m.expiresIn, opts.Secret, opts.OldSecrets...)
	}
	return m
}

// ExpiresIn returns the session lifetime.
func (m *Manager[S, U]) ExpiresIn() time.Duration {
	return m.expiresIn
}

// CreateSession creates and stores a new session for the user.
func (m *Manager[S, U]) CreateSession(ctx context.Context, userID string, attributes S) (*Session[S], error) {
	errors := errors.With("user", userID)
	id, err := newSessionID()
	if err != nil {
		// this will only happen if the crypto RNG fails
		return nil, errors.Wrap(err, "cannot generate random session id")
	}
	session := &Session[S]{
		Session: storage.Session[S]{
			ID:         id,
			UserID:     userID,
			ExpiresAt:  m.timeNow().Add(m.expiresIn),
			Attributes: attributes,
		},
		Fresh: true,
	}
	if err := m.adapter.SetSession(ctx, &session.Session); err != nil {
		return nil, errors.Wrap(err, "cannot create session")
	}
	m.logger.Debug().Str("user", userID).Time("expires_at", session.ExpiresAt).Msg("session created")
	return session, nil
}

// ValidateSession returns the session and its user if the session exists and
// has not expired. If the session does not exist, has expired, or belongs to a
// user that no longer exists, ValidateSession returns nil for both. Expired
// sessions and sessions without a user are deleted.
//
// A session with less than half of its lifetime remaining is extended, and
// is returned with Fresh set.
func (m *Manager[S, U]) ValidateSession(ctx context.Context, sessionID string) (*Session[S], *storage.User[U], error) {
	errors := errors.With("session", sessionID)
	if sessionID == "" {
		return nil, nil, nil
	}
	stored, user, err := m.adapter.GetSessionAndUser(ctx, sessionID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot get session")
	}
	if stored == nil {
		return nil, nil, nil
	}
	if user == nil {
		m.logger.Warn().Str("user", stored.UserID).Msg("session belongs to missing user")
		if err := m.adapter.DeleteSession(ctx, sessionID); err != nil {
			return nil, nil, errors.Wrap(err, "cannot delete session")
		}
		return nil, nil, nil
	}

	now := m.timeNow()
	if stored.Expired(now) {
		if err := m.adapter.DeleteSession(ctx, sessionID); err != nil {
			return nil, nil, errors.Wrap(err, "cannot delete expired session")
		}
		return nil, nil, nil
	}

	session := &Session[S]{Session: *stored}
	if !now.Before(stored.ExpiresAt.Add(-m.expiresIn / 2)) {
		expiresAt := now.Add(m.expiresIn)
		if err := m.adapter.UpdateSessionExpiration(ctx, sessionID, expiresAt); err != nil {
			return nil, nil, errors.Wrap(err, "cannot extend session")
		}
		session.ExpiresAt = expiresAt
		session.Fresh = true
		m.logger.Debug().Str("user", stored.UserID).Time("expires_at", expiresAt).Msg("session extended")
	}
	return session, user, nil
}

// InvalidateSession deletes the session.
func (m *Manager[S, U]) InvalidateSession(ctx context.Context, sessionID string) error {
	if err := m.adapter.DeleteSession(ctx, sessionID); err != nil {
		return errors.Wrap(err, "cannot invalidate session").With("session", sessionID)
	}
	return nil
}

// InvalidateUserSessions deletes all sessions belonging to the user.
func (m *Manager[S, U]) InvalidateUserSessions(ctx context.Context, userID string) error {
	if err := m.adapter.DeleteUserSessions(ctx, userID); err != nil {
		return errors.Wrap(err, "cannot invalidate user sessions").With("user", userID)
	}
	m.logger.Debug().Str("user", userID).Msg("user sessions invalidated")
	return nil
}

// DeleteExpiredSessions deletes all expired sessions from storage.
func (m *Manager[S, U]) DeleteExpiredSessions(ctx context.Context) error {
	if err := m.adapter.DeleteExpiredSessions(ctx); err != nil {
		return errors.Wrap(err, "cannot delete expired sessions")
	}
	return nil
}

// GetUserSessions returns the user's sessions that have not expired.
func (m *Manager[S, U]) GetUserSessions(ctx context.Context, userID string) ([]*Session[S], error) {
	stored, err := m.adapter.GetUserSessions(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot get user sessions").With("user", userID)
	}
	now := m.timeNow()
	sessions := make([]*Session[S], 0, len(stored))
	for _, s := range stored {
		if s.Expired(now) {
			continue
		}
		sessions = append(sessions, &Session[S]{Session: *s})
	}
	return sessions, nil
}
