package session

import (
	"context"
	"net/http"

	"github.com/jjeffery/surrealsessions/storage"
)

type contextKey struct{}

type contextValue[S, U any] struct {
	session *Session[S]
	user    *storage.User[U]
}

// NewContext returns a copy of ctx that carries the session and its user.
func NewContext[S, U any](ctx context.Context, session *Session[S], user *storage.User[U]) context.Context {
	return context.WithValue(ctx, contextKey{}, contextValue[S, U]{session: session, user: user})
}

// FromContext returns the session and user stored in ctx by the manager's
// middleware. Both are nil if the request has no valid session, or if the
// type parameters do not match the manager's.
func FromContext[S, U any](ctx context.Context) (*Session[S], *storage.User[U]) {
	v, ok := ctx.Value(contextKey{}).(contextValue[S, U])
	if !ok {
		return nil, nil
	}
	return v.session, v.user
}

// Middleware validates the session cookie on each request, and makes the
// session and user available to next via FromContext. It sends a new session
// cookie when the session has been extended, and removes the session cookie
// when it does not refer to a valid session.
func (m *Manager[S, U]) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := m.ReadSessionCookie(r)
		if err != nil {
			m.logger.Debug().Err(err).Msg("invalid session cookie")
			http.SetCookie(w, m.BlankSessionCookie())
			next.ServeHTTP(w, r)
			return
		}
		if sessionID == "" {
			next.ServeHTTP(w, r)
			return
		}
		session, user, err := m.ValidateSession(r.Context(), sessionID)
		if err != nil {
			m.logger.Error().Err(err).Msg("cannot validate session")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		if session == nil {
			http.SetCookie(w, m.BlankSessionCookie())
			next.ServeHTTP(w, r)
			return
		}
		if session.Fresh {
			cookie, err := m.SessionCookie(session)
			if err != nil {
				m.logger.Error().Err(err).Msg("cannot refresh session cookie")
			} else {
				http.SetCookie(w, cookie)
			}
		}
		ctx := NewContext(r.Context(), session, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
