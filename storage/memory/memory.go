// Package memory has a memory-backed storage adapter for testing purposes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jjeffery/errors"
	"github.com/jjeffery/surrealsessions/internal/attrs"
	"github.com/jjeffery/surrealsessions/storage"
)

type sessionRecord struct {
	id        string
	userID    string
	expiresAt time.Time
	fields    map[string]any
}

// Provider implements the storage.Adapter interface using memory. It is intended for testing.
type Provider[S, U any] struct {
	// TimeNow is used to obtain the current time.
	TimeNow func() time.Time

	mutex    sync.RWMutex
	sessions map[string]*sessionRecord
	users    map[string]map[string]any
}

var (
	// ensure Provider implements storage.Adapter
	_ storage.Adapter[map[string]any, map[string]any] = (*Provider[map[string]any, map[string]any])(nil)
)

// New creates a new memory-backed Provider.
func New[S, U any]() *Provider[S, U] {
	return &Provider[S, U]{
		TimeNow: time.Now,
	}
}

// WithTimeNow sets the TimeNow function. It returns db.
func (db *Provider[S, U]) WithTimeNow(timeNow func() time.Time) *Provider[S, U] {
	if timeNow == nil {
		timeNow = time.Now
	}
	db.TimeNow = timeNow
	return db
}

// PutUser creates or replaces a user. Users are not managed by the
// storage.Adapter interface, so tests use this to create them.
func (db *Provider[S, U]) PutUser(ctx context.Context, user *storage.User[U]) error {
	fields, err := attrs.Encode(user.Attributes)
	if err != nil {
		return errors.Wrap(err, "cannot encode user").With("user", user.ID)
	}
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if db.users == nil {
		db.users = make(map[string]map[string]any)
	}
	db.users[user.ID] = fields
	return nil
}

// DeleteSession implements the storage.Adapter interface.
func (db *Provider[S, U]) DeleteSession(ctx context.Context, sessionID string) error {
	db.mutex.Lock()
	delete(db.sessions, sessionID)
	db.mutex.Unlock()
	return nil
}

// DeleteUserSessions implements the storage.Adapter interface.
func (db *Provider[S, U]) DeleteUserSessions(ctx context.Context, userID string) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	for id, rec := range db.sessions {
		if rec.userID == userID {
			delete(db.sessions, id)
		}
	}
	return nil
}

// GetSessionAndUser implements the storage.Adapter interface.
func (db *Provider[S, U]) GetSessionAndUser(ctx context.Context, sessionID string) (*storage.Session[S], *storage.User[U], error) {
	db.mutex.RLock()
	rec := db.sessions[sessionID]
	var userFields map[string]any
	var userFound bool
	if rec != nil {
		userFields, userFound = db.users[rec.userID]
	}
	db.mutex.RUnlock()

	if rec == nil {
		return nil, nil, nil
	}
	session, err := toSession[S](rec)
	if err != nil {
		return nil, nil, err
	}
	if !userFound {
		return session, nil, nil
	}
	attributes, err := attrs.Decode[U](userFields)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot decode user").With("user", rec.userID)
	}
	user := &storage.User[U]{
		ID:         rec.userID,
		Attributes: attributes,
	}
	return session, user, nil
}

// GetUserSessions implements the storage.Adapter interface. Sessions are
// returned in ID order.
func (db *Provider[S, U]) GetUserSessions(ctx context.Context, userID string) ([]*storage.Session[S], error) {
	db.mutex.RLock()
	var recs []*sessionRecord
	for _, rec := range db.sessions {
		if rec.userID == userID {
			recs = append(recs, rec)
		}
	}
	db.mutex.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].id < recs[j].id
	})
	sessions := make([]*storage.Session[S], 0, len(recs))
	for _, rec := range recs {
		session, err := toSession[S](rec)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// SetSession implements the storage.Adapter interface.
func (db *Provider[S, U]) SetSession(ctx context.Context, session *storage.Session[S]) error {
	fields, err := attrs.Encode(session.Attributes)
	if err != nil {
		return errors.Wrap(err, "cannot encode session").With("session", session.ID)
	}
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if db.sessions == nil {
		db.sessions = make(map[string]*sessionRecord)
	}
	db.sessions[session.ID] = &sessionRecord{
		id:        session.ID,
		userID:    session.UserID,
		expiresAt: session.ExpiresAt,
		fields:    fields,
	}
	return nil
}

// UpdateSessionExpiration implements the storage.Adapter interface.
func (db *Provider[S, U]) UpdateSessionExpiration(ctx context.Context, sessionID string, expiresAt time.Time) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if rec := db.sessions[sessionID]; rec != nil {
		cpy := *rec
		cpy.expiresAt = expiresAt
		db.sessions[sessionID] = &cpy
	}
	return nil
}

// DeleteExpiredSessions implements the storage.Adapter interface.
func (db *Provider[S, U]) DeleteExpiredSessions(ctx context.Context) error {
	now := db.TimeNow()
	db.mutex.Lock()
	defer db.mutex.Unlock()
	for id, rec := range db.sessions {
		if rec.expiresAt.Before(now) {
			delete(db.sessions, id)
		}
	}
	return nil
}

// toSession copies a record into a new session, decoding its attributes.
func toSession[S any](rec *sessionRecord) (*storage.Session[S], error) {
	attributes, err := attrs.Decode[S](rec.fields)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode session").With("session", rec.id)
	}
	return &storage.Session[S]{
		ID:         rec.id,
		UserID:     rec.userID,
		ExpiresAt:  rec.expiresAt,
		Attributes: attributes,
	}, nil
}
