package surreal

import (
	"context"
	"time"

	"github.com/jjeffery/errors"
	"github.com/jjeffery/surrealsessions/storage"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// Default table names, used when Tables has an empty name.
const (
	DefaultSessionTable = "session"
	DefaultUserTable    = "user"
)

// SurrealQL statements issued by the Provider.
const (
	deleteSessionQuery           = "DELETE type::thing($session)"
	deleteUserSessionsQuery      = "DELETE type::table($sessionTable) WHERE user = type::thing($user)"
	getSessionAndUserQuery       = "SELECT * FROM type::thing($session) FETCH user"
	getSessionQuery              = "SELECT * FROM type::thing($session)"
	getUserSessionsQuery         = "SELECT * FROM type::table($sessionTable) WHERE user = type::thing($user) FETCH user"
	setSessionQuery              = "UPSERT type::thing($session) CONTENT $content"
	updateSessionExpirationQuery = "UPDATE type::thing($session) SET expires_at = type::datetime($expiresAt)"
	deleteExpiredSessionsQuery   = "DELETE type::table($sessionTable) WHERE expires_at < time::now()"
)

// Tables names the SurrealDB tables used for sessions and users.
type Tables struct {
	SessionTable string // table for storing sessions
	UserTable    string // table that users are stored in
}

// Provider stores sessions in a SurrealDB table. It implements the
// storage.Adapter interface.
//
// The session type parameter S and user type parameter U describe the
// attributes stored with each session and user record.
type Provider[S, U any] struct {
	db           Querier
	sessionTable string
	userTable    string
}

var (
	// ensure Provider implements storage.Adapter
	_ storage.Adapter[map[string]any, map[string]any] = (*Provider[map[string]any, map[string]any])(nil)
)

// New creates a new Provider given a database connection and the table names.
func New[S, U any](db Querier, tables Tables) *Provider[S, U] {
	if tables.SessionTable == "" {
		tables.SessionTable = DefaultSessionTable
	}
	if tables.UserTable == "" {
		tables.UserTable = DefaultUserTable
	}
	return &Provider[S, U]{
		db:           db,
		sessionTable: tables.SessionTable,
		userTable:    tables.UserTable,
	}
}

// Tables returns the table names used by the provider.
func (p *Provider[S, U]) Tables() Tables {
	return Tables{
		SessionTable: p.sessionTable,
		UserTable:    p.userTable,
	}
}

// DeleteSession implements the storage.Adapter interface.
func (p *Provider[S, U]) DeleteSession(ctx context.Context, sessionID string) error {
	errors := errors.With("session", sessionID, "table", p.sessionTable)
	_, err := p.db.Query(ctx, deleteSessionQuery, map[string]any{
		"session": p.sessionRecordID(sessionID),
	})
	if err != nil {
		return errors.Wrap(err, "cannot delete session")
	}
	return nil
}

// DeleteUserSessions implements the storage.Adapter interface.
func (p *Provider[S, U]) DeleteUserSessions(ctx context.Context, userID string) error {
	errors := errors.With("user", userID, "table", p.sessionTable)
	_, err := p.db.Query(ctx, deleteUserSessionsQuery, map[string]any{
		"sessionTable": models.Table(p.sessionTable),
		"user":         p.userRecordID(userID),
	})
	if err != nil {
		return errors.Wrap(err, "cannot delete user sessions")
	}
	return nil
}

// GetSessionAndUser implements the storage.Adapter interface. The user is
// fetched in the same query as the session.
func (p *Provider[S, U]) GetSessionAndUser(ctx context.Context, sessionID string) (*storage.Session[S], *storage.User[U], error) {
	errors := errors.With("session", sessionID, "table", p.sessionTable)
	rec, err := p.fetchOne(ctx, getSessionAndUserQuery, sessionID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot get session and user")
	}
	if rec == nil {
		// not found
		return nil, nil, nil
	}
	session, err := ToSession[S](rec)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot map session")
	}
	var user *storage.User[U]
	if userRec := asRecord(rec[fieldUser]); userRec != nil {
		user, err = ToUser[U](userRec)
		if err != nil {
			return nil, nil, errors.Wrap(err, "cannot map user")
		}
	}
	return session, user, nil
}

// GetSession returns the session without fetching its user. It returns
// nil if the session does not exist.
func (p *Provider[S, U]) GetSession(ctx context.Context, sessionID string) (*storage.Session[S], error) {
	errors := errors.With("session", sessionID, "table", p.sessionTable)
	rec, err := p.fetchOne(ctx, getSessionQuery, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot get session")
	}
	if rec == nil {
		return nil, nil
	}
	session, err := ToSession[S](rec)
	if err != nil {
		return nil, errors.Wrap(err, "cannot map session")
	}
	return session, nil
}

// GetUserSessions implements the storage.Adapter interface.
func (p *Provider[S, U]) GetUserSessions(ctx context.Context, userID string) ([]*storage.Session[S], error) {
	errors := errors.With("user", userID, "table", p.sessionTable)
	sets, err := p.db.Query(ctx, getUserSessionsQuery, map[string]any{
		"sessionTable": models.Table(p.sessionTable),
		"user":         p.userRecordID(userID),
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot get user sessions")
	}
	rows := firstResult(sets)
	sessions := make([]*storage.Session[S], 0, len(rows))
	for _, rec := range rows {
		session, err := ToSession[S](rec)
		if err != nil {
			return nil, errors.Wrap(err, "cannot map session")
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// SetSession implements the storage.Adapter interface. An existing session
// with the same ID is replaced.
func (p *Provider[S, U]) SetSession(ctx context.Context, session *storage.Session[S]) error {
	errors := errors.With("session", session.ID, "user", session.UserID, "table", p.sessionTable)
	content, err := FromSession(session, p.sessionTable, p.userTable)
	if err != nil {
		return err
	}
	// the record ID is given by $session
	delete(content, fieldID)
	_, err = p.db.Query(ctx, setSessionQuery, map[string]any{
		"session": p.sessionRecordID(session.ID),
		"content": content,
	})
	if err != nil {
		return errors.Wrap(err, "cannot set session")
	}
	return nil
}

// UpdateSessionExpiration implements the storage.Adapter interface.
func (p *Provider[S, U]) UpdateSessionExpiration(ctx context.Context, sessionID string, expiresAt time.Time) error {
	errors := errors.With("session", sessionID, "table", p.sessionTable)
	_, err := p.db.Query(ctx, updateSessionExpirationQuery, map[string]any{
		"session":   p.sessionRecordID(sessionID),
		"expiresAt": models.CustomDateTime{Time: expiresAt},
	})
	if err != nil {
		return errors.Wrap(err, "cannot update session expiration")
	}
	return nil
}

// DeleteExpiredSessions implements the storage.Adapter interface. The
// database server's clock decides which sessions have expired.
func (p *Provider[S, U]) DeleteExpiredSessions(ctx context.Context) error {
	errors := errors.With("table", p.sessionTable)
	_, err := p.db.Query(ctx, deleteExpiredSessionsQuery, map[string]any{
		"sessionTable": models.Table(p.sessionTable),
	})
	if err != nil {
		return errors.Wrap(err, "cannot delete expired sessions")
	}
	return nil
}

func (p *Provider[S, U]) fetchOne(ctx context.Context, query string, sessionID string) (Record, error) {
	sets, err := p.db.Query(ctx, query, map[string]any{
		"session": p.sessionRecordID(sessionID),
	})
	if err != nil {
		return nil, err
	}
	rows := firstResult(sets)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (p *Provider[S, U]) sessionRecordID(sessionID string) models.RecordID {
	return models.NewRecordID(p.sessionTable, sessionID)
}

func (p *Provider[S, U]) userRecordID(userID string) models.RecordID {
	return models.NewRecordID(p.userTable, userID)
}

// firstResult returns the rows of the first statement.
func firstResult(sets [][]Record) []Record {
	if len(sets) == 0 {
		return nil
	}
	return sets[0]
}

// asRecord returns v as a record if it is a fetched record, or nil if it
// is a bare record ID or missing.
func asRecord(v any) Record {
	switch r := v.(type) {
	case Record:
		return r
	case map[string]any:
		return Record(r)
	}
	return nil
}
