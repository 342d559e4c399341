// Package postgres has a storage adapter that uses PostgreSQL tables.
//
// The session and user tables are expected to have the following structure:
//
//	create table <user_table>(
//	  id character varying(255) primary key,
//	  attributes jsonb null
//	)
//
//	create table <session_table>(
//	  id character varying(255) primary key,
//	  user_id character varying(255) not null,
//	  expires_at timestamp with time zone not null,
//	  attributes jsonb null
//	)
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jjeffery/errors"
	"github.com/jjeffery/surrealsessions/storage"
)

// Provider provides storage for sessions using PostgreSQL tables.
// It implements the storage.Adapter interface.
//
// The structure of the SQL tables is described in the package comment.
type Provider[S, U any] struct {
	db           *sql.DB
	sessionTable string
	userTable    string
}

var (
	// ensure Provider implements storage.Adapter
	_ storage.Adapter[map[string]any, map[string]any] = (*Provider[map[string]any, map[string]any])(nil)
)

// New creates a new Provider given a database handle and the PostgreSQL table names.
func New[S, U any](db *sql.DB, sessionTable, userTable string) *Provider[S, U] {
	if sessionTable == "" {
		sessionTable = "user_sessions"
	}
	if userTable == "" {
		userTable = "users"
	}
	return &Provider[S, U]{
		db:           db,
		sessionTable: sessionTable,
		userTable:    userTable,
	}
}

// CreateTables creates the session and user tables.
func (db *Provider[S, U]) CreateTables(ctx context.Context) error {
	errors := errors.With("sessionTable", db.sessionTable, "userTable", db.userTable)
	queries := []string{
		fmt.Sprintf(`create table if not exists %s(`+
			`id character varying(255) primary key,`+
			` attributes jsonb null)`, db.userTable),
		fmt.Sprintf(`create table if not exists %s(`+
			`id character varying(255) primary key,`+
			` user_id character varying(255) not null,`+
			` expires_at timestamp with time zone not null,`+
			` attributes jsonb null)`, db.sessionTable),
		fmt.Sprintf(`create index if not exists %s_user_id_idx on %s(user_id)`, db.sessionTable, db.sessionTable),
	}
	for _, query := range queries {
		if _, err := db.db.ExecContext(ctx, query); err != nil {
			return errors.Wrap(err, "cannot create table").With("query", query)
		}
	}
	return nil
}

// DropTables drops the session and user tables.
func (db *Provider[S, U]) DropTables(ctx context.Context) error {
	errors := errors.With("sessionTable", db.sessionTable, "userTable", db.userTable)
	for _, table := range []string{db.sessionTable, db.userTable} {
		query := fmt.Sprintf(`drop table if exists %s`, table)
		if _, err := db.db.ExecContext(ctx, query); err != nil {
			return errors.Wrap(err, "cannot drop table").With("table", table)
		}
	}
	return nil
}

// PutUser inserts or replaces a user. Users are not managed by the
// storage.Adapter interface, so applications and tests use this to create them.
func (db *Provider[S, U]) PutUser(ctx context.Context, user *storage.User[U]) error {
	errors := errors.With("user", user.ID, "table", db.userTable)
	data, err := json.Marshal(user.Attributes)
	if err != nil {
		return errors.Wrap(err, "cannot marshal attributes")
	}
	query := fmt.Sprintf(`insert into %s(id, attributes) values($1, $2)`+
		` on conflict(id) do update set attributes = $2`, db.userTable)
	if _, err := db.db.ExecContext(ctx, query, user.ID, string(data)); err != nil {
		return errors.Wrap(err, "cannot save user")
	}
	return nil
}

// DeleteSession implements the storage.Adapter interface.
func (db *Provider[S, U]) DeleteSession(ctx context.Context, sessionID string) error {
	errors := errors.With("session", sessionID, "table", db.sessionTable)
	query := fmt.Sprintf("delete from %s where id = $1", db.sessionTable)
	if _, err := db.db.ExecContext(ctx, query, sessionID); err != nil {
		return errors.Wrap(err, "cannot delete session")
	}
	return nil
}

// DeleteUserSessions implements the storage.Adapter interface.
func (db *Provider[S, U]) DeleteUserSessions(ctx context.Context, userID string) error {
	errors := errors.With("user", userID, "table", db.sessionTable)
	query := fmt.Sprintf("delete from %s where user_id = $1", db.sessionTable)
	if _, err := db.db.ExecContext(ctx, query, userID); err != nil {
		return errors.Wrap(err, "cannot delete user sessions")
	}
	return nil
}

// GetSessionAndUser implements the storage.Adapter interface.
func (db *Provider[S, U]) GetSessionAndUser(ctx context.Context, sessionID string) (*storage.Session[S], *storage.User[U], error) {
	errors := errors.With("session", sessionID, "table", db.sessionTable)
	query := fmt.Sprintf(`select s.user_id, s.expires_at, s.attributes, u.id, u.attributes`+
		` from %s s left join %s u on u.id = s.user_id`+
		` where s.id = $1`, db.sessionTable, db.userTable)

	var (
		userID         string
		expiresAt      time.Time
		sessionData    []byte
		foundUserID    sql.NullString
		userAttributes []byte
	)
	err := db.db.QueryRowContext(ctx, query, sessionID).Scan(
		&userID,
		&expiresAt,
		&sessionData,
		&foundUserID,
		&userAttributes,
	)
	if err == sql.ErrNoRows {
		// not found
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot get session").With("query", query)
	}
	session, err := newSession[S](sessionID, userID, expiresAt, sessionData)
	if err != nil {
		return nil, nil, err
	}
	if !foundUserID.Valid {
		return session, nil, nil
	}
	user := &storage.User[U]{ID: foundUserID.String}
	if err := unmarshal(userAttributes, &user.Attributes); err != nil {
		return nil, nil, errors.Wrap(err, "cannot unmarshal user attributes").With("user", userID)
	}
	return session, user, nil
}

// GetUserSessions implements the storage.Adapter interface.
func (db *Provider[S, U]) GetUserSessions(ctx context.Context, userID string) ([]*storage.Session[S], error) {
	errors := errors.With("user", userID, "table", db.sessionTable)
	query := fmt.Sprintf(`select id, expires_at, attributes from %s where user_id = $1 order by id`, db.sessionTable)
	rows, err := db.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "cannot query sessions").With("query", query)
	}
	defer rows.Close()

	sessions := make([]*storage.Session[S], 0)
	for rows.Next() {
		var (
			id        string
			expiresAt time.Time
			data      []byte
		)
		if err := rows.Scan(&id, &expiresAt, &data); err != nil {
			return nil, errors.Wrap(err, "cannot scan session")
		}
		session, err := newSession[S](id, userID, expiresAt, data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read sessions")
	}
	return sessions, nil
}

// SetSession implements the storage.Adapter interface.
func (db *Provider[S, U]) SetSession(ctx context.Context, session *storage.Session[S]) error {
	errors := errors.With("session", session.ID, "user", session.UserID, "table", db.sessionTable)
	data, err := json.Marshal(session.Attributes)
	if err != nil {
		return errors.Wrap(err, "cannot marshal attributes")
	}
	queryFmt := `insert into %s(id, user_id, expires_at, attributes) values($1, $2, $3, $4)` +
		` on conflict(id) do update set user_id = $2, expires_at = $3, attributes = $4`
	query := fmt.Sprintf(queryFmt, db.sessionTable)
	if _, err := db.db.ExecContext(ctx, query, session.ID, session.UserID, session.ExpiresAt, string(data)); err != nil {
		return errors.Wrap(err, "cannot save session")
	}
	return nil
}

// UpdateSessionExpiration implements the storage.Adapter interface.
func (db *Provider[S, U]) UpdateSessionExpiration(ctx context.Context, sessionID string, expiresAt time.Time) error {
	errors := errors.With("session", sessionID, "table", db.sessionTable)
	query := fmt.Sprintf("update %s set expires_at = $1 where id = $2", db.sessionTable)
	if _, err := db.db.ExecContext(ctx, query, expiresAt, sessionID); err != nil {
		return errors.Wrap(err, "cannot update session expiration")
	}
	return nil
}

// DeleteExpiredSessions implements the storage.Adapter interface.
func (db *Provider[S, U]) DeleteExpiredSessions(ctx context.Context) error {
	errors := errors.With("table", db.sessionTable)
	query := fmt.Sprintf("delete from %s where expires_at < now()", db.sessionTable)
	if _, err := db.db.ExecContext(ctx, query); err != nil {
		return errors.Wrap(err, "cannot delete expired sessions")
	}
	return nil
}

func newSession[S any](id, userID string, expiresAt time.Time, data []byte) (*storage.Session[S], error) {
	session := &storage.Session[S]{
		ID:        id,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	if err := unmarshal(data, &session.Attributes); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal session attributes").With("session", id)
	}
	return session, nil
}

// unmarshal decodes jsonb data, leaving v unchanged if the column is null.
func unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
