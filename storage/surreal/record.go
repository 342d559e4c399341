package surreal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jjeffery/errors"
	"github.com/jjeffery/surrealsessions/internal/attrs"
	"github.com/jjeffery/surrealsessions/storage"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// Field names used by session records in the session table. Every other
// field of a session record is a session attribute.
const (
	fieldID        = "id"
	fieldUser      = "user"
	fieldExpiresAt = "expires_at"
)

// Record is a single row returned by a SurrealDB query. Record identifiers
// are models.RecordID values and datetimes are models.CustomDateTime values.
type Record map[string]any

// datetimeHook lets attribute types use time.Time for SurrealDB datetime fields.
var datetimeHook = attrs.TimeHook(func(dt models.CustomDateTime) time.Time {
	return dt.Time
})

// ToSession maps a session record, as returned by the database, to a session.
// The user field can either be the fetched user record or the user's record ID.
func ToSession[S any](rec Record) (*storage.Session[S], error) {
	sessionID, err := localID(rec[fieldID])
	if err != nil {
		return nil, errors.Wrap(err, "invalid session id")
	}
	errors := errors.With("session", sessionID)

	var userID string
	switch user := rec[fieldUser].(type) {
	case nil:
		// absent, propagates as an empty user id
	case Record:
		userID, err = localID(user[fieldID])
	case map[string]any:
		userID, err = localID(user[fieldID])
	default:
		userID, err = localID(user)
	}
	if err != nil {
		return nil, errors.Wrap(err, "invalid user id")
	}

	expiresAt, err := toTime(rec[fieldExpiresAt])
	if err != nil {
		return nil, errors.Wrap(err, "invalid expires_at")
	}

	attributes, err := attrs.Decode[S](without(rec, fieldID, fieldUser, fieldExpiresAt), datetimeHook)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode session attributes")
	}

	return &storage.Session[S]{
		ID:         sessionID,
		UserID:     userID,
		ExpiresAt:  expiresAt,
		Attributes: attributes,
	}, nil
}

// ToUser maps a user record, as returned by the database, to a user.
func ToUser[U any](rec Record) (*storage.User[U], error) {
	userID, err := localID(rec[fieldID])
	if err != nil {
		return nil, errors.Wrap(err, "invalid user id")
	}
	attributes, err := attrs.Decode[U](without(rec, fieldID), datetimeHook)
	if err != nil {
		return nil, errors.Wrap(err, "cannot decode user attributes").With("user", userID)
	}
	return &storage.User[U]{
		ID:         userID,
		Attributes: attributes,
	}, nil
}

// FromSession maps a session to the content of a session record. The record IDs
// for the session and its user are built from the table names. Session
// attributes become top-level fields of the record.
func FromSession[S any](s *storage.Session[S], sessionTable, userTable string) (Record, error) {
	fields, err := attrs.Encode(s.Attributes)
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode session attributes").With("session", s.ID)
	}
	rec := make(Record, len(fields)+3)
	for k, v := range fields {
		switch k {
		case fieldID, fieldUser, fieldExpiresAt:
			return nil, errors.New("session attribute uses a reserved field name").With("session", s.ID, "field", k)
		}
		if t, ok := v.(time.Time); ok {
			v = models.CustomDateTime{Time: t}
		}
		rec[k] = v
	}
	rec[fieldID] = models.NewRecordID(sessionTable, s.ID)
	rec[fieldUser] = models.NewRecordID(userTable, s.UserID)
	rec[fieldExpiresAt] = models.CustomDateTime{Time: s.ExpiresAt}
	return rec, nil
}

// localID returns the local part of a record ID as a string. The table part
// is discarded: it is always known from configuration.
func localID(v any) (string, error) {
	switch id := v.(type) {
	case models.RecordID:
		return stringify(id.ID)
	case *models.RecordID:
		if id == nil {
			return "", errors.New("missing record id")
		}
		return stringify(id.ID)
	case string:
		// textual form "table:key"
		if _, key, ok := strings.Cut(id, ":"); ok && key != "" {
			return strings.Trim(key, "`⟨⟩"), nil
		}
		return "", errors.New("malformed record id").With("id", id)
	case nil:
		return "", errors.New("missing record id")
	}
	return "", errors.New("unexpected record id type").With("type", fmt.Sprintf("%T", v))
}

// stringify converts the local part of a record ID to a string.
func stringify(key any) (string, error) {
	switch k := key.(type) {
	case string:
		return k, nil
	case int:
		return strconv.Itoa(k), nil
	case int64:
		return strconv.FormatInt(k, 10), nil
	case uint64:
		return strconv.FormatUint(k, 10), nil
	case nil:
		return "", errors.New("record id has no key")
	}
	return fmt.Sprintf("%v", key), nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case models.CustomDateTime:
		return t.Time, nil
	case *models.CustomDateTime:
		if t == nil {
			return time.Time{}, nil
		}
		return t.Time, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	}
	return time.Time{}, errors.New("unexpected datetime type").With("type", fmt.Sprintf("%T", v))
}

// without returns a copy of rec without the named fields.
func without(rec Record, names ...string) map[string]any {
	m := make(map[string]any, len(rec))
	for k, v := range rec {
		m[k] = v
	}
	for _, name := range names {
		delete(m, name)
	}
	return m
}
