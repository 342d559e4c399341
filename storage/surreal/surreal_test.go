package surreal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jjeffery/surrealsessions/internal/testhelper"
	"github.com/jjeffery/surrealsessions/storage"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

var testTables = Tables{
	SessionTable: "session_table",
	UserTable:    "user_table",
}

type (
	sessionAttrs = testhelper.SessionAttributes
	userAttrs    = testhelper.UserAttributes
)

func TestProvider(t *testing.T) {
	testhelper.TestAdapter(t, testhelper.Fixture{
		NewAdapter: func(t *testing.T) testhelper.Adapter {
			return New[sessionAttrs, userAttrs](&fakeDB{}, testTables)
		},
		PutUser: func(t *testing.T, db testhelper.Adapter, user *storage.User[userAttrs]) {
			p := db.(*Provider[sessionAttrs, userAttrs])
			p.db.(*fakeDB).put(
				models.NewRecordID(p.userTable, user.ID),
				map[string]any{"username": user.Attributes.Username},
			)
		},
	})
}

func TestDefaultTables(t *testing.T) {
	p := New[map[string]any, map[string]any](&fakeDB{}, Tables{})
	want := Tables{SessionTable: "session", UserTable: "user"}
	if diff := cmp.Diff(want, p.Tables()); diff != "" {
		t.Fatalf("tables mismatch (-want +got):\n%s", diff)
	}
}

func TestSetSessionQuery(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{}
	p := New[sessionAttrs, userAttrs](db, testTables)
	expiresAt := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

	err := p.SetSession(ctx, &storage.Session[sessionAttrs]{
		ID:         "s1",
		UserID:     "alice",
		ExpiresAt:  expiresAt,
		Attributes: sessionAttrs{Alias: "x", OS: "linux"},
	})
	wantNoError(t, err)

	q := db.lastQuery()
	if got, want := q.sql, setSessionQuery; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	if got, want := q.vars["session"], models.NewRecordID("session_table", "s1"); !cmp.Equal(got, want) {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	wantContent := Record{
		"user":       models.NewRecordID("user_table", "alice"),
		"expires_at": models.CustomDateTime{Time: expiresAt},
		"alias":      "x",
		"os":         "linux",
	}
	if diff := cmp.Diff(wantContent, q.vars["content"]); diff != "" {
		t.Fatalf("content mismatch (-want +got):\n%s", diff)
	}
}

func TestTableParameters(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{}
	p := New[sessionAttrs, userAttrs](db, testTables)

	wantNoError(t, p.DeleteUserSessions(ctx, "alice"))
	q := db.lastQuery()
	if got, want := q.vars["sessionTable"], models.Table("session_table"); got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	if got, want := q.vars["user"], models.NewRecordID("user_table", "alice"); !cmp.Equal(got, want) {
		t.Fatalf("got=%v, want=%v", got, want)
	}

	wantNoError(t, p.DeleteExpiredSessions(ctx))
	q = db.lastQuery()
	if got, want := q.sql, deleteExpiredSessionsQuery; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	if got, want := q.vars["sessionTable"], models.Table("session_table"); got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
}

func TestGetSession(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{}
	p := New[sessionAttrs, userAttrs](db, testTables)
	db.put(models.NewRecordID("user_table", "alice"), map[string]any{"username": "alice"})
	db.put(models.NewRecordID("session_table", "s1"), map[string]any{
		"user":       models.NewRecordID("user_table", "alice"),
		"expires_at": models.CustomDateTime{Time: time.Now().Add(time.Hour)},
		"alias":      "x",
	})

	session, err := p.GetSession(ctx, "s1")
	wantNoError(t, err)
	if got, want := db.lastQuery().sql, getSessionQuery; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	if session == nil {
		t.Fatal("got=nil, want=non-nil")
	}
	if got, want := session.UserID, "alice"; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	if got, want := session.Attributes.Alias, "x"; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}

	session, err = p.GetSession(ctx, "missing")
	wantNoError(t, err)
	if session != nil {
		t.Fatalf("got=%v, want=nil", session)
	}
}

func TestDanglingUser(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{}
	p := New[sessionAttrs, userAttrs](db, testTables)
	db.put(models.NewRecordID("session_table", "orphan"), map[string]any{
		"user":       models.NewRecordID("user_table", "deleted"),
		"expires_at": models.CustomDateTime{Time: time.Now().Add(time.Hour)},
	})

	session, user, err := p.GetSessionAndUser(ctx, "orphan")
	wantNoError(t, err)
	if session == nil {
		t.Fatal("got=nil, want=non-nil")
	}
	if user != nil {
		t.Fatalf("got=%v, want=nil", user)
	}
}

func TestErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("connection refused")
	db := &fakeDB{err: cause}
	p := New[sessionAttrs, userAttrs](db, testTables)

	session, user, err := p.GetSessionAndUser(ctx, "s1")
	wantError(t, err, cause)
	if session != nil || user != nil {
		t.Fatalf("got=%v/%v, want=nil/nil", session, user)
	}
	sessions, err := p.GetUserSessions(ctx, "alice")
	wantError(t, err, cause)
	if sessions != nil {
		t.Fatalf("got=%v, want=nil", sessions)
	}
	wantError(t, p.DeleteSession(ctx, "s1"), cause)
	wantError(t, p.DeleteUserSessions(ctx, "alice"), cause)
	wantError(t, p.SetSession(ctx, &storage.Session[sessionAttrs]{ID: "s1", UserID: "alice"}), cause)
	wantError(t, p.UpdateSessionExpiration(ctx, "s1", time.Now()), cause)
	wantError(t, p.DeleteExpiredSessions(ctx), cause)

	// a single attempt each, no retries
	if got, want := len(db.queries), 7; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
}

func TestReservedAttribute(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{}
	p := New[map[string]any, map[string]any](db, testTables)
	err := p.SetSession(ctx, &storage.Session[map[string]any]{
		ID:         "s1",
		UserID:     "alice",
		ExpiresAt:  time.Now(),
		Attributes: map[string]any{"user": "mallory"},
	})
	if err == nil {
		t.Fatal("got=nil, want=non-nil")
	}
	if got, want := len(db.queries), 0; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	if got, want := db.count("session_table"), 0; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
}

func wantNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("got=%v, want=nil", err)
	}
}

// wantError checks that err is non-nil and still describes its cause.
func wantError(t *testing.T, err error, cause error) {
	t.Helper()
	if err == nil {
		t.Fatal("got=nil, want=non-nil")
	}
	if !strings.Contains(err.Error(), cause.Error()) {
		t.Fatalf("got=%v, want error containing %q", err, cause)
	}
	t.Logf("expected error: %v", err)
}
