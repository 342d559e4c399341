// Package testhelper has a common test suite for storage.Adapter implementations.
package testhelper

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jjeffery/surrealsessions/storage"
)

// SessionAttributes are the session attributes used by the test suite.
type SessionAttributes struct {
	Alias string `json:"alias"`
	OS    string `json:"os"`
}

// UserAttributes are the user attributes used by the test suite.
type UserAttributes struct {
	Username string `json:"username"`
}

// Adapter is the storage adapter type under test.
type Adapter = storage.Adapter[SessionAttributes, UserAttributes]

// Fixture supplies the backend-specific parts of the test suite.
type Fixture struct {
	// NewAdapter returns an adapter with no sessions and no users.
	NewAdapter func(t *testing.T) Adapter

	// PutUser creates a user. The storage.Adapter interface has no way
	// to create users, so each backend supplies its own.
	PutUser func(t *testing.T, db Adapter, user *storage.User[UserAttributes])
}

// TestAdapter runs a set of common tests on a storage.Adapter implementation.
func TestAdapter(t *testing.T, f Fixture) {
	tests := []struct {
		name string
		fn   func(t *testing.T, db Adapter, f Fixture)
	}{
		{"RoundTrip", roundTripTest},
		{"Replace", replaceTest},
		{"DeleteSession", deleteSessionTest},
		{"GetMissingSession", missingSessionTest},
		{"NoUserSessions", noUserSessionsTest},
		{"SharedUser", sharedUserTest},
		{"DeleteUserSessions", deleteUserSessionsTest},
		{"UpdateExpiration", updateExpirationTest},
		{"DeleteExpired", deleteExpiredTest},
		{"ExpiredExample", expiredExampleTest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := f.NewAdapter(t)
			tt.fn(t, db, f)
		})
	}
}

var (
	alice = &storage.User[UserAttributes]{
		ID:         "alice",
		Attributes: UserAttributes{Username: "alice"},
	}
	bob = &storage.User[UserAttributes]{
		ID:         "bob",
		Attributes: UserAttributes{Username: "bob"},
	}
)

// now returns the current time at millisecond precision, which every
// backend can store without loss.
func now() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

func newSession(id string, user *storage.User[UserAttributes], expiresAt time.Time, alias string) *storage.Session[SessionAttributes] {
	return &storage.Session[SessionAttributes]{
		ID:        id,
		UserID:    user.ID,
		ExpiresAt: expiresAt,
		Attributes: SessionAttributes{
			Alias: alias,
			OS:    "mockOS",
		},
	}
}

func roundTripTest(t *testing.T, db Adapter, f Fixture) {
	ctx := context.Background()
	f.PutUser(t, db, alice)
	want := newSession("round-trip", alice, now().Add(24*time.Hour), "poorSession")
	wantNoError(t, db.SetSession(ctx, want))

	session, user, err := db.GetSessionAndUser(ctx, want.ID)
	wantNoError(t, err)
	wantSession(t, session, want)
	wantUser(t, user, alice)

	sessions, err := db.GetUserSessions(ctx, alice.ID)
	wantNoError(t, err)
	if got, want := len(sessions), 1; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	wantSession(t, sessions[0], want)
}

func replaceTest(t *testing.T, db Adapter, f Fixture) {
	ctx := context.Background()
	f.PutUser(t, db, alice)
	s := newSession("replaced", alice, now().Add(time.Hour), "before")
	wantNoError(t, db.SetSession(ctx, s))
	s = newSession("replaced", alice, now().Add(2*time.Hour), "after")
	wantNoError(t, db.SetSession(ctx, s))

	session, _, err := db.GetSessionAndUser(ctx, s.ID)
	wantNoError(t, err)
	wantSession(t, session, s)
}

func deleteSessionTest(t *testing.T, db Adapter, f Fixture) {
	ctx := context.Background()
	f.PutUser(t, db, alice)
	keep := newSession("keep", alice, now().Add(time.Hour), "keep")
	gone := newSession("gone", alice, now().Add(time.Hour), "gone")
	wantNoError(t, db.SetSession(ctx, keep))
	wantNoError(t, db.SetSession(ctx, gone))

	wantNoError(t, db.DeleteSession(ctx, gone.ID))
	// second delete should succeed, even though the session is gone
	wantNoError(t, db.DeleteSession(ctx, gone.ID))
	// and so should deleting a session that never existed
	wantNoError(t, db.DeleteSession(ctx, "never-existed"))

	wantAbsent(t, db, gone.ID)
	session, _, err := db.GetSessionAndUser(ctx, keep.ID)
	wantNoError(t, err)
	wantSession(t, session, keep)
}

func missingSessionTest(t *testing.T, db Adapter, f Fixture) {
	wantAbsent(t, db, "does-not-exist")
}

func noUserSessionsTest(t *testing.T, db Adapter, f Fixture) {
	ctx := context.Background()
	f.PutUser(t, db, bob)
	sessions, err := db.GetUserSessions(ctx, bob.ID)
	wantNoError(t, err)
	if got, want := len(sessions), 0; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
}

func sharedUserTest(t *testing.T, db Adapter, f Fixture) {
	ctx := context.Background()
	f.PutUser(t, db, alice)
	second := newSession("second-session", alice, now().Add(time.Hour), "secondSession")
	third := newSession("third-session", alice, now().Add(time.Hour), "thirdSession")
	wantNoError(t, db.SetSession(ctx, second))
	wantNoError(t, db.SetSession(ctx, third))

	sessions, err := db.GetUserSessions(ctx, alice.ID)
	wantNoError(t, err)
	if got, want := sessionIDs(sessions), []string{second.ID, third.ID}; !cmp.Equal(got, want) {
		t.Fatalf("got=%v, want=%v", got, want)
	}

	for _, want := range []*storage.Session[SessionAttributes]{second, third} {
		session, user, err := db.GetSessionAndUser(ctx, want.ID)
		wantNoError(t, err)
		wantSession(t, session, want)
		wantUser(t, user, alice)
	}
}

func deleteUserSessionsTest(t *testing.T, db Adapter, f Fixture) {
	ctx := context.Background()
	f.PutUser(t, db, alice)
	f.PutUser(t, db, bob)
	wantNoError(t, db.SetSession(ctx, newSession("alice-1", alice, now().Add(time.Hour), "a1")))
	wantNoError(t, db.SetSession(ctx, newSession("alice-2", alice, now().Add(time.Hour), "a2")))
	wantNoError(t, db.SetSession(ctx, newSession("bob-1", bob, now().Add(time.Hour), "b1")))

	wantNoError(t, db.DeleteUserSessions(ctx, alice.ID))

	sessions, err := db.GetUserSessions(ctx, alice.ID)
	wantNoError(t, err)
	if got, want := len(sessions), 0; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	sessions, err = db.GetUserSessions(ctx, bob.ID)
	wantNoError(t, err)
	if got, want := sessionIDs(sessions), []string{"bob-1"}; !cmp.Equal(got, want) {
		t.Fatalf("got=%v, want=%v", got, want)
	}
}

func updateExpirationTest(t *testing.T, db Adapter, f Fixture) {
	ctx := context.Background()
	f.PutUser(t, db, alice)
	s := newSession("update-expiration", alice, now().Add(time.Hour), "update")
	wantNoError(t, db.SetSession(ctx, s))

	y2k38 := time.Date(2038, 1, 19, 3, 14, 7, 0, time.UTC)
	wantNoError(t, db.UpdateSessionExpiration(ctx, s.ID, y2k38))
	session, _, err := db.GetSessionAndUser(ctx, s.ID)
	wantNoError(t, err)
	if got, want := session.ExpiresAt, y2k38; !got.Equal(want) {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	// attributes are untouched
	if got, want := session.Attributes, s.Attributes; got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
}

func deleteExpiredTest(t *testing.T, db Adapter, f Fixture) {
	ctx := context.Background()
	f.PutUser(t, db, alice)
	f.PutUser(t, db, bob)
	live := newSession("live", alice, now().Add(time.Hour), "live")
	expiring := newSession("expiring", alice, now().Add(time.Hour), "expiring")
	other := newSession("other", bob, now().Add(time.Hour), "other")
	for _, s := range []*storage.Session[SessionAttributes]{live, expiring, other} {
		wantNoError(t, db.SetSession(ctx, s))
	}

	tblDate := time.Date(1991, 8, 6, 0, 0, 0, 0, time.UTC)
	wantNoError(t, db.UpdateSessionExpiration(ctx, expiring.ID, tblDate))
	wantNoError(t, db.DeleteExpiredSessions(ctx))

	wantAbsent(t, db, expiring.ID)
	for _, want := range []*storage.Session[SessionAttributes]{live, other} {
		session, _, err := db.GetSessionAndUser(ctx, want.ID)
		wantNoError(t, err)
		wantSession(t, session, want)
	}
}

func expiredExampleTest(t *testing.T, db Adapter, f Fixture) {
	ctx := context.Background()
	f.PutUser(t, db, alice)
	s1 := &storage.Session[SessionAttributes]{
		ID:         "s1",
		UserID:     alice.ID,
		ExpiresAt:  now().Add(-24 * time.Hour),
		Attributes: SessionAttributes{Alias: "x"},
	}
	wantNoError(t, db.SetSession(ctx, s1))
	wantNoError(t, db.DeleteExpiredSessions(ctx))
	wantAbsent(t, db, s1.ID)
}

func sessionIDs(sessions []*storage.Session[SessionAttributes]) []string {
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}

func wantAbsent(t *testing.T, db Adapter, sessionID string) {
	t.Helper()
	session, user, err := db.GetSessionAndUser(context.Background(), sessionID)
	wantNoError(t, err)
	if session != nil {
		t.Fatalf("got=%v, want=nil", session)
	}
	if user != nil {
		t.Fatalf("got=%v, want=nil", user)
	}
}

func wantSession(t *testing.T, got, want *storage.Session[SessionAttributes]) {
	t.Helper()
	if got == nil {
		t.Fatalf("got=nil, want=%v", want)
	}
	if got.ID != want.ID || got.UserID != want.UserID {
		t.Fatalf("got=%s/%s, want=%s/%s", got.ID, got.UserID, want.ID, want.UserID)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Fatalf("expires_at: got=%v, want=%v", got.ExpiresAt, want.ExpiresAt)
	}
	if diff := cmp.Diff(want.Attributes, got.Attributes); diff != "" {
		t.Fatalf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func wantUser(t *testing.T, got, want *storage.User[UserAttributes]) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("user mismatch (-want +got):\n%s", diff)
	}
}

func wantNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("got=%v, want=nil", err)
	}
}
