package surreal

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jjeffery/surrealsessions/storage"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

func TestToSession(t *testing.T) {
	expiresAt := time.Date(2038, 1, 19, 3, 14, 7, 0, time.UTC)
	tests := []struct {
		name string
		rec  Record
		want *storage.Session[map[string]any]
	}{
		{
			name: "fetched user",
			rec: Record{
				"id":         models.NewRecordID("session_table", "s1"),
				"user":       map[string]any{"id": models.NewRecordID("user_table", "alice"), "username": "alice"},
				"expires_at": models.CustomDateTime{Time: expiresAt},
				"alias":      "x",
				"os":         "mockOS",
			},
			want: &storage.Session[map[string]any]{
				ID:         "s1",
				UserID:     "alice",
				ExpiresAt:  expiresAt,
				Attributes: map[string]any{"alias": "x", "os": "mockOS"},
			},
		},
		{
			name: "user link",
			rec: Record{
				"id":         models.NewRecordID("session_table", "s2"),
				"user":       models.NewRecordID("user_table", "bob"),
				"expires_at": models.CustomDateTime{Time: expiresAt},
			},
			want: &storage.Session[map[string]any]{
				ID:         "s2",
				UserID:     "bob",
				ExpiresAt:  expiresAt,
				Attributes: map[string]any{},
			},
		},
		{
			name: "numeric keys",
			rec: Record{
				"id":         models.NewRecordID("session_table", uint64(42)),
				"user":       models.NewRecordID("user_table", int64(7)),
				"expires_at": expiresAt,
			},
			want: &storage.Session[map[string]any]{
				ID:         "42",
				UserID:     "7",
				ExpiresAt:  expiresAt,
				Attributes: map[string]any{},
			},
		},
		{
			name: "textual ids",
			rec: Record{
				"id":         "session_table:s3",
				"user":       "user_table:⟨carol⟩",
				"expires_at": expiresAt.Format(time.RFC3339Nano),
			},
			want: &storage.Session[map[string]any]{
				ID:         "s3",
				UserID:     "carol",
				ExpiresAt:  expiresAt,
				Attributes: map[string]any{},
			},
		},
		{
			name: "absent optional fields",
			rec: Record{
				"id": models.NewRecordID("session_table", "s4"),
			},
			want: &storage.Session[map[string]any]{
				ID:         "s4",
				Attributes: map[string]any{},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToSession[map[string]any](tt.rec)
			if err != nil {
				t.Fatalf("got=%v, want=nil", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("session mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToSessionTyped(t *testing.T) {
	type attributes struct {
		Alias     string    `json:"alias"`
		LastSeen  time.Time `json:"last_seen"`
		LoginHits int       `json:"login_hits"`
	}
	lastSeen := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	rec := Record{
		"id":         models.NewRecordID("session", "typed"),
		"user":       models.NewRecordID("user", "alice"),
		"expires_at": models.CustomDateTime{Time: lastSeen.Add(time.Hour)},
		"alias":      "x",
		"last_seen":  models.CustomDateTime{Time: lastSeen},
		"login_hits": 3,
		"unknown":    "ignored",
	}
	got, err := ToSession[attributes](rec)
	if err != nil {
		t.Fatalf("got=%v, want=nil", err)
	}
	want := attributes{Alias: "x", LastSeen: lastSeen, LoginHits: 3}
	if diff := cmp.Diff(want, got.Attributes); diff != "" {
		t.Fatalf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestToSessionErrors(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
	}{
		{"missing id", Record{"user": models.NewRecordID("user", "alice")}},
		{"id without key", Record{"id": models.RecordID{Table: "session"}}},
		{"malformed textual id", Record{"id": "no-table"}},
		{"unexpected id type", Record{"id": 3.5}},
		{"bad user", Record{"id": models.NewRecordID("session", "s1"), "user": 12}},
		{"bad expires_at", Record{"id": models.NewRecordID("session", "s1"), "expires_at": 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ToSession[map[string]any](tt.rec); err == nil {
				t.Fatal("got=nil, want=non-nil")
			}
		})
	}
}

func TestToUser(t *testing.T) {
	rec := Record{
		"id":       models.NewRecordID("user_table", "alice"),
		"username": "alice",
	}
	got, err := ToUser[map[string]any](rec)
	if err != nil {
		t.Fatalf("got=%v, want=nil", err)
	}
	want := &storage.User[map[string]any]{
		ID:         "alice",
		Attributes: map[string]any{"username": "alice"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("user mismatch (-want +got):\n%s", diff)
	}

	if _, err := ToUser[map[string]any](Record{"username": "nobody"}); err == nil {
		t.Fatal("got=nil, want=non-nil")
	}
}

func TestFromSession(t *testing.T) {
	expiresAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	session := &storage.Session[map[string]any]{
		ID:         "s1",
		UserID:     "alice",
		ExpiresAt:  expiresAt,
		Attributes: map[string]any{"alias": "x"},
	}
	got, err := FromSession(session, "session_table", "user_table")
	if err != nil {
		t.Fatalf("got=%v, want=nil", err)
	}
	want := Record{
		"id":         models.NewRecordID("session_table", "s1"),
		"user":       models.NewRecordID("user_table", "alice"),
		"expires_at": models.CustomDateTime{Time: expiresAt},
		"alias":      "x",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	// mapping the record back gives the original session
	back, err := ToSession[map[string]any](got)
	if err != nil {
		t.Fatalf("got=%v, want=nil", err)
	}
	if diff := cmp.Diff(session, back); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}
}

func TestFromSessionReserved(t *testing.T) {
	for _, name := range []string{"id", "user", "expires_at"} {
		session := &storage.Session[map[string]any]{
			ID:         "s1",
			UserID:     "alice",
			Attributes: map[string]any{name: "clash"},
		}
		if _, err := FromSession(session, "session", "user"); err == nil {
			t.Fatalf("%s: got=nil, want=non-nil", name)
		}
	}
}

func TestFromSessionTyped(t *testing.T) {
	type attributes struct {
		Alias    string    `json:"alias"`
		LastSeen time.Time `json:"last_seen"`
	}
	lastSeen := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	session := &storage.Session[attributes]{
		ID:         "typed",
		UserID:     "alice",
		ExpiresAt:  lastSeen.Add(time.Hour),
		Attributes: attributes{Alias: "x", LastSeen: lastSeen},
	}
	rec, err := FromSession(session, "session", "user")
	if err != nil {
		t.Fatalf("got=%v, want=nil", err)
	}
	if got, want := rec["last_seen"], (models.CustomDateTime{Time: lastSeen}); got != want {
		t.Fatalf("got=%v, want=%v", got, want)
	}
	back, err := ToSession[attributes](rec)
	if err != nil {
		t.Fatalf("got=%v, want=nil", err)
	}
	if diff := cmp.Diff(session, back); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}
}
