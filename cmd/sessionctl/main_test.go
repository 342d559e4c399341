package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jjeffery/surrealsessions/internal/config"
	"github.com/jjeffery/surrealsessions/storage"
	"github.com/jjeffery/surrealsessions/storage/memory"
)

// fixture is a memory backend shared by the commands run in a test.
type fixture struct {
	db     *memory.Provider[attributes, attributes]
	opened int
	setups int
	closes int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SESSIONCTL_SURREALDB_NAMESPACE", "test")
	t.Setenv("SESSIONCTL_SURREALDB_DATABASE", "test")

	f := &fixture{db: memory.New[attributes, attributes]()}
	ctx := context.Background()
	wantNoError(t, f.db.PutUser(ctx, &storage.User[attributes]{
		ID:         "alice",
		Attributes: attributes{"username": "alice"},
	}))
	return f
}

func (f *fixture) open(ctx context.Context, cfg config.Config) (*backend, error) {
	f.opened++
	return &backend{
		adapter: f.db,
		setup: func(context.Context) error {
			f.setups++
			return nil
		},
		close: func(context.Context) error {
			f.closes++
			return nil
		},
	}, nil
}

func (f *fixture) addSession(t *testing.T, id, userID string, expiresAt time.Time) {
	t.Helper()
	wantNoError(t, f.db.SetSession(context.Background(), &storage.Session[attributes]{
		ID:         id,
		UserID:     userID,
		ExpiresAt:  expiresAt,
		Attributes: attributes{"os": "mockOS"},
	}))
}

func (f *fixture) sessionExists(t *testing.T, id string) bool {
	t.Helper()
	s, _, err := f.db.GetSessionAndUser(context.Background(), id)
	wantNoError(t, err)
	return s != nil
}

func run(open openFunc, args ...string) (string, error) {
	cmd := newRootCmd(open)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "old", "alice", time.Now().Add(-time.Hour))
	f.addSession(t, "current", "alice", time.Now().Add(time.Hour))

	_, err := run(f.open, "purge")
	wantNoError(t, err)
	if f.sessionExists(t, "old") {
		t.Error("expired session not deleted")
	}
	if !f.sessionExists(t, "current") {
		t.Error("current session deleted")
	}
	if got, want := f.closes, 1; got != want {
		t.Errorf("got=%v, want=%v", got, want)
	}
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s1", "alice", time.Now().Add(time.Hour))
	f.addSession(t, "s2", "alice", time.Now().Add(time.Hour))
	f.addSession(t, "s3", "alice", time.Now().Add(time.Hour))

	_, err := run(f.open, "revoke", "s1", "s2")
	wantNoError(t, err)
	for id, want := range map[string]bool{"s1": false, "s2": false, "s3": true} {
		if got := f.sessionExists(t, id); got != want {
			t.Errorf("%s: got=%v, want=%v", id, got, want)
		}
	}

	if _, err := run(f.open, "revoke"); err == nil {
		t.Error("got=nil, want=non-nil")
	}
}

func TestRevokeUser(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s1", "alice", time.Now().Add(time.Hour))
	f.addSession(t, "s2", "bob", time.Now().Add(time.Hour))

	_, err := run(f.open, "revoke-user", "alice")
	wantNoError(t, err)
	if f.sessionExists(t, "s1") {
		t.Error("alice's session not deleted")
	}
	if !f.sessionExists(t, "s2") {
		t.Error("bob's session deleted")
	}
}

func TestList(t *testing.T) {
	f := newFixture(t)
	expiresAt := time.Now().Add(time.Hour)
	f.addSession(t, "s1", "alice", expiresAt)
	f.addSession(t, "s2", "alice", time.Now().Add(-time.Hour))
	f.addSession(t, "s3", "bob", expiresAt)

	out, err := run(f.open, "list", "alice")
	wantNoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if got, want := len(lines), 2; got != want {
		t.Fatalf("got=%v, want=%v\n%s", got, want, out)
	}
	if !strings.HasPrefix(lines[0], "SESSION") {
		t.Errorf("unexpected header %q", lines[0])
	}
	fields := strings.Fields(lines[1])
	if got, want := fields[0], "s1"; got != want {
		t.Errorf("got=%v, want=%v", got, want)
	}
	if got, want := fields[1], expiresAt.UTC().Format(time.RFC3339); got != want {
		t.Errorf("got=%v, want=%v", got, want)
	}
}

func TestShow(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s1", "alice", time.Now().Add(-time.Hour))

	out, err := run(f.open, "show", "s1")
	wantNoError(t, err)
	var view sessionView
	wantNoError(t, json.Unmarshal([]byte(out), &view))
	if got, want := view.ID, "s1"; got != want {
		t.Errorf("got=%v, want=%v", got, want)
	}
	if !view.Expired {
		t.Error("got=false, want=true")
	}
	if got, want := view.Attributes["os"], "mockOS"; got != want {
		t.Errorf("got=%v, want=%v", got, want)
	}
	if view.User == nil || view.User.Attributes["username"] != "alice" {
		t.Errorf("got=%v, want=alice", view.User)
	}

	if _, err := run(f.open, "show", "missing"); err == nil {
		t.Error("got=nil, want=non-nil")
	}
}

func TestSetup(t *testing.T) {
	f := newFixture(t)
	_, err := run(f.open, "setup")
	wantNoError(t, err)
	if got, want := f.setups, 1; got != want {
		t.Errorf("got=%v, want=%v", got, want)
	}
}

func TestInvalidConfig(t *testing.T) {
	f := newFixture(t)
	if _, err := run(f.open, "--backend", "mongodb", "purge"); err == nil {
		t.Fatal("got=nil, want=non-nil")
	}
	if got, want := f.opened, 0; got != want {
		t.Errorf("got=%v, want=%v", got, want)
	}
	if _, err := run(f.open, "--backend", "mongodb", "config", "check"); err == nil {
		t.Fatal("got=nil, want=non-nil")
	}
}

func TestConfigInit(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "sessionctl.yaml")
	_, err := run(f.open, "--backend", "postgres", "config", "init", path)
	wantNoError(t, err)
	if got, want := f.opened, 0; got != want {
		t.Errorf("got=%v, want=%v", got, want)
	}
	data, err := os.ReadFile(path)
	wantNoError(t, err)
	if !strings.Contains(string(data), "backend: postgres") {
		t.Errorf("unexpected config file:\n%s", data)
	}

	out, err := run(f.open, "--config", path, "--backend", "surrealdb", "config", "check")
	wantNoError(t, err)
	if got, want := strings.TrimSpace(out), "ok"; got != want {
		t.Errorf("got=%v, want=%v", got, want)
	}
}

func wantNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("got=%v, want=nil", err)
	}
}
