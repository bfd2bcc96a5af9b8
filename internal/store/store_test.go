// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.astrophena.name/sportsbot/internal/testutil"
)

func TestMemStore(t *testing.T) {
	s, err := NewMemStore(1000)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testStore(t, s)
}

func TestSQLiteStore(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
	testutil.AssertEqual(t, db.Dialect, SQLite)

	s, err := NewSQLStore(t.Context(), db, nil)
	if err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	db := openTestDB(t, databaseURL)
	testutil.AssertEqual(t, db.Dialect, Postgres)

	s, err := NewSQLStore(t.Context(), db, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Clean up the table before running the test.
	if _, err := db.Exec(t.Context(), "DELETE FROM kv"); err != nil {
		t.Fatal(err)
	}
	testStore(t, s)
}

func TestSQLStoreExpiry(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
	s, err := NewSQLStore(t.Context(), db, nil)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	ctx := t.Context()
	if err := s.Set(ctx, "game:-100", []byte("42"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "lang:1", []byte("ru"), 0); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)

	got, err := s.Get(ctx, "game:-100")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expired value returned: %q", got)
	}
	got, err = s.Get(ctx, "lang:1")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(got), "ru")

	s.performCleanup(ctx)
	var n int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM kv").Scan(&n); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, n, 1)
}

func TestSQLStoreCleanupFailure(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
	var buf bytes.Buffer
	s, err := NewSQLStore(t.Context(), db, slog.New(slog.NewTextHandler(&buf, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(t.Context(), "DROP TABLE kv"); err != nil {
		t.Fatal(err)
	}

	s.performCleanup(t.Context())
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "removing expired keys") {
		t.Errorf("cleanup failure not logged: %q", out)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()

	const q = "INSERT INTO feedback (ticket, user_id, message) VALUES (?, ?, ?)"
	cases := map[string]struct {
		dialect Dialect
		want    string
	}{
		"sqlite":   {SQLite, q},
		"postgres": {Postgres, "INSERT INTO feedback (ticket, user_id, message) VALUES ($1, $2, $3)"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			db := &DB{Dialect: tc.dialect}
			testutil.AssertEqual(t, db.Rebind(q), tc.want)
		})
	}
}

func TestOpenEmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(t.Context(), "sqlite://"); err == nil {
		t.Fatal("want error for empty path")
	}
}

func openTestDB(t *testing.T, dsn string) *DB {
	t.Helper()
	db, err := Open(t.Context(), dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	// Test Set and Get.
	if err := s.Set(ctx, "dialog:1", []byte("feedback"), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "secret:1", []byte("57"), time.Hour); err != nil {
		t.Fatal(err)
	}

	v, err := s.Get(ctx, "dialog:1")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(v), "feedback")

	v, err = s.Get(ctx, "secret:1")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(v), "57")

	// Test overwrite.
	if err := s.Set(ctx, "dialog:1", []byte("none"), 0); err != nil {
		t.Fatal(err)
	}
	v, err = s.Get(ctx, "dialog:1")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, string(v), "none")

	// Test Delete.
	if err := s.Delete(ctx, "dialog:1"); err != nil {
		t.Fatal(err)
	}
	v, err = s.Get(ctx, "dialog:1")
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("got %q after Delete, want nil", v)
	}

	// Test Get non-existent key.
	v, err = s.Get(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("got %q, want nil", v)
	}
}
