// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect is the SQL flavor spoken by a [DB].
type Dialect int

const (
	SQLite   Dialect = iota // modernc.org/sqlite
	Postgres                // github.com/lib/pq
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return "Dialect(" + strconv.Itoa(int(d)) + ")"
	}
}

// DB is a database handle that knows its dialect. Queries passed to its
// methods use ? placeholders, which are rewritten for PostgreSQL.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open opens the database at dsn. URLs starting with postgres:// or
// postgresql:// are opened with PostgreSQL, anything else is treated as a
// path to an SQLite file (an optional sqlite:// prefix is stripped).
func Open(ctx context.Context, dsn string) (*DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return &DB{DB: db, Dialect: Postgres}, nil
	}

	path := strings.TrimPrefix(dsn, "sqlite://")
	if path == "" {
		return nil, errors.New("store: empty database path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time; a single connection keeps
	// concurrent handlers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &DB{DB: db, Dialect: SQLite}, nil
}

// Rebind rewrites ? placeholders in query to the form the dialect expects.
func (db *DB) Rebind(query string) string {
	if db.Dialect != Postgres {
		return query
	}
	var (
		sb strings.Builder
		n  int
	)
	sb.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Exec executes a query without returning any rows.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.ExecContext(ctx, db.Rebind(query), args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.QueryContext(ctx, db.Rebind(query), args...)
}

// QueryRow executes a query that is expected to return at most one row.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.QueryRowContext(ctx, db.Rebind(query), args...)
}

// BlobType returns the column type for binary values.
func (db *DB) BlobType() string {
	if db.Dialect == Postgres {
		return "BYTEA"
	}
	return "BLOB"
}

// SQLStore is a [Store] kept in the kv table of a [DB].
type SQLStore struct {
	db   *DB
	slog *slog.Logger
	now  func() time.Time
}

const cleanupInterval = time.Hour

// NewSQLStore creates the kv table if needed and returns a store backed by
// it. Expired rows are removed until ctx is done; failures to remove them are
// logged to logger, or to [slog.Default] if it is nil.
func NewSQLStore(ctx context.Context, db *DB, logger *slog.Logger) (*SQLStore, error) {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value `+db.BlobType()+` NOT NULL,
			expires_at BIGINT NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("creating kv table: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLStore{db: db, slog: logger, now: time.Now}
	s.cleanup(ctx, true)
	go s.cleanup(ctx, false)
	return s, nil
}

func (s *SQLStore) cleanup(ctx context.Context, firstRun bool) {
	if firstRun {
		s.performCleanup(ctx)
		return
	}

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.performCleanup(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *SQLStore) performCleanup(ctx context.Context) {
	if _, err := s.db.Exec(ctx, `DELETE FROM kv WHERE expires_at > 0 AND expires_at < ?;`, s.now().Unix()); err != nil {
		s.slog.Warn("removing expired keys", "error", err)
	}
}

// Get retrieves a value for a given key.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		data      []byte
		expiresAt int64
	)
	if err := s.db.QueryRow(ctx, `
		SELECT value, expires_at FROM kv WHERE key = ?;
	`, key).Scan(&data, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if expiresAt > 0 && expiresAt < s.now().Unix() {
		return nil, nil
	}
	return data, nil
}

// Set stores a value for a given key.
func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO kv (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, expires_at = excluded.expires_at;
	`, key, value, expiresAt)
	return err
}

// Delete removes a key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM kv WHERE key = ?;`, key)
	return err
}

// Close is a no-op: the [DB] is owned by the caller.
func (s *SQLStore) Close() error { return nil }

var _ Store = (*SQLStore)(nil)
