// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package journal records what users do with the bot: who talked to it, how
// many messages and warnings they have, their feedback and settings.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.astrophena.name/sportsbot/internal/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ticketAlphabet avoids letters that are easy to confuse when a user reads a
// ticket back to an admin.
const (
	ticketAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	ticketLength   = 8
)

// User identifies a Telegram user.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// Totals summarize the journal.
type Totals struct {
	Users    int64 `json:"users"`
	Messages int64 `json:"messages"`
	Feedback int64 `json:"feedback"`
	Warnings int64 `json:"warnings"`
}

// Feedback is a message left through the feedback dialog.
type Feedback struct {
	Ticket  string    `json:"ticket"`
	UserID  int64     `json:"user_id"`
	Message string    `json:"message"`
	Created time.Time `json:"created"`
}

// Journal is safe for concurrent use.
type Journal struct {
	db        *store.DB
	now       func() time.Time
	newTicket func() (string, error)
}

// New creates the journal tables in db if they don't exist.
func New(ctx context.Context, db *store.DB) (*Journal, error) {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.Dialect == store.Postgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS user_stats (
			user_id BIGINT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			messages_count BIGINT NOT NULL DEFAULT 0,
			warnings_count BIGINT NOT NULL DEFAULT 0,
			first_seen BIGINT NOT NULL,
			last_seen BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS feedback (
			ticket TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			message TEXT NOT NULL,
			created_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS user_actions (
			id ` + serial + `,
			user_id BIGINT NOT NULL,
			action_type TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (user_id, name)
		);`,
	} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("creating journal schema: %w", err)
		}
	}
	return &Journal{
		db:        db,
		now:       time.Now,
		newTicket: newTicket,
	}, nil
}

func newTicket() (string, error) { return gonanoid.Generate(ticketAlphabet, ticketLength) }

// TouchUser records a message from u, creating the user if needed.
func (j *Journal) TouchUser(ctx context.Context, u User) error {
	return j.upsertUser(ctx, u, 1, 0)
}

// AddWarning records a moderation warning issued to u.
func (j *Journal) AddWarning(ctx context.Context, u User) error {
	return j.upsertUser(ctx, u, 0, 1)
}

func (j *Journal) upsertUser(ctx context.Context, u User, messages, warnings int) error {
	now := j.now().Unix()
	_, err := j.db.Exec(ctx, `
		INSERT INTO user_stats (user_id, username, first_name, last_name, messages_count, warnings_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			messages_count = user_stats.messages_count + excluded.messages_count,
			warnings_count = user_stats.warnings_count + excluded.warnings_count,
			last_seen = excluded.last_seen;
	`, u.ID, u.Username, u.FirstName, u.LastName, messages, warnings, now, now)
	if err != nil {
		return fmt.Errorf("updating user %d: %w", u.ID, err)
	}
	return nil
}

// AddFeedback saves a feedback message from userID and returns its ticket.
func (j *Journal) AddFeedback(ctx context.Context, userID int64, message string) (ticket string, err error) {
	ticket, err = j.newTicket()
	if err != nil {
		return "", err
	}
	if _, err := j.db.Exec(ctx, `
		INSERT INTO feedback (ticket, user_id, message, created_at) VALUES (?, ?, ?, ?);
	`, ticket, userID, message, j.now().Unix()); err != nil {
		return "", fmt.Errorf("saving feedback: %w", err)
	}
	return ticket, nil
}

// RecentFeedback returns at most limit feedback messages, newest first.
func (j *Journal) RecentFeedback(ctx context.Context, limit int) ([]Feedback, error) {
	rows, err := j.db.Query(ctx, `
		SELECT ticket, user_id, message, created_at FROM feedback
		ORDER BY created_at DESC, ticket LIMIT ?;
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fbs []Feedback
	for rows.Next() {
		var (
			fb      Feedback
			created int64
		)
		if err := rows.Scan(&fb.Ticket, &fb.UserID, &fb.Message, &created); err != nil {
			return nil, err
		}
		fb.Created = time.Unix(created, 0).UTC()
		fbs = append(fbs, fb)
	}
	return fbs, rows.Err()
}

// LogAction records that userID did something.
func (j *Journal) LogAction(ctx context.Context, userID int64, action, details string) error {
	_, err := j.db.Exec(ctx, `
		INSERT INTO user_actions (user_id, action_type, details, created_at) VALUES (?, ?, ?, ?);
	`, userID, action, details, j.now().Unix())
	return err
}

// Actions returns how many times userID did action.
func (j *Journal) Actions(ctx context.Context, userID int64, action string) (int64, error) {
	var n int64
	err := j.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_actions WHERE user_id = ? AND action_type = ?;
	`, userID, action).Scan(&n)
	return n, err
}

// Totals returns the journal summary.
func (j *Journal) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	if err := j.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(messages_count), 0), COALESCE(SUM(warnings_count), 0) FROM user_stats;
	`).Scan(&t.Users, &t.Messages, &t.Warnings); err != nil {
		return Totals{}, fmt.Errorf("counting users: %w", err)
	}
	if err := j.db.QueryRow(ctx, `SELECT COUNT(*) FROM feedback;`).Scan(&t.Feedback); err != nil {
		return Totals{}, fmt.Errorf("counting feedback: %w", err)
	}
	return t, nil
}

// SetSetting stores a per-user setting.
func (j *Journal) SetSetting(ctx context.Context, userID int64, name, value string) error {
	_, err := j.db.Exec(ctx, `
		INSERT INTO user_settings (user_id, name, value) VALUES (?, ?, ?)
		ON CONFLICT (user_id, name) DO UPDATE SET value = excluded.value;
	`, userID, name, value)
	return err
}

// Setting returns a per-user setting. ok is false if it was never set.
func (j *Journal) Setting(ctx context.Context, userID int64, name string) (value string, ok bool, err error) {
	err = j.db.QueryRow(ctx, `
		SELECT value FROM user_settings WHERE user_id = ? AND name = ?;
	`, userID, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}
