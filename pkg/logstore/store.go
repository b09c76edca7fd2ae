// SPDX-License-Identifier: Apache-2.0
// Package logstore keeps a bounded, queryable window of recent log
// entries in an in-memory SQLite database. Nothing survives a restart;
// the store exists to serve the log-query API surface.
package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ishan-parihar/ai-town-sub000/pkg/core"
	townerr "github.com/ishan-parihar/ai-town-sub000/pkg/errors"
)

// Entry is one stored log record.
type Entry struct {
	ID        int64           `json:"id"`
	Timestamp core.UnixMillis `json:"timestamp"`
	Level     string          `json:"level"`
	Service   string          `json:"service"`
	Message   string          `json:"message"`
	Attrs     string          `json:"attrs,omitempty"`
}

// Query narrows Recent results. Zero values match everything.
type Query struct {
	Level   string
	Service string
	Since   time.Time
	Until   time.Time
	Limit   int
}

const schema = `
CREATE TABLE IF NOT EXISTS logs (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	level   TEXT NOT NULL,
	service TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL,
	attrs   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS logs_ts ON logs (ts);
`

// Store is a bounded log window backed by in-memory SQLite.
type Store struct {
	db      *sql.DB
	maxRows int
}

// Open creates the in-memory database and its schema. maxRows bounds
// retained entries; zero defaults to 10000.
func Open(maxRows int) (*Store, error) {
	if maxRows <= 0 {
		maxRows = 10000
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, townerr.New(townerr.CodeInternal, "open log store", err)
	}
	// An in-memory database exists per connection; the pool must never
	// open a second one.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, townerr.New(townerr.CodeInternal, "create log schema", err)
	}
	return &Store{db: db, maxRows: maxRows}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Append stores one entry and trims past the retention cap.
func (s *Store) Append(ctx context.Context, ts time.Time, level, service, message, attrs string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (ts, level, service, message, attrs) VALUES (?, ?, ?, ?, ?)`,
		ts.UnixMilli(), strings.ToLower(level), service, message, attrs)
	if err != nil {
		return townerr.New(townerr.CodeInternal, "append log entry", err)
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM logs WHERE id <= (SELECT MAX(id) FROM logs) - ?`, s.maxRows)
	if err != nil {
		return townerr.New(townerr.CodeInternal, "trim log entries", err)
	}
	return nil
}

// Recent returns matching entries, newest first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []interface{}
	)
	if q.Level != "" {
		where = append(where, "level = ?")
		args = append(args, strings.ToLower(q.Level))
	}
	if q.Service != "" {
		where = append(where, "service = ?")
		args = append(args, q.Service)
	}
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, q.Until.UnixMilli())
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	sqlText := "SELECT id, ts, level, service, message, attrs FROM logs"
	if len(where) > 0 {
		sqlText += " WHERE " + strings.Join(where, " AND ")
	}
	sqlText += fmt.Sprintf(" ORDER BY id DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, townerr.New(townerr.CodeInternal, "query log entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.Level, &e.Service, &e.Message, &e.Attrs); err != nil {
			return nil, townerr.New(townerr.CodeInternal, "scan log entry", err)
		}
		e.Timestamp = core.UnixMillis(time.UnixMilli(ts))
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of retained entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&n)
	return n, err
}
