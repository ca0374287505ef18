// SPDX-License-Identifier: MIT

// Package journal keeps an append-only sqlite record of every event emission
// and its outcome. It exists for diagnostics: when the backend and the device
// disagree about what happened, the journal is the device-side evidence.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver

	"github.com/chargelink/sessiond/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS emissions (
	event_id    TEXT NOT NULL,
	endpoint    TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	outcome     TEXT NOT NULL,
	last_error  TEXT,
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_emissions_recorded_at ON emissions(recorded_at);
`

// Entry is one journaled emission outcome.
type Entry struct {
	EventID    string
	Endpoint   string
	Attempts   int
	Outcome    string
	LastError  string
	RecordedAt time.Time
}

// Journal wraps the sqlite database.
type Journal struct {
	db *sql.DB
}

// Open initializes the journal at dbPath. WAL mode and busy_timeout are set
// through the DSN so they apply to every pooled connection.
func Open(dbPath string) (*Journal, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		dbPath, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open failed: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: migrate failed: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record implements backend.Journaler. Failures are logged, never surfaced:
// diagnostics must not interfere with delivery.
func (j *Journal) Record(ctx context.Context, eventID, endpoint string, attempts int, outcome string, lastErr error) {
	errText := ""
	if lastErr != nil {
		errText = lastErr.Error()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO emissions (event_id, endpoint, attempts, outcome, last_error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		eventID, endpoint, attempts, outcome, errText, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		lg := log.WithComponent("journal")
		lg.Warn().Err(err).
			Str("event_id", eventID).
			Msg("failed to journal emission")
	}
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT event_id, endpoint, attempts, outcome, last_error, recorded_at
		 FROM emissions ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		var recordedAt string
		if err := rows.Scan(&e.EventID, &e.Endpoint, &e.Attempts, &e.Outcome, &e.LastError, &recordedAt); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, recordedAt); err == nil {
			e.RecordedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }
