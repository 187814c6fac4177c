/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Default backend for the attendance service. One Store implements every
  persistence interface the service needs, so the API can run against a
  single file (or ":memory:" in tests).

INTERFACES IMPLEMENTED:
  attendance.Store:             Records, compare-and-swap transitions, history
  payments.Store:               Delayed payment requests
  payments.ReconciliationStore: Unpaid late presents, reconciliation runs
  program.Directory:            Schools, fellows, scheduled sessions

KEY TABLES:
  attendance_records:       One row per fellow + school + session label
  attendance_events:        Append-only transition history
  delayed_payment_requests: One row per late present (idempotency_key UNIQUE)
  reconciliation_runs:      Reconciler log
  schools, fellows, scheduled_sessions: Program directory

COMPARE-AND-SWAP:
  A transition runs in one SQL transaction: read the row, insert it (first
  touch) or UPDATE ... WHERE status = expected, then append the event. A
  unique-key violation on insert or zero updated rows means another writer
  got there first and maps to attendance.ErrConcurrentModification.

CONCURRENCY:
  Uses sync.RWMutex on top of SQLite's single writer.

WAL MODE:
  Opened with WAL so readers don't block the writer.

TIMES:
  Stored as UTC text in a fixed-width layout so string order is time order.

USAGE:
  store, err := sqlite.New("./attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - attendance/store.go: Compare-and-swap contract
  - store/postgres: PostgreSQL implementation of the same interfaces
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Program directory
	CREATE TABLE IF NOT EXISTS schools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hub_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fellows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		supervisor_id TEXT NOT NULL DEFAULT '',
		hub_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fellows_supervisor
		ON fellows(supervisor_id);

	CREATE TABLE IF NOT EXISTS scheduled_sessions (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL REFERENCES schools(id),
		session_label TEXT NOT NULL,
		session_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(school_id, session_label)
	);

	-- Attendance (one row per fellow + school + label, never deleted)
	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		fellow_id TEXT NOT NULL,
		school_id TEXT NOT NULL,
		session_label TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('present', 'absent', 'not-marked')),
		recorded_at TEXT NOT NULL,
		recorded_by TEXT NOT NULL DEFAULT '',
		delayed_payment INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE(fellow_id, school_id, session_label)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_fellow
		ON attendance_records(fellow_id);

	-- Reconciliation scan (hot path for the scheduler)
	CREATE INDEX IF NOT EXISTS idx_attendance_delayed
		ON attendance_records(status) WHERE delayed_payment = 1;

	-- Transition history (append-only)
	CREATE TABLE IF NOT EXISTS attendance_events (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL REFERENCES attendance_records(id),
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		delayed_payment INTEGER NOT NULL DEFAULT 0,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_events_record
		ON attendance_events(record_id, at);

	-- Delayed payment requests
	CREATE TABLE IF NOT EXISTS delayed_payment_requests (
		id TEXT PRIMARY KEY,
		fellow_id TEXT NOT NULL,
		supervisor_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		attendance_record_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payment_requests_record
		ON delayed_payment_requests(attendance_record_id);
	CREATE INDEX IF NOT EXISTS idx_payment_requests_fellow
		ON delayed_payment_requests(fellow_id);

	-- Reconciliation Runs
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'running',
		found INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_status
		ON reconciliation_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"attendance_events",
		"attendance_records",
		"delayed_payment_requests",
		"reconciliation_runs",
		"scheduled_sessions",
		"fellows",
		"schools",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
