package history

// Best-effort run history. The supervisor itself is crash-only and
// stateless; the history DB exists purely so an operator shelling into
// a restart-looping container can see the last N outcomes without
// digging through engine logs. A broken DB never blocks a run.

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dropsentry/dropsentry/internal/lifecycle"
)

// Run is one recorded supervisor invocation.
type Run struct {
	ID              string
	Command         string
	StartedAt       time.Time
	EndedAt         time.Time
	Cause           lifecycle.Cause
	ExitCode        int
	DeadlineSeconds int
}

// Store persists runs in a local SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database. WAL and a busy timeout
// keep concurrent readers (the history subcommand) from tripping over
// the single writer.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		cause TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		deadline_seconds INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`)
	return err
}

// Record inserts one finished run.
func (s *Store) Record(run Run) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO runs
		(id, command, started_at, ended_at, cause, exit_code, deadline_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Command, run.StartedAt, run.EndedAt, string(run.Cause), run.ExitCode, run.DeadlineSeconds)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, command, started_at, ended_at, cause, exit_code, deadline_seconds
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var cause string
		if err := rows.Scan(&r.ID, &r.Command, &r.StartedAt, &r.EndedAt, &cause, &r.ExitCode, &r.DeadlineSeconds); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Cause = lifecycle.Cause(cause)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
