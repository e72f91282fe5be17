// Package eventlog is a run-scoped inspection store:
// it records every lifecycle action fired and every rule instance that
// reached COMPLETE during a run, purely for operator inspection. It is
// never persisted across runs; the default path is ":memory:" and the
// store is discarded when the process exits.
package eventlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one fired lifecycle action, recorded for -status/-debug inspection.
type Event struct {
	ID        int64
	RuleName  string
	Kind      string
	LineID    int64
	LogFile   string
	Timestamp time.Time
}

// Completion records a rule instance that reached COMPLETE, with
// its final variable table serialized for -status/-debug inspection.
type Completion struct {
	RuleName  string
	StartLine int64
	StopLine  int64
	VarsJSON  string
}

// Store is the run-scoped inspection sink. Implementations must be safe
// to call from the single-threaded matching loop only; no concurrent
// access is ever required.
type Store interface {
	AddEvent(ev Event) error
	AddCompletion(c Completion) error
	Events() ([]Event, error)
	Completions() ([]Completion, error)
	Close() error
}

// Config selects the backing file for a Store.
type Config struct {
	// Path is the sqlite database path. Empty or ":memory:" keeps the
	// store entirely in memory, the default, since this data never
	// needs to outlive the run that produced it.
	Path string
}

// New opens a Store, creating its schema if needed.
func New(cfg Config) (Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	return newSQLite(path)
}

type sqliteStore struct {
	db *sql.DB
}

func newSQLite(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening eventlog database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	line_id INTEGER NOT NULL,
	log_file TEXT NOT NULL,
	ts TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS completions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_name TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	stop_line INTEGER NOT NULL,
	vars_json TEXT NOT NULL
);
`
	_, err := db.Exec(schema)
	return err
}

func (s *sqliteStore) AddEvent(ev Event) error {
	_, err := s.db.Exec(
		"INSERT INTO events (rule_name, kind, line_id, log_file, ts) VALUES (?, ?, ?, ?, ?)",
		ev.RuleName, ev.Kind, ev.LineID, ev.LogFile, ev.Timestamp.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AddCompletion(c Completion) error {
	_, err := s.db.Exec(
		"INSERT INTO completions (rule_name, start_line, stop_line, vars_json) VALUES (?, ?, ?, ?)",
		c.RuleName, c.StartLine, c.StopLine, c.VarsJSON,
	)
	return err
}

func (s *sqliteStore) Events() ([]Event, error) {
	rows, err := s.db.Query("SELECT id, rule_name, kind, line_id, log_file, ts FROM events ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var ts string
		if err := rows.Scan(&ev.ID, &ev.RuleName, &ev.Kind, &ev.LineID, &ev.LogFile, &ts); err != nil {
			return nil, err
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Completions() ([]Completion, error) {
	rows, err := s.db.Query("SELECT rule_name, start_line, stop_line, vars_json FROM completions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		var c Completion
		if err := rows.Scan(&c.RuleName, &c.StartLine, &c.StopLine, &c.VarsJSON); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
