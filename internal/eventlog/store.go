package eventlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Conventional event type tags. The set is open; these are the ones the
// pipeline itself produces and consumes.
const (
	TypeTerminalOutput        = "terminal_output"
	TypeTerminalInput         = "terminal_input_submitted"
	TypeTerminalInputDropped  = "terminal_input_dropped"
	TypeChoiceRequestDetected = "assistant_choice_request_detected"
	TypeChoiceSelected        = "assistant_choice_selected"
	TypePaneCreated           = "pane_created"
	TypePaneRemoved           = "pane_removed"
)

// MaxListLimit caps any single fetch from the log.
const MaxListLimit = 2000

// DefaultListLimit is used when callers pass no limit.
const DefaultListLimit = 500

// Event is one immutable row of the append-only log.
type Event struct {
	ID          int64
	PaneID      string
	TaskID      int64
	Agent       string
	EventType   string
	PayloadJSON string
	CreatedAt   string
}

// Filter scopes List/ListSince queries. Zero values mean "no constraint".
type Filter struct {
	PaneID     string
	TaskID     int64
	EventTypes []string
	Limit      int
}

// Store is the append-only event log backed by SQLite.
// Thread-safe for concurrent appends from multiple panes; WAL mode and a
// busy timeout keep writers from blocking each other for long.
type Store struct {
	db *sql.DB
}

// Open creates or opens the event database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("eventlog: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist.
func (s *Store) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("eventlog: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("eventlog: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			pane_id      TEXT NOT NULL DEFAULT '',
			task_id      INTEGER NOT NULL DEFAULT 0,
			agent        TEXT NOT NULL DEFAULT '',
			event_type   TEXT NOT NULL,
			payload_json TEXT NOT NULL DEFAULT '{}',
			created_at   TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("eventlog: create events: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_pane ON events(pane_id, id)
	`); err != nil {
		return fmt.Errorf("eventlog: create index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO NOTHING
	`, fmt.Sprint(SchemaVersion)); err != nil {
		return fmt.Errorf("eventlog: set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventlog: commit migrate: %w", err)
	}
	return nil
}

// Append inserts one event and returns its assigned id.
// Callers that must never block on logging failures use Recorder instead.
func (s *Store) Append(paneID string, taskID int64, agent, eventType, payloadJSON string) (int64, error) {
	if payloadJSON == "" {
		payloadJSON = "{}"
	}
	res, err := s.db.Exec(`
		INSERT INTO events (pane_id, task_id, agent, event_type, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, paneID, taskID, agent, eventType, payloadJSON, utcNowISO())
	if err != nil {
		return 0, fmt.Errorf("eventlog: append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("eventlog: append id: %w", err)
	}
	return id, nil
}

// List returns the newest events matching the filter, ordered ascending
// by id. The window is the most recent f.Limit rows.
func (s *Store) List(f Filter) ([]Event, error) {
	where, args := buildWhere(f, 0)
	query := "SELECT id, pane_id, task_id, agent, event_type, payload_json, created_at FROM events" +
		where + " ORDER BY id DESC LIMIT ?"
	args = append(args, clampLimit(f.Limit))

	events, err := s.query(query, args)
	if err != nil {
		return nil, err
	}
	// Reverse the descending window into ascending id order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// ListSince returns events with id strictly greater than afterID,
// ordered ascending. This is the incremental-poll variant of List.
func (s *Store) ListSince(afterID int64, f Filter) ([]Event, error) {
	where, args := buildWhere(f, afterID)
	query := "SELECT id, pane_id, task_id, agent, event_type, payload_json, created_at FROM events" +
		where + " ORDER BY id ASC LIMIT ?"
	args = append(args, clampLimit(f.Limit))
	return s.query(query, args)
}

func (s *Store) query(query string, args []any) ([]Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.PaneID, &e.TaskID, &e.Agent, &e.EventType, &e.PayloadJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func buildWhere(f Filter, afterID int64) (string, []any) {
	var conds []string
	var args []any
	if f.PaneID != "" {
		conds = append(conds, "pane_id = ?")
		args = append(args, f.PaneID)
	}
	if f.TaskID > 0 {
		conds = append(conds, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if len(f.EventTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.EventTypes)), ",")
		conds = append(conds, "event_type IN ("+placeholders+")")
		for _, et := range f.EventTypes {
			args = append(args, et)
		}
	}
	if afterID > 0 {
		conds = append(conds, "id > ?")
		args = append(args, afterID)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func utcNowISO() string {
	return time.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z07:00")
}
