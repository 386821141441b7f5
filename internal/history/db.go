// Package history provides an SQLite-backed audit log of tree change
// events and tracker sync attempts. Terminal states in the tree itself
// are the source of truth; the log exists so operators can see what
// happened and when from the status command.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ksargent/cascade/pkg/models"
)

// DB wraps an SQLite connection holding the audit log.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// DBPath returns the audit log location inside a state directory.
func DBPath(stateDir string) string {
	return filepath.Join(stateDir, "history.db")
}

// Open opens (or creates) the audit log at path and runs migrations.
// WAL mode is enabled so the status command can read while a run writes.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// migrate creates the schema if missing.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		unit_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_unit ON events(unit_id);

	CREATE TABLE IF NOT EXISTS syncs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		unit_id TEXT NOT NULL,
		external_ref TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_syncs_ref ON syncs(external_ref);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// RecordEvent appends a change event to the log.
func (db *DB) RecordEvent(ev models.ChangeEvent) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(
		"INSERT INTO events (unit_id, kind, occurred_at) VALUES (?, ?, ?)",
		ev.UnitID, string(ev.Kind), ev.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// SyncRecord describes one tracker sync attempt.
type SyncRecord struct {
	UnitID      string
	ExternalRef string
	// Action is what the reconciler attempted: comment, close, label.
	Action string
	// Status is ok, failed, or circuit_open.
	Status string
	Error  string
	// RecordedAt is when the attempt was logged.
	RecordedAt time.Time
}

// RecordSync appends a sync attempt to the log.
func (db *DB) RecordSync(rec SyncRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(
		"INSERT INTO syncs (unit_id, external_ref, action, status, error) VALUES (?, ?, ?, ?, ?)",
		rec.UnitID, rec.ExternalRef, rec.Action, rec.Status, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	return nil
}

// EventRecord is a logged change event.
type EventRecord struct {
	UnitID     string
	Kind       models.EventKind
	OccurredAt time.Time
}

// RecentEvents returns the most recent change events, newest first.
func (db *DB) RecentEvents(limit int) ([]EventRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(
		"SELECT unit_id, kind, occurred_at FROM events ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var rec EventRecord
		var kind string
		if err := rows.Scan(&rec.UnitID, &kind, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Kind = models.EventKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentSyncs returns the most recent sync attempts, newest first.
func (db *DB) RecentSyncs(limit int) ([]SyncRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rows, err := db.conn.Query(
		"SELECT unit_id, external_ref, action, status, COALESCE(error, ''), recorded_at FROM syncs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query syncs: %w", err)
	}
	defer rows.Close()

	var out []SyncRecord
	for rows.Next() {
		var rec SyncRecord
		if err := rows.Scan(&rec.UnitID, &rec.ExternalRef, &rec.Action, &rec.Status, &rec.Error, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan sync: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
