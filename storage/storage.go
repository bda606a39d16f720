// Storage module - SQLite event log

package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Event is one recorded gateway occurrence: a client log line, a
// configuration change, or a relay failure. Conversation content is
// never stored here.
type Event struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`    // client_log, config_update, config_select, relay_error
	Session   string    `json:"session"` // originating session id, or "http"
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Storage is the sqlite-backed event log.
type Storage struct {
	db      *sql.DB
	stmtAdd *sql.Stmt
}

// New opens (or creates) the event database at dbPath.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path required")
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection failed: %v", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL: %v", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		session TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}

	s := &Storage{db: db}
	s.stmtAdd, err = db.Prepare("INSERT INTO events (kind, session, detail) VALUES (?, ?, ?)")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare insert: %v", err)
	}
	return s, nil
}

// RecordEvent appends one event.
func (s *Storage) RecordEvent(kind, session, detail string) error {
	_, err := s.stmtAdd.Exec(kind, session, detail)
	return err
}

// RecentEvents returns up to limit events of the given kind, newest
// first. An empty kind matches all events.
func (s *Storage) RecentEvents(kind string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT id, kind, session, detail, created_at FROM events"
	args := []interface{}{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.Session, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Stats returns event counts per kind.
func (s *Storage) Stats() (map[string]int, error) {
	rows, err := s.db.Query("SELECT kind, COUNT(*) FROM events GROUP BY kind")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, err
		}
		stats[kind] = count
	}
	return stats, rows.Err()
}

// Close releases the database handle.
func (s *Storage) Close() error {
	if s.stmtAdd != nil {
		s.stmtAdd.Close()
	}
	return s.db.Close()
}
