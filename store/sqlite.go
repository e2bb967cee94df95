package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/medgaze/medgaze/domain"
)

// SQLiteStore implements TraceStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite trace store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn_id TEXT,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordEvent appends a trace event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, session_id, turn_id, ts, type, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, event.SessionID, event.TurnID, event.Ts, string(event.Type), string(event.Payload))
	return err
}

// GetEvents returns a session's events in timestamp order.
func (s *SQLiteStore) GetEvents(ctx context.Context, sessionID string, afterTs int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, session_id, turn_id, ts, type, payload
		 FROM events WHERE session_id = ? AND ts > ?
		 ORDER BY ts ASC, rowid ASC LIMIT ?`,
		sessionID, afterTs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var turnID, payload sql.NullString
		var evType string
		if err := rows.Scan(&ev.EventID, &ev.SessionID, &turnID, &ev.Ts, &evType, &payload); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(evType)
		if turnID.Valid {
			ev.TurnID = turnID.String
		}
		if payload.Valid && payload.String != "" {
			ev.Payload = []byte(payload.String)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}
