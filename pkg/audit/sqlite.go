package audit

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists transition events in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens dsn with the modernc driver and prepares the schema.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps db and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Record stores a single event.
func (s *SQLiteStore) Record(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_transitions (task_id, from_state, to_state, reason, forced, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.TaskID,
		event.From,
		event.To,
		event.Reason,
		event.Forced,
		normalizeTime(event.Timestamp),
	)
	return err
}

// List returns events matching the filter in insertion order.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT task_id, from_state, to_state, reason, forced, created_at
		FROM task_transitions
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.TaskID != "" {
		addFilter("task_id = ?", filter.TaskID)
	}
	if filter.To != "" {
		addFilter("to_state = ?", filter.To)
	}
	if filter.ForcedOnly {
		addFilter("forced = ?", true)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event   Event
			reason  sql.NullString
			created sql.NullTime
		)
		if err := rows.Scan(&event.TaskID, &event.From, &event.To, &reason, &event.Forced, &created); err != nil {
			return nil, err
		}
		event.Reason = reason.String
		if created.Valid {
			event.Timestamp = created.Time.UTC()
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS task_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			reason TEXT,
			forced BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_task_transitions_task ON task_transitions(task_id);
		CREATE INDEX IF NOT EXISTS idx_task_transitions_to ON task_transitions(to_state);
	`)
	return err
}
