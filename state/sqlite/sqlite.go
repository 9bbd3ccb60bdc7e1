// Package sqlite provides a modernc.org/sqlite-backed penguiflow.Store,
// using WAL mode and a single-writer connection pool with an append-only
// event table plus a remote-binding table, migrated automatically on Open.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/penguiflow/penguiflow"
)

const schema = `
CREATE TABLE IF NOT EXISTS flow_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT NOT NULL,
	ts TIMESTAMP NOT NULL,
	kind TEXT NOT NULL,
	node_name TEXT NOT NULL,
	node_id TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flow_events_trace ON flow_events(trace_id);

CREATE TABLE IF NOT EXISTS remote_bindings (
	trace_id TEXT PRIMARY KEY,
	context_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	agent_url TEXT NOT NULL
);
`

// Store is a SQLite-backed penguiflow.Store. It opens path (use ":memory:"
// for an ephemeral in-process database) with WAL mode and a single-writer
// connection pool, since SQLite serializes writers regardless and a pool of
// write connections would only add lock contention.
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) a SQLite database at path and runs the
// schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveEvent implements penguiflow.Store. The event payload is persisted as
// a JSON blob.
func (s *Store) SaveEvent(ctx context.Context, event penguiflow.StoredEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("sqlite: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_events (trace_id, ts, kind, node_name, node_id, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.TraceID, event.Ts, string(event.Kind), event.NodeName, event.NodeID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert event: %w", err)
	}
	return nil
}

// LoadHistory implements penguiflow.Store.
func (s *Store) LoadHistory(ctx context.Context, traceID string) ([]penguiflow.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, kind, node_name, node_id, payload FROM flow_events WHERE trace_id = ? ORDER BY id ASC`,
		traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query history: %w", err)
	}
	defer rows.Close()

	var out []penguiflow.StoredEvent
	for rows.Next() {
		var (
			ts          time.Time
			kind        string
			nodeName    string
			nodeID      string
			payloadJSON string
		)
		if err := rows.Scan(&ts, &kind, &nodeName, &nodeID, &payloadJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal payload: %w", err)
		}
		out = append(out, penguiflow.StoredEvent{
			TraceID:  traceID,
			Ts:       ts,
			Kind:     penguiflow.EventType(kind),
			NodeName: nodeName,
			NodeID:   nodeID,
			Payload:  payload,
		})
	}
	return out, rows.Err()
}

// SaveRemoteBinding implements penguiflow.Store.
func (s *Store) SaveRemoteBinding(ctx context.Context, binding penguiflow.RemoteBinding) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO remote_bindings (trace_id, context_id, task_id, agent_url) VALUES (?, ?, ?, ?)
		 ON CONFLICT(trace_id) DO UPDATE SET context_id=excluded.context_id, task_id=excluded.task_id, agent_url=excluded.agent_url`,
		binding.TraceID, binding.ContextID, binding.TaskID, binding.AgentURL,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save remote binding: %w", err)
	}
	return nil
}
