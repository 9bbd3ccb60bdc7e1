// Package mysql provides a go-sql-driver/mysql-backed penguiflow.Store for
// production, multi-process deployments: the same schema shape as
// state/sqlite, translated to MySQL's ON DUPLICATE KEY UPDATE upsert
// syntax for the remote-bindings table.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/penguiflow/penguiflow"
)

const schema = `
CREATE TABLE IF NOT EXISTS flow_events (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	trace_id VARCHAR(64) NOT NULL,
	ts DATETIME(3) NOT NULL,
	kind VARCHAR(64) NOT NULL,
	node_name VARCHAR(255) NOT NULL,
	node_id VARCHAR(255) NOT NULL,
	payload JSON NOT NULL,
	INDEX idx_flow_events_trace (trace_id)
);

CREATE TABLE IF NOT EXISTS remote_bindings (
	trace_id VARCHAR(64) PRIMARY KEY,
	context_id VARCHAR(255) NOT NULL,
	task_id VARCHAR(255) NOT NULL,
	agent_url VARCHAR(1024) NOT NULL
);
`

// Store is a MySQL-backed penguiflow.Store.
type Store struct {
	db *sql.DB
}

// Open connects to dsn (a standard go-sql-driver/mysql DSN, e.g.
// "user:pass@tcp(127.0.0.1:3306)/penguiflow?parseTime=true&multiStatements=true")
// and runs the schema migration. The caller must pass parseTime=true in dsn
// so DATETIME columns scan into time.Time, and multiStatements=true because
// the migration creates both tables in a single Exec call.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveEvent implements penguiflow.Store.
func (s *Store) SaveEvent(ctx context.Context, event penguiflow.StoredEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("mysql: marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_events (trace_id, ts, kind, node_name, node_id, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.TraceID, event.Ts, string(event.Kind), event.NodeName, event.NodeID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("mysql: insert event: %w", err)
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
		return nil, fmt.Errorf("mysql: query history: %w", err)
	}
	defer rows.Close()

	var out []penguiflow.StoredEvent
	for rows.Next() {
		var (
			ts          time.Time
			kind        string
			nodeName    string
			nodeID      string
			payloadJSON []byte
		)
		if err := rows.Scan(&ts, &kind, &nodeName, &nodeID, &payloadJSON); err != nil {
			return nil, fmt.Errorf("mysql: scan event: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("mysql: unmarshal payload: %w", err)
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
		 ON DUPLICATE KEY UPDATE context_id=VALUES(context_id), task_id=VALUES(task_id), agent_url=VALUES(agent_url)`,
		binding.TraceID, binding.ContextID, binding.TaskID, binding.AgentURL,
	)
	if err != nil {
		return fmt.Errorf("mysql: save remote binding: %w", err)
	}
	return nil
}
