package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const initialSchema = `
CREATE TABLE IF NOT EXISTS executions (
    execution_id TEXT PRIMARY KEY,
    workflow_id  TEXT NOT NULL,
    definition   TEXT NOT NULL,
    status       TEXT NOT NULL,
    agent_id     TEXT,
    input        TEXT,
    error        TEXT,
    started_at   TIMESTAMP NOT NULL,
    completed_at TIMESTAMP,
    updated_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);

CREATE TABLE IF NOT EXISTS step_states (
    execution_id   TEXT NOT NULL,
    step_id        TEXT NOT NULL,
    sequence_order INTEGER NOT NULL DEFAULT 0,
    status         TEXT NOT NULL,
    output         TEXT,
    error          TEXT,
    started_at     TIMESTAMP,
    completed_at   TIMESTAMP,
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (execution_id, step_id)
);

CREATE TABLE IF NOT EXISTS events (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id TEXT NOT NULL,
    step_id      TEXT,
    event_type   TEXT NOT NULL,
    payload      TEXT,
    timestamp    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_execution ON events(execution_id, id);

CREATE TABLE IF NOT EXISTS approvals (
    id           TEXT PRIMARY KEY,
    execution_id TEXT NOT NULL,
    step_id      TEXT NOT NULL,
    agent_id     TEXT,
    action_type  TEXT NOT NULL,
    reason       TEXT,
    status       TEXT NOT NULL,
    resolved_by  TEXT,
    created_at   TIMESTAMP NOT NULL,
    resolved_at  TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_approvals_execution ON approvals(execution_id, status);
`

// migration holds a versioned SQL migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{Version: 1, Name: "initial_schema", SQL: initialSchema},
}

// runMigrations creates the schema_version table and applies any pending migrations.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		for _, stmt := range splitStatements(m.SQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// splitStatements splits a SQL script on semicolons, skipping comment-only chunks.
func splitStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		hasCode := false
		for _, l := range strings.Split(s, "\n") {
			l = strings.TrimSpace(l)
			if l != "" && !strings.HasPrefix(l, "--") {
				hasCode = true
				break
			}
		}
		if hasCode {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
