package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/skein-dev/skein/pkg/schema"
)

// LibSQLStore persists executions, step states, events and approvals in a
// local libSQL database. A single connection is used so write transactions
// never contend with each other.
type LibSQLStore struct {
	db *sql.DB
}

var _ CheckpointStore = (*LibSQLStore)(nil)

// NewLibSQLStore opens (or creates) the database at path and applies
// pending migrations.
func NewLibSQLStore(ctx context.Context, path string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open database %q", path).WithCause(err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, schema.NewErrorf(schema.ErrCodeStore, "apply %s", pragma).WithCause(err)
		}
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, schema.NewError(schema.ErrCodeStore, "run migrations").WithCause(err)
	}
	return &LibSQLStore{db: db}, nil
}

func (s *LibSQLStore) Close() error {
	return s.db.Close()
}

func (s *LibSQLStore) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
	definition, err := json.Marshal(rec.Definition)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal definition").WithCause(err)
	}
	input, err := marshalNullable(rec.Input)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal input").WithCause(err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO executions
		(execution_id, workflow_id, definition, status, agent_id, input, error, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.WorkflowID, string(definition), string(rec.Status),
		rec.AgentID, input, rawToNullable(rec.Error),
		rec.StartedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		if isConstraintViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "execution %s already exists", rec.ExecutionID)
		}
		return schema.NewErrorf(schema.ErrCodeStore, "create execution %s", rec.ExecutionID).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, executionID string, update ExecutionUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, update.CompletedAt.UTC())
	}
	args = append(args, executionID)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE executions SET %s WHERE execution_id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update execution %s", executionID).WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", executionID)
	}
	return nil
}

func (s *LibSQLStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT execution_id, workflow_id, definition, status,
		agent_id, input, error, started_at, completed_at, updated_at
		FROM executions WHERE execution_id = ?`, executionID)

	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %s not found", executionID)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get execution %s", executionID).WithCause(err)
	}
	return rec, nil
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	query := `SELECT execution_id, workflow_id, definition, status,
		agent_id, input, error, started_at, completed_at, updated_at FROM executions`
	var conds []string
	var args []any
	if filter.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CompletedBefore != nil {
		conds = append(conds, "completed_at IS NOT NULL AND completed_at < ?")
		args = append(args, filter.CompletedBefore.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list executions").WithCause(err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan execution").WithCause(err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteExecution(ctx context.Context, executionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "begin delete").WithCause(err)
	}
	for _, stmt := range []string{
		"DELETE FROM step_states WHERE execution_id = ?",
		"DELETE FROM events WHERE execution_id = ?",
		"DELETE FROM approvals WHERE execution_id = ?",
		"DELETE FROM executions WHERE execution_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, executionID); err != nil {
			_ = tx.Rollback()
			return schema.NewErrorf(schema.ErrCodeStore, "delete execution %s", executionID).WithCause(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "commit delete of %s", executionID).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) UpsertStepState(ctx context.Context, state *StepState) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO step_states
		(execution_id, step_id, sequence_order, status, output, error, started_at, completed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, step_id) DO UPDATE SET
			sequence_order = excluded.sequence_order,
			status = excluded.status,
			output = excluded.output,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms`,
		state.ExecutionID, state.StepID, state.SequenceOrder, string(state.Status),
		rawToNullable(state.Output), rawToNullable(state.Error),
		nullableTime(state.StartedAt), nullableTime(state.CompletedAt), state.DurationMs)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "upsert step %s", state.StepID).WithCause(err).WithStep(state.StepID)
	}
	return nil
}

func (s *LibSQLStore) ListStepStates(ctx context.Context, executionID string) ([]*StepState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT execution_id, step_id, sequence_order, status,
		output, error, started_at, completed_at, duration_ms
		FROM step_states WHERE execution_id = ? ORDER BY sequence_order, step_id`, executionID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list steps for %s", executionID).WithCause(err)
	}
	defer rows.Close()

	var out []*StepState
	for rows.Next() {
		var st StepState
		var status string
		var output, stepErr sql.NullString
		var started, completed sql.NullTime
		if err := rows.Scan(&st.ExecutionID, &st.StepID, &st.SequenceOrder, &status,
			&output, &stepErr, &started, &completed, &st.DurationMs); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan step state").WithCause(err)
		}
		st.Status = schema.StepStatus(status)
		if output.Valid {
			st.Output = json.RawMessage(output.String)
		}
		if stepErr.Valid {
			st.Error = json.RawMessage(stepErr.String)
		}
		if started.Valid {
			t := started.Time
			st.StartedAt = &t
		}
		if completed.Valid {
			t := completed.Time
			st.CompletedAt = &t
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO events
		(execution_id, step_id, event_type, payload, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		event.ExecutionID, event.StepID, event.Type, rawToNullable(event.Payload), event.Timestamp.UTC())
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "append event %s", event.Type).WithCause(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "read event id").WithCause(err)
	}
	event.ID = id
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, execution_id, step_id, event_type, payload, timestamp
		FROM events WHERE execution_id = ? AND id > ? ORDER BY id`, executionID, since)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get events for %s", executionID).WithCause(err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var ev Event
		var stepID, payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ExecutionID, &stepID, &ev.Type, &payload, &ev.Timestamp); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan event").WithCause(err)
		}
		ev.StepID = stepID.String
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) CreateApproval(ctx context.Context, approval *PendingApproval) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO approvals
		(id, execution_id, step_id, agent_id, action_type, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		approval.ID, approval.ExecutionID, approval.StepID, approval.AgentID,
		approval.ActionType, approval.Reason, approval.Status, approval.CreatedAt.UTC())
	if err != nil {
		if isConstraintViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "approval %s already exists", approval.ID)
		}
		return schema.NewErrorf(schema.ErrCodeStore, "create approval %s", approval.ID).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) ResolveApproval(ctx context.Context, approvalID string, approved bool, resolvedBy string) (*PendingApproval, error) {
	status := ApprovalStatusDenied
	if approved {
		status = ApprovalStatusApproved
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `UPDATE approvals
		SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		status, resolvedBy, now, approvalID, ApprovalStatusPending)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "resolve approval %s", approvalID).WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "pending approval %s not found", approvalID)
	}
	return s.getApproval(ctx, approvalID)
}

func (s *LibSQLStore) ListPendingApprovals(ctx context.Context, executionID string) ([]*PendingApproval, error) {
	query := `SELECT id, execution_id, step_id, agent_id, action_type, reason, status, resolved_by, created_at, resolved_at
		FROM approvals WHERE status = ?`
	args := []any{ApprovalStatusPending}
	if executionID != "" {
		query += " AND execution_id = ?"
		args = append(args, executionID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "list pending approvals").WithCause(err)
	}
	defer rows.Close()

	var out []*PendingApproval
	for rows.Next() {
		ap, err := scanApproval(rows)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "scan approval").WithCause(err)
		}
		out = append(out, ap)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) getApproval(ctx context.Context, approvalID string) (*PendingApproval, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, execution_id, step_id, agent_id, action_type, reason, status, resolved_by, created_at, resolved_at
		FROM approvals WHERE id = ?`, approvalID)
	ap, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "approval %s not found", approvalID)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "get approval %s", approvalID).WithCause(err)
	}
	return ap, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	var status, definition string
	var agentID, input, execErr sql.NullString
	var completed sql.NullTime
	if err := row.Scan(&rec.ExecutionID, &rec.WorkflowID, &definition, &status,
		&agentID, &input, &execErr, &rec.StartedAt, &completed, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(definition), &rec.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	rec.Status = schema.ExecutionStatus(status)
	rec.AgentID = agentID.String
	if input.Valid {
		if err := json.Unmarshal([]byte(input.String), &rec.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if execErr.Valid {
		rec.Error = json.RawMessage(execErr.String)
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}

func scanApproval(row rowScanner) (*PendingApproval, error) {
	var ap PendingApproval
	var agentID, reason, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&ap.ID, &ap.ExecutionID, &ap.StepID, &agentID, &ap.ActionType,
		&reason, &ap.Status, &resolvedBy, &ap.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	ap.AgentID = agentID.String
	ap.Reason = reason.String
	ap.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		ap.ResolvedAt = &t
	}
	return &ap, nil
}

func marshalNullable(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func rawToNullable(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
