package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skein-dev/skein/pkg/schema"
)

func newExecutionRecord(id string) *ExecutionRecord {
	now := time.Now()
	return &ExecutionRecord{
		ExecutionID: id,
		WorkflowID:  "wf-orders",
		Definition: schema.WorkflowDefinition{
			ID:   "wf-orders",
			Name: "Order Pipeline",
			Nodes: []schema.Node{
				{ID: "fetch", Type: schema.NodeTypeAction},
			},
		},
		Status:    schema.ExecutionStatusRunning,
		AgentID:   "agent-1",
		Input:     map[string]any{"order_id": "o-42"},
		StartedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStore_ExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := newExecutionRecord("exec-1")
	require.NoError(t, s.CreateExecution(ctx, rec))

	got, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-orders", got.WorkflowID)
	assert.Equal(t, schema.ExecutionStatusRunning, got.Status)
	assert.Equal(t, "o-42", got.Input["order_id"])

	status := schema.ExecutionStatusCompleted
	done := time.Now()
	require.NoError(t, s.UpdateExecution(ctx, "exec-1", ExecutionUpdate{
		Status:      &status,
		CompletedAt: &done,
	}))

	got, err = s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestMemoryStore_CreateExecutionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateExecution(ctx, newExecutionRecord("exec-1")))
	err := s.CreateExecution(ctx, newExecutionRecord("exec-1"))
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeConflict, engineErr.Code)
}

func TestMemoryStore_GetExecutionNotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetExecution(context.Background(), "missing")
	require.Error(t, err)

	var engineErr *schema.EngineError
	require.True(t, errors.As(err, &engineErr))
	assert.Equal(t, schema.ErrCodeNotFound, engineErr.Code)
}

func TestMemoryStore_ListExecutionsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		rec := newExecutionRecord(id)
		rec.StartedAt = time.Now().Add(time.Duration(i) * time.Second)
		if id == "exec-3" {
			rec.WorkflowID = "wf-other"
			rec.Status = schema.ExecutionStatusFailed
		}
		require.NoError(t, s.CreateExecution(ctx, rec))
	}

	all, err := s.ListExecutions(ctx, ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byWorkflow, err := s.ListExecutions(ctx, ExecutionFilter{WorkflowID: "wf-orders"})
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 2)

	failed, err := s.ListExecutions(ctx, ExecutionFilter{Status: schema.ExecutionStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "exec-3", failed[0].ExecutionID)

	limited, err := s.ListExecutions(ctx, ExecutionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStore_ListExecutionsCompletedBefore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	old := newExecutionRecord("exec-old")
	require.NoError(t, s.CreateExecution(ctx, old))
	status := schema.ExecutionStatusCompleted
	longAgo := time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.UpdateExecution(ctx, "exec-old", ExecutionUpdate{Status: &status, CompletedAt: &longAgo}))

	fresh := newExecutionRecord("exec-fresh")
	require.NoError(t, s.CreateExecution(ctx, fresh))

	cutoff := time.Now().Add(-24 * time.Hour)
	stale, err := s.ListExecutions(ctx, ExecutionFilter{CompletedBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "exec-old", stale[0].ExecutionID)
}

func TestMemoryStore_DeleteExecutionCascades(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateExecution(ctx, newExecutionRecord("exec-1")))
	require.NoError(t, s.UpsertStepState(ctx, &StepState{
		ExecutionID: "exec-1", StepID: "fetch", Status: schema.StepStatusCompleted,
	}))
	require.NoError(t, s.AppendEvent(ctx, &Event{
		ExecutionID: "exec-1", Type: schema.EventStepCompleted, StepID: "fetch",
	}))

	require.NoError(t, s.DeleteExecution(ctx, "exec-1"))

	_, err := s.GetExecution(ctx, "exec-1")
	require.Error(t, err)

	steps, err := s.ListStepStates(ctx, "exec-1")
	require.NoError(t, err)
	assert.Empty(t, steps)

	events, err := s.GetEvents(ctx, "exec-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemoryStore_StepStatesOrderedBySequence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, st := range []*StepState{
		{ExecutionID: "exec-1", StepID: "c", SequenceOrder: 2, Status: schema.StepStatusPending},
		{ExecutionID: "exec-1", StepID: "a", SequenceOrder: 0, Status: schema.StepStatusCompleted},
		{ExecutionID: "exec-1", StepID: "b", SequenceOrder: 1, Status: schema.StepStatusRunning},
	} {
		require.NoError(t, s.UpsertStepState(ctx, st))
	}

	states, err := s.ListStepStates(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, "a", states[0].StepID)
	assert.Equal(t, "b", states[1].StepID)
	assert.Equal(t, "c", states[2].StepID)
}

func TestMemoryStore_UpsertStepStateOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.UpsertStepState(ctx, &StepState{
		ExecutionID: "exec-1", StepID: "fetch", Status: schema.StepStatusRunning,
	}))
	require.NoError(t, s.UpsertStepState(ctx, &StepState{
		ExecutionID: "exec-1", StepID: "fetch", Status: schema.StepStatusCompleted,
		Output: json.RawMessage(`{"count":5}`),
	}))

	states, err := s.ListStepStates(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, schema.StepStatusCompleted, states[0].Status)
	assert.JSONEq(t, `{"count":5}`, string(states[0].Output))
}

func TestMemoryStore_EventLogMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, typ := range []string{
		schema.EventExecutionStarted,
		schema.EventStepStarted,
		schema.EventStepCompleted,
	} {
		require.NoError(t, s.AppendEvent(ctx, &Event{ExecutionID: "exec-1", Type: typ}))
	}

	events, err := s.GetEvents(ctx, "exec-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].ID, events[i-1].ID)
	}

	tail, err := s.GetEvents(ctx, "exec-1", events[1].ID)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, schema.EventStepCompleted, tail[0].Type)
}

func TestMemoryStore_ApprovalLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateApproval(ctx, &PendingApproval{
		ID:          "ap-1",
		ExecutionID: "exec-1",
		StepID:      "notify",
		ActionType:  "net.http_request",
		Status:      ApprovalStatusPending,
		CreatedAt:   time.Now(),
	}))

	pending, err := s.ListPendingApprovals(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	resolved, err := s.ResolveApproval(ctx, "ap-1", true, "operator@example.com")
	require.NoError(t, err)
	assert.Equal(t, ApprovalStatusApproved, resolved.Status)
	assert.Equal(t, "operator@example.com", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	pending, err = s.ListPendingApprovals(ctx, "exec-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Resolving twice is rejected: the first decision stands.
	_, err = s.ResolveApproval(ctx, "ap-1", false, "someone-else")
	require.Error(t, err)
}

func TestMemoryStore_ResolveApprovalDenied(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateApproval(ctx, &PendingApproval{
		ID: "ap-1", ExecutionID: "exec-1", StepID: "notify",
		ActionType: "net.http_request", Status: ApprovalStatusPending, CreatedAt: time.Now(),
	}))

	resolved, err := s.ResolveApproval(ctx, "ap-1", false, "operator")
	require.NoError(t, err)
	assert.Equal(t, ApprovalStatusDenied, resolved.Status)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateExecution(ctx, newExecutionRecord("exec-1")))

	first, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	first.Status = schema.ExecutionStatusFailed
	first.Input["order_id"] = "tampered"

	second, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusRunning, second.Status)
	assert.Equal(t, "o-42", second.Input["order_id"])
}

func TestSplitStatements(t *testing.T) {
	script := `
-- leading comment
CREATE TABLE a (id TEXT);

CREATE INDEX idx_a ON a(id);
-- trailing comment only
`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE INDEX idx_a")
}
