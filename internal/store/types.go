package store

import (
	"encoding/json"
	"time"

	"github.com/skein-dev/skein/pkg/schema"
)

// ExecutionRecord is the persisted representation of one workflow execution.
type ExecutionRecord struct {
	ExecutionID string                    `json:"execution_id"`
	WorkflowID  string                    `json:"workflow_id"`
	Definition  schema.WorkflowDefinition `json:"definition"`
	Status      schema.ExecutionStatus    `json:"status"`
	AgentID     string                    `json:"agent_id,omitempty"`
	Input       map[string]any            `json:"input,omitempty"`
	Error       json.RawMessage           `json:"error,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// ExecutionUpdate is a partial update applied to an execution record. Nil
// fields are left unchanged.
type ExecutionUpdate struct {
	Status      *schema.ExecutionStatus
	Error       json.RawMessage
	CompletedAt *time.Time
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	WorkflowID      string
	Status          schema.ExecutionStatus
	CompletedBefore *time.Time
	Limit           int
}

// StepState is the materialized view of a step's current execution state.
type StepState struct {
	ExecutionID   string            `json:"execution_id"`
	StepID        string            `json:"step_id"`
	SequenceOrder int               `json:"sequence_order"`
	Status        schema.StepStatus `json:"status"`
	Output        json.RawMessage   `json:"output,omitempty"`
	Error         json.RawMessage   `json:"error,omitempty"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	DurationMs    int64             `json:"duration_ms,omitempty"`
}

// Event is an immutable entry in the append-only execution event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	StepID      string          `json:"step_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Approval status values.
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusDenied   = "denied"
)

// PendingApproval is a governance verdict awaiting an external decision.
// While one exists for an execution, that execution is paused.
type PendingApproval struct {
	ID          string     `json:"id"`
	ExecutionID string     `json:"execution_id"`
	StepID      string     `json:"step_id"`
	AgentID     string     `json:"agent_id,omitempty"`
	ActionType  string     `json:"action_type"`
	Reason      string     `json:"reason,omitempty"`
	Status      string     `json:"status"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}
