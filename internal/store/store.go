// Package store provides checkpoint persistence for executions: execution
// records, per-step states, an append-only event log, and pending approvals.
package store

import "context"

// CheckpointStore is the persistence contract the engine consumes. The engine
// never requires a checkpoint write to succeed synchronously: failures are
// logged as warnings, not surfaced as execution failures.
// All implementations must be safe for concurrent use.
type CheckpointStore interface {
	// Executions
	CreateExecution(ctx context.Context, rec *ExecutionRecord) error
	UpdateExecution(ctx context.Context, executionID string, update ExecutionUpdate) error
	GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error)
	DeleteExecution(ctx context.Context, executionID string) error

	// Step state (materialized view)
	UpsertStepState(ctx context.Context, state *StepState) error
	ListStepStates(ctx context.Context, executionID string) ([]*StepState, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)

	// Approvals
	CreateApproval(ctx context.Context, approval *PendingApproval) error
	ResolveApproval(ctx context.Context, approvalID string, approved bool, resolvedBy string) (*PendingApproval, error)
	ListPendingApprovals(ctx context.Context, executionID string) ([]*PendingApproval, error)

	// Lifecycle
	Close() error
}
