// Package schema defines the workflow definition model, execution statuses,
// and the structured error type shared across the engine.
package schema

import "time"

// NodeType enumerates the kinds of nodes a workflow definition may contain.
type NodeType string

const (
	NodeTypeAction        NodeType = "action"
	NodeTypeBranch        NodeType = "branch"
	NodeTypeParallelGroup NodeType = "parallel-group"
)

// WorkflowDefinition is the declarative, graph-shaped automation definition.
// Nodes are steps, connections are dependencies with optional routing
// conditions. Definitions are immutable once submitted.
type WorkflowDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes       []Node         `json:"nodes" yaml:"nodes"`
	Connections []Connection   `json:"connections,omitempty" yaml:"connections,omitempty"`
	Variables   map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Node is a single declared step in a workflow definition.
// For action nodes, Config carries "service" and "action" plus the
// action-specific parameters handed to the dispatcher.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   NodeType       `json:"type,omitempty" yaml:"type,omitempty"` // default: action
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Connection is a directed edge between two nodes. A non-empty Condition is
// evaluated against the source node's recorded output after it completes;
// an empty Condition always routes.
type Connection struct {
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Step is the converted, execution-ready form of a Node. SequenceOrder is a
// deterministic topological position used for display and admission ordering;
// execution order itself is dependency-driven.
type Step struct {
	ID            string         `json:"id"`
	Type          NodeType       `json:"type"`
	SequenceOrder int            `json:"sequence_order"`
	Service       string         `json:"service,omitempty"`
	Action        string         `json:"action,omitempty"`
	Config        map[string]any `json:"config,omitempty"`
}

// ActionType returns the "service.action" pair the governance gate and
// dispatcher are keyed by.
func (s *Step) ActionType() string {
	if s.Service == "" {
		return s.Action
	}
	return s.Service + "." + s.Action
}

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending             ExecutionStatus = "pending"
	ExecutionStatusRunning             ExecutionStatus = "running"
	ExecutionStatusCompleted           ExecutionStatus = "completed"
	ExecutionStatusCompletedWithErrors ExecutionStatus = "completed_with_errors"
	ExecutionStatusFailed              ExecutionStatus = "failed"
	ExecutionStatusPaused              ExecutionStatus = "paused"
	ExecutionStatusCancelled           ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
// Failed executions are not terminal: an explicit external retry may
// re-enter running.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusCompletedWithErrors, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus represents the lifecycle state of a single step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Resolved reports whether the step has reached an outcome the scheduler can
// route on. Failed counts as resolved: under the continue policy independent
// branches keep going past it.
func (s StepStatus) Resolved() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}

// FailurePolicy controls how a step failure escalates.
type FailurePolicy string

const (
	// FailurePolicyHalt stops admitting new steps after the first failure and
	// marks the execution failed once in-flight steps drain. Default.
	FailurePolicyHalt FailurePolicy = "halt"
	// FailurePolicyContinue lets independent branches keep running; the
	// execution ends completed_with_errors once all reachable steps resolve.
	FailurePolicyContinue FailurePolicy = "continue"
)

// ExecutionSnapshot is the queryable state of one execution.
type ExecutionSnapshot struct {
	ExecutionID string                    `json:"execution_id"`
	WorkflowID  string                    `json:"workflow_id"`
	Status      ExecutionStatus           `json:"status"`
	StepStatus  map[string]StepStatus     `json:"step_status"`
	StepResults map[string]map[string]any `json:"step_results,omitempty"`
	Error       *EngineError              `json:"error,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}
