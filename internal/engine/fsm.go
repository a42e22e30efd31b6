package engine

import (
	"context"
	"sync"

	"github.com/skein-dev/skein/internal/store"
	"github.com/skein-dev/skein/pkg/schema"
)

// EventAppender is satisfied by the CheckpointStore; FSMs emit an event log
// entry on every transition.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// ValidExecutionTransitions defines the allowed execution status transitions.
// FAILED is re-enterable: an explicit retry moves it back to RUNNING.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:             {schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusRunning:             {schema.ExecutionStatusPaused, schema.ExecutionStatusCompleted, schema.ExecutionStatusCompletedWithErrors, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusPaused:              {schema.ExecutionStatusRunning, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusFailed:              {schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusCompleted:           {},
	schema.ExecutionStatusCompletedWithErrors: {},
	schema.ExecutionStatusCancelled:           {},
}

// ValidStepTransitions defines the allowed step status transitions. A step
// never jumps PENDING to a terminal state without passing RUNNING; the one
// exception is SKIPPED, which by definition never runs.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed},
	schema.StepStatusFailed:    {schema.StepStatusRunning},
	schema.StepStatusCompleted: {},
	schema.StepStatusSkipped:   {},
}

// ExecutionFSM validates execution status transitions and emits the
// corresponding event log entry.
type ExecutionFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

func NewExecutionFSM(appender EventAppender) *ExecutionFSM {
	return &ExecutionFSM{appender: appender}
}

// Transition validates and records an execution status transition. The
// caller persists the new status; an event append failure is surfaced so the
// caller can log it as a warning.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID string, from, to schema.ExecutionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !transitionAllowed(ValidExecutionTransitions, from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	eventType := executionEventType(from, to)
	if eventType == "" || f.appender == nil {
		return nil
	}
	if err := f.appender.AppendEvent(ctx, &store.Event{
		ExecutionID: executionID,
		Type:        eventType,
	}); err != nil {
		return schema.NewError(schema.ErrCodeStore, "emit execution event").WithCause(err)
	}
	return nil
}

// StepFSM validates step status transitions and emits the corresponding
// event log entry.
type StepFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

func NewStepFSM(appender EventAppender) *StepFSM {
	return &StepFSM{appender: appender}
}

func (f *StepFSM) Transition(ctx context.Context, executionID, stepID string, from, to schema.StepStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !transitionAllowed(ValidStepTransitions, from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithStep(stepID).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	eventType := stepEventType(from, to)
	if eventType == "" || f.appender == nil {
		return nil
	}
	if err := f.appender.AppendEvent(ctx, &store.Event{
		ExecutionID: executionID,
		StepID:      stepID,
		Type:        eventType,
	}); err != nil {
		return schema.NewError(schema.ErrCodeStore, "emit step event").WithStep(stepID).WithCause(err)
	}
	return nil
}

func transitionAllowed[S comparable](table map[S][]S, from, to S) bool {
	for _, a := range table[from] {
		if a == to {
			return true
		}
	}
	return false
}

func executionEventType(from, to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionStatusRunning:
		if from == schema.ExecutionStatusPending {
			return schema.EventExecutionStarted
		}
		return schema.EventExecutionResumed
	case schema.ExecutionStatusPaused:
		return schema.EventExecutionPaused
	case schema.ExecutionStatusCompleted, schema.ExecutionStatusCompletedWithErrors:
		return schema.EventExecutionCompleted
	case schema.ExecutionStatusFailed:
		return schema.EventExecutionFailed
	case schema.ExecutionStatusCancelled:
		return schema.EventExecutionCancelled
	default:
		return ""
	}
}

func stepEventType(from, to schema.StepStatus) string {
	switch to {
	case schema.StepStatusRunning:
		if from == schema.StepStatusFailed {
			return schema.EventStepRetried
		}
		return schema.EventStepStarted
	case schema.StepStatusCompleted:
		return schema.EventStepCompleted
	case schema.StepStatusFailed:
		return schema.EventStepFailed
	case schema.StepStatusSkipped:
		return schema.EventStepSkipped
	default:
		return ""
	}
}
