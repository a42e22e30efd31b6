package schema

// ExecutionEventsTopic is the bus topic all lifecycle events are published on.
const ExecutionEventsTopic = "skein.execution.events"

// Metadata keys set on published bus messages.
const (
	EventTypeMetadataKey   = "event_type"
	ExecutionIDMetadataKey = "execution_id"
)

// Event type constants for the checkpoint event log and the lifecycle bus.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionCancelled = "execution_cancelled"
	EventExecutionPaused    = "execution_paused"
	EventExecutionResumed   = "execution_resumed"

	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"
	EventStepSkipped   = "step_skipped"
	EventStepRetried   = "step_retried"

	EventApprovalRequested = "approval_requested"
	EventApprovalResolved  = "approval_resolved"
)
