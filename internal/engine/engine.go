// Package engine turns a graph-shaped workflow definition into an ordered,
// partially-parallel execution: variable piping between steps, conditional
// routing, cooperative cancellation and an execution state machine.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skein-dev/skein/internal/dispatch"
	"github.com/skein-dev/skein/internal/events"
	"github.com/skein-dev/skein/internal/expressions"
	"github.com/skein-dev/skein/internal/governance"
	"github.com/skein-dev/skein/internal/graph"
	"github.com/skein-dev/skein/internal/logging"
	"github.com/skein-dev/skein/internal/store"
	"github.com/skein-dev/skein/pkg/schema"
)

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	// MaxConcurrentSteps bounds in-flight steps per execution. Default 4.
	MaxConcurrentSteps int
	// PoolSize bounds in-flight steps process-wide. Default 64.
	PoolSize int
	// FailurePolicy is the default aggregation policy; a definition may
	// override it. Default halt.
	FailurePolicy schema.FailurePolicy
	// AbandonInFlightOnCancel stops the scheduler from waiting for
	// dispatched steps when an execution is cancelled. Steps are never
	// interrupted either way; by default their results are still recorded.
	AbandonInFlightOnCancel bool
	// ConditionLanguage selects the routing expression engine: "cel"
	// (default) or "expr".
	ConditionLanguage string
	// AgentID is attributed to executions for governance checks.
	AgentID string
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentSteps <= 0 {
		c.MaxConcurrentSteps = 4
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 64
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = schema.FailurePolicyHalt
	}
	return c
}

// run holds the mutable state of one execution. The scheduler goroutine is
// the single writer; API methods touch it only under mu.
type run struct {
	executionID string
	def         *schema.WorkflowDefinition
	steps       []schema.Step
	byID        map[string]*schema.Step
	graph       *graph.ExecutionGraph
	conditional bool // any connection carries a routing condition
	agentID     string
	vars        map[string]any

	mu          sync.Mutex
	status      schema.ExecutionStatus
	stepStatus  map[string]schema.StepStatus
	stepOutputs map[string]map[string]any
	stepErrors  map[string]*schema.EngineError
	execErr     *schema.EngineError
	startedAt   time.Time
	completedAt *time.Time
	approvals   map[string]string // step ID -> pending approval ID
	decisions   map[string]bool   // step ID -> resolved approval verdict
	retries     map[string]bool   // step IDs re-admitted by explicit retry
	waiters     []chan struct{}

	wake    chan struct{}
	results chan stepResult
}

func (r *run) snapshotStatus() schema.ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *run) statusOf(stepID string) schema.StepStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stepStatus[stepID]
}

// outputsLocked copies the recorded outputs. Caller holds mu.
func (r *run) outputsLocked() map[string]map[string]any {
	out := make(map[string]map[string]any, len(r.stepOutputs))
	for id, m := range r.stepOutputs {
		out[id] = m
	}
	return out
}

// anyFailedLocked reports whether any step is FAILED. Caller holds mu.
func (r *run) anyFailedLocked() bool {
	for _, s := range r.stepStatus {
		if s == schema.StepStatusFailed {
			return true
		}
	}
	return false
}

// nudge wakes a parked scheduler without blocking.
func (r *run) nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Engine drives workflow executions. Collaborators are injected: the
// checkpoint store, the action dispatcher and the governance gate are
// external contracts the engine only consumes.
type Engine struct {
	cfg      Config
	store    store.CheckpointStore
	dispatch dispatch.Dispatcher
	gate     governance.Gate
	bus      events.Bus
	resolver *expressions.Resolver
	router   *Router
	execFSM  *ExecutionFSM
	stepFSM  *StepFSM
	pool     *WorkerPool
	cancels  *CancellationRegistry
	logger   *slog.Logger

	mu       sync.Mutex
	runs     map[string]*run
	shutdown chan struct{}
	closed   bool
}

// New creates an Engine. store and dispatcher are required; a nil gate
// allows everything and a nil bus discards lifecycle events.
func New(cfg Config, st store.CheckpointStore, dispatcher dispatch.Dispatcher, gate governance.Gate, bus events.Bus, logger *slog.Logger) (*Engine, error) {
	if st == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidDefinition, "checkpoint store is required")
	}
	if dispatcher == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidDefinition, "dispatcher is required")
	}
	if gate == nil {
		gate = governance.AllowAll{}
	}
	if bus == nil {
		bus = events.NopBus{}
	}
	if logger == nil {
		logger = slog.New(logging.NewCorrelationHandler(slog.Default().Handler()))
	}
	cfg = cfg.withDefaults()

	condEngine, err := expressions.NewEngine(cfg.ConditionLanguage)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		store:    st,
		dispatch: dispatcher,
		gate:     gate,
		bus:      bus,
		resolver: expressions.NewResolver(),
		router:   NewRouter(condEngine),
		execFSM:  NewExecutionFSM(st),
		stepFSM:  NewStepFSM(st),
		pool:     NewWorkerPool(cfg.PoolSize),
		cancels:  NewCancellationRegistry(),
		logger:   logger,
		runs:     make(map[string]*run),
		shutdown: make(chan struct{}),
	}, nil
}

// StartExecution validates the definition and launches its scheduler.
// A cyclic graph or dangling connection rejects the submit before any step
// runs.
func (e *Engine) StartExecution(ctx context.Context, def *schema.WorkflowDefinition, input map[string]any) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", schema.NewError(schema.ErrCodeConflict, "engine is shut down")
	}
	e.mu.Unlock()

	steps, err := graph.ConvertToSteps(def)
	if err != nil {
		return "", err
	}
	g, err := graph.BuildGraph(def)
	if err != nil {
		return "", err
	}

	executionID := e.newID()
	ctx = logging.WithExecutionID(ctx, executionID)

	vars := make(map[string]any, len(def.Variables)+len(input))
	for k, v := range def.Variables {
		vars[k] = v
	}
	for k, v := range input {
		vars[k] = v
	}

	r := &run{
		executionID: executionID,
		def:         def,
		steps:       steps,
		byID:        make(map[string]*schema.Step, len(steps)),
		graph:       g,
		conditional: graph.HasConditionalConnections(def),
		agentID:     e.cfg.AgentID,
		vars:        vars,
		status:      schema.ExecutionStatusPending,
		stepStatus:  make(map[string]schema.StepStatus, len(steps)),
		stepOutputs: make(map[string]map[string]any, len(steps)),
		stepErrors:  make(map[string]*schema.EngineError),
		approvals:   make(map[string]string),
		decisions:   make(map[string]bool),
		retries:     make(map[string]bool),
		startedAt:   time.Now(),
		wake:        make(chan struct{}, 1),
		results:     make(chan stepResult, len(steps)),
	}
	for i := range r.steps {
		step := &r.steps[i]
		r.byID[step.ID] = step
		r.stepStatus[step.ID] = schema.StepStatusPending
	}

	rec := &store.ExecutionRecord{
		ExecutionID: executionID,
		WorkflowID:  def.ID,
		Definition:  *def,
		Status:      schema.ExecutionStatusPending,
		AgentID:     e.cfg.AgentID,
		Input:       input,
		StartedAt:   r.startedAt,
		UpdatedAt:   r.startedAt,
	}
	if err := e.store.CreateExecution(ctx, rec); err != nil {
		e.logger.WarnContext(ctx, "start checkpoint failed", "error", err)
	}
	for i := range r.steps {
		step := &r.steps[i]
		state := &store.StepState{
			ExecutionID:   executionID,
			StepID:        step.ID,
			SequenceOrder: step.SequenceOrder,
			Status:        schema.StepStatusPending,
		}
		if err := e.store.UpsertStepState(ctx, state); err != nil {
			e.logger.WarnContext(ctx, "step checkpoint failed", "error", err)
		}
	}

	e.mu.Lock()
	e.runs[executionID] = r
	e.mu.Unlock()

	e.transitionExecution(ctx, r, schema.ExecutionStatusRunning, nil)
	go e.schedule(r)

	return executionID, nil
}

// RequestCancel marks the execution for cooperative cancellation.
// Fire-and-forget and idempotent: unknown IDs are recorded too, so a racing
// submit still observes the request.
func (e *Engine) RequestCancel(executionID string) {
	e.cancels.RequestCancel(executionID)
	if r := e.getRun(executionID); r != nil {
		r.nudge()
	}
}

// GetStatus returns the execution snapshot: live state for active runs,
// checkpoint state for settled ones.
func (e *Engine) GetStatus(ctx context.Context, executionID string) (*schema.ExecutionSnapshot, error) {
	if r := e.getRun(executionID); r != nil {
		return r.snapshot(), nil
	}

	rec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	states, err := e.store.ListStepStates(ctx, executionID)
	if err != nil {
		return nil, err
	}

	snap := &schema.ExecutionSnapshot{
		ExecutionID: rec.ExecutionID,
		WorkflowID:  rec.WorkflowID,
		Status:      rec.Status,
		StepStatus:  make(map[string]schema.StepStatus, len(states)),
		StepResults: make(map[string]map[string]any),
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
	for _, st := range states {
		snap.StepStatus[st.StepID] = st.Status
		if len(st.Output) > 0 {
			var out map[string]any
			if err := json.Unmarshal(st.Output, &out); err == nil {
				snap.StepResults[st.StepID] = out
			}
		}
	}
	if len(rec.Error) > 0 {
		var engineErr schema.EngineError
		if err := json.Unmarshal(rec.Error, &engineErr); err == nil {
			snap.Error = &engineErr
		}
	}
	return snap, nil
}

// Resume re-enters a PAUSED execution. Steps with unresolved approvals stay
// parked; everything else becomes schedulable again.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	r := e.getRun(executionID)
	if r == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no active execution %s", executionID)
	}
	if r.snapshotStatus() != schema.ExecutionStatusPaused {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "execution %s is not paused", executionID)
	}
	e.transitionExecution(logging.WithExecutionID(ctx, executionID), r, schema.ExecutionStatusRunning, nil)
	r.nudge()
	return nil
}

// RetryStep re-admits a FAILED step of a FAILED execution. Nothing is
// retried automatically; this is the only path back from FAILED.
func (e *Engine) RetryStep(ctx context.Context, executionID, stepID string) error {
	r := e.getRun(executionID)
	if r == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no active execution %s", executionID)
	}

	r.mu.Lock()
	if _, ok := r.byID[stepID]; !ok {
		r.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "unknown step %s", stepID).WithStep(stepID)
	}
	if r.stepStatus[stepID] != schema.StepStatusFailed {
		status := r.stepStatus[stepID]
		r.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"step %s is %s, only failed steps can be retried", stepID, status).WithStep(stepID)
	}
	r.retries[stepID] = true
	r.mu.Unlock()

	ctx = logging.WithExecutionID(ctx, executionID)
	if r.snapshotStatus() == schema.ExecutionStatusFailed {
		e.transitionExecution(ctx, r, schema.ExecutionStatusRunning, nil)
	}
	r.nudge()
	return nil
}

// ResolveApproval records the decision for a pending approval and resumes
// the execution once no other approvals are outstanding.
func (e *Engine) ResolveApproval(ctx context.Context, approvalID string, approved bool, resolvedBy string) error {
	approval, err := e.store.ResolveApproval(ctx, approvalID, approved, resolvedBy)
	if err != nil {
		return err
	}

	r := e.getRun(approval.ExecutionID)
	if r == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no active execution %s", approval.ExecutionID)
	}

	ctx = logging.WithExecutionID(ctx, approval.ExecutionID)

	r.mu.Lock()
	delete(r.approvals, approval.StepID)
	r.decisions[approval.StepID] = approved
	remaining := len(r.approvals)
	r.mu.Unlock()

	e.publishEvent(ctx, r, schema.EventApprovalResolved, approval.StepID, map[string]any{
		"approval_id": approvalID,
		"approved":    approved,
		"resolved_by": resolvedBy,
	})

	if remaining == 0 && r.snapshotStatus() == schema.ExecutionStatusPaused {
		e.transitionExecution(ctx, r, schema.ExecutionStatusRunning, nil)
	}
	r.nudge()
	return nil
}

// Wait blocks until the execution settles: terminal, PAUSED, or FAILED.
func (e *Engine) Wait(ctx context.Context, executionID string) (*schema.ExecutionSnapshot, error) {
	for {
		r := e.getRun(executionID)
		if r == nil {
			return e.GetStatus(ctx, executionID)
		}

		r.mu.Lock()
		if quiescent(r.status) {
			r.mu.Unlock()
			return r.snapshot(), nil
		}
		waiter := make(chan struct{})
		r.waiters = append(r.waiters, waiter)
		r.mu.Unlock()

		select {
		case <-waiter:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.shutdown:
			return r.snapshot(), nil
		}
	}
}

// ListPendingApprovals returns unresolved approvals, optionally scoped to
// one execution.
func (e *Engine) ListPendingApprovals(ctx context.Context, executionID string) ([]*store.PendingApproval, error) {
	return e.store.ListPendingApprovals(ctx, executionID)
}

// PoolMetrics exposes the shared worker pool counters.
func (e *Engine) PoolMetrics() PoolMetrics {
	return e.pool.Metrics()
}

// Close stops accepting work and shuts the worker pool down. In-flight
// steps finish; parked schedulers exit.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.shutdown)
	e.mu.Unlock()

	e.pool.Shutdown()
}

func (e *Engine) getRun(executionID string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[executionID]
}

func (e *Engine) removeRun(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, executionID)
}

func (e *Engine) newID() string {
	return uuid.NewString()
}

func (e *Engine) publishEvent(ctx context.Context, r *run, eventType, stepID string, data map[string]any) {
	err := e.bus.Publish(ctx, &events.LifecycleEvent{
		Type:        eventType,
		ExecutionID: r.executionID,
		WorkflowID:  r.def.ID,
		StepID:      stepID,
		Data:        data,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "lifecycle publish failed", "event", eventType, "error", err)
	}
}

// snapshot builds the externally visible view of the run.
func (r *run) snapshot() *schema.ExecutionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := &schema.ExecutionSnapshot{
		ExecutionID: r.executionID,
		WorkflowID:  r.def.ID,
		Status:      r.status,
		StepStatus:  make(map[string]schema.StepStatus, len(r.stepStatus)),
		StepResults: make(map[string]map[string]any, len(r.stepOutputs)),
		Error:       r.execErr,
		StartedAt:   r.startedAt,
		CompletedAt: r.completedAt,
	}
	for id, s := range r.stepStatus {
		snap.StepStatus[id] = s
	}
	for id, out := range r.stepOutputs {
		copied := make(map[string]any, len(out))
		for k, v := range out {
			copied[k] = v
		}
		snap.StepResults[id] = copied
	}
	return snap
}
