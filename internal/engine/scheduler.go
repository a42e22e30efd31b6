package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/skein-dev/skein/internal/logging"
	"github.com/skein-dev/skein/internal/store"
	"github.com/skein-dev/skein/pkg/schema"
)

// stepResult is what a worker reports back to the scheduler goroutine.
type stepResult struct {
	stepID   string
	output   map[string]any
	err      error
	started  time.Time
	duration time.Duration
}

// schedule is the per-execution scheduler loop. It is the single writer of
// the run's step statuses and outputs: workers only dispatch the action and
// report back on the results channel.
func (e *Engine) schedule(r *run) {
	ctx := logging.WithExecutionID(context.Background(), r.executionID)
	if r.agentID != "" {
		ctx = logging.WithAgentID(ctx, r.agentID)
	}

	defer func() {
		e.cancels.ClearCancel(r.executionID)
		e.removeRun(r.executionID)
	}()

	inFlight := 0
	for {
		if e.cancels.IsCancelled(r.executionID) && !r.snapshotStatus().Terminal() {
			if !e.cfg.AbandonInFlightOnCancel {
				for inFlight > 0 {
					e.recordResult(ctx, r, <-r.results)
					inFlight--
				}
			}
			e.finalize(ctx, r, schema.ExecutionStatusCancelled,
				schema.NewError(schema.ErrCodeCancelled, "execution cancelled by request"))
			return
		}

		if r.snapshotStatus() == schema.ExecutionStatusPaused {
			// Drain in-flight work, then park until an approval decision,
			// resume, or cancel arrives.
			for inFlight > 0 {
				e.recordResult(ctx, r, <-r.results)
				inFlight--
			}
			select {
			case <-r.wake:
				continue
			case <-e.shutdown:
				return
			}
		}

		admitted := e.admit(ctx, r, &inFlight)

		if inFlight == 0 {
			if r.snapshotStatus() == schema.ExecutionStatusPaused {
				continue
			}
			if done, final, execErr := e.aggregate(r); done {
				e.finalize(ctx, r, final, execErr)
				if final != schema.ExecutionStatusFailed {
					return
				}
				// FAILED is re-enterable; park for an explicit retry.
				select {
				case <-r.wake:
					continue
				case <-e.shutdown:
					return
				}
			}
			if !admitted {
				// Nothing runnable and not settled; wait for an external
				// nudge rather than spinning.
				select {
				case <-r.wake:
					continue
				case <-e.shutdown:
					return
				}
			}
			continue
		}

		select {
		case res := <-r.results:
			e.recordResult(ctx, r, res)
			inFlight--
		case <-r.wake:
		case <-e.shutdown:
			return
		}
	}
}

// admit scans pending steps in sequence order, marking skips and dispatching
// every ready step up to the concurrency limit. Skips can cascade, so the
// scan repeats until a fixpoint. Returns whether any state changed.
func (e *Engine) admit(ctx context.Context, r *run, inFlight *int) bool {
	progressed := false
	for {
		changed := false
		for i := range r.steps {
			step := &r.steps[i]

			r.mu.Lock()
			status := r.stepStatus[step.ID]
			retrying := r.retries[step.ID]
			halted := e.cfg.FailurePolicy != schema.FailurePolicyContinue && r.anyFailedLocked()
			paused := r.status == schema.ExecutionStatusPaused
			r.mu.Unlock()

			if paused {
				return progressed || changed
			}

			admissible := status == schema.StepStatusPending ||
				(status == schema.StepStatusFailed && retrying)
			if !admissible {
				continue
			}
			if halted && !retrying {
				continue
			}

			switch verdict, routeErr := e.readiness(ctx, r, step); {
			case routeErr != nil:
				e.stepFailed(ctx, r, step, status, routeErr)
				changed = true

			case verdict == readinessSkip:
				e.setStepStatus(ctx, r, step, status, schema.StepStatusSkipped, nil, nil, nil)
				changed = true

			case verdict == readinessReady:
				if *inFlight >= e.cfg.MaxConcurrentSteps {
					continue
				}
				if e.dispatchStep(ctx, r, step, status) {
					*inFlight++
				}
				changed = true
			}
		}
		if !changed {
			return progressed
		}
		progressed = true
	}
}

type readinessVerdict int

const (
	readinessNotReady readinessVerdict = iota
	readinessReady
	readinessSkip
)

// readiness decides whether a step may start: all predecessors must be
// resolved, and at least one incoming edge must have routed true from a
// completed source. With every predecessor resolved and no edge fired, the
// step is skipped. Roots are always ready.
func (e *Engine) readiness(ctx context.Context, r *run, step *schema.Step) (readinessVerdict, error) {
	preds := r.graph.Reverse[step.ID]
	if len(preds) == 0 {
		return readinessReady, nil
	}

	r.mu.Lock()
	anyCompleted := false
	for _, pred := range preds {
		status := r.stepStatus[pred]
		if !status.Resolved() {
			r.mu.Unlock()
			return readinessNotReady, nil
		}
		if status == schema.StepStatusCompleted {
			anyCompleted = true
		}
	}
	outputs := r.outputsLocked()
	r.mu.Unlock()

	// No condition anywhere in the graph means every edge from a completed
	// source fires; skip the per-edge routing pass entirely.
	if !r.conditional {
		if anyCompleted {
			return readinessReady, nil
		}
		return readinessSkip, nil
	}

	for _, conn := range r.graph.Incoming[step.ID] {
		if r.statusOf(conn.Source) != schema.StepStatusCompleted {
			continue
		}
		fired, err := e.router.Route(ctx, conn, outputs[conn.Source], outputs, r.vars)
		if err != nil {
			var engineErr *schema.EngineError
			if errors.As(err, &engineErr) {
				return readinessNotReady, engineErr.WithStep(step.ID)
			}
			return readinessNotReady, schema.NewErrorf(schema.ErrCodeConditionEval,
				"evaluate condition on %s -> %s", conn.Source, step.ID).WithStep(step.ID).WithCause(err)
		}
		if fired {
			return readinessReady, nil
		}
	}
	return readinessSkip, nil
}

// dispatchStep runs governance and variable resolution, then hands the step
// to the worker pool. Returns true if a worker is now in flight.
func (e *Engine) dispatchStep(ctx context.Context, r *run, step *schema.Step, from schema.StepStatus) bool {
	stepCtx := logging.WithStepID(ctx, step.ID)

	r.mu.Lock()
	decision, decided := r.decisions[step.ID]
	if decided {
		delete(r.decisions, step.ID)
	}
	outputs := r.outputsLocked()
	r.mu.Unlock()

	if decided {
		if !decision {
			e.stepFailed(stepCtx, r, step, from,
				schema.NewErrorf(schema.ErrCodeGovernanceDenied, "approval denied for %s", step.ActionType()).WithStep(step.ID))
			return false
		}
	} else {
		verdict, err := e.gate.CheckAllowed(stepCtx, r.agentID, step.ActionType())
		if err != nil {
			e.stepFailed(stepCtx, r, step, from,
				schema.NewErrorf(schema.ErrCodeGovernanceDenied, "governance check failed for %s", step.ActionType()).
					WithStep(step.ID).WithCause(err))
			return false
		}
		if !verdict.Allowed {
			e.stepFailed(stepCtx, r, step, from,
				schema.NewErrorf(schema.ErrCodeGovernanceDenied, "governance denied %s: %s", step.ActionType(), verdict.Reason).
					WithStep(step.ID).WithDetails(map[string]any{"reason": verdict.Reason}))
			return false
		}
		if verdict.RequiresApproval {
			e.pauseForApproval(stepCtx, r, step, verdict.Reason)
			return false
		}
	}

	resolved, err := e.resolver.ResolveConfig(step.Config, outputs)
	if err != nil {
		e.stepFailed(stepCtx, r, step, from, err)
		return false
	}

	e.setStepStatus(stepCtx, r, step, from, schema.StepStatusRunning, nil, nil, nil)

	service, action := step.Service, step.Action
	actionType := step.ActionType()
	started := time.Now()
	submitErr := e.pool.Submit(stepCtx, func(workerCtx context.Context) error {
		res := stepResult{stepID: step.ID, started: started}
		// The result send must survive a panicking action, or the
		// scheduler's in-flight count never drains and the execution
		// wedges. Re-panic afterwards so the pool still records it.
		defer func() {
			rec := recover()
			if rec != nil {
				res.output = nil
				res.err = schema.NewErrorf(schema.ErrCodeActionDispatch,
					"action %s panicked: %v", actionType, rec).WithStep(res.stepID)
			}
			res.duration = time.Since(started)
			r.results <- res
			if rec != nil {
				panic(rec)
			}
		}()
		res.output, res.err = e.dispatch.Execute(workerCtx, service, action, resolved)
		return res.err
	})
	if submitErr != nil {
		e.stepFailed(stepCtx, r, step, schema.StepStatusRunning,
			schema.NewErrorf(schema.ErrCodeActionDispatch, "submit step %s", step.ID).
				WithStep(step.ID).WithCause(submitErr))
		return false
	}
	return true
}

// pauseForApproval records a pending approval and moves the execution to
// PAUSED. The step itself stays PENDING and is re-admitted once the
// approval is resolved.
func (e *Engine) pauseForApproval(ctx context.Context, r *run, step *schema.Step, reason string) {
	// A resume without a decision lands the step here again; the original
	// approval record still pins it, so re-pause without creating another.
	r.mu.Lock()
	_, alreadyPending := r.approvals[step.ID]
	r.mu.Unlock()
	if alreadyPending {
		e.transitionExecution(ctx, r, schema.ExecutionStatusPaused, nil)
		return
	}

	approval := &store.PendingApproval{
		ID:          e.newID(),
		ExecutionID: r.executionID,
		StepID:      step.ID,
		AgentID:     r.agentID,
		ActionType:  step.ActionType(),
		Reason:      reason,
		Status:      store.ApprovalStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := e.store.CreateApproval(ctx, approval); err != nil {
		e.logger.WarnContext(ctx, "approval checkpoint failed", "error", err)
	}

	r.mu.Lock()
	r.approvals[step.ID] = approval.ID
	r.mu.Unlock()

	e.transitionExecution(ctx, r, schema.ExecutionStatusPaused, nil)
	e.publishEvent(ctx, r, schema.EventApprovalRequested, step.ID, map[string]any{
		"approval_id": approval.ID,
		"action_type": step.ActionType(),
		"reason":      reason,
	})
}

// recordResult applies one worker's outcome. Dispatcher failures become
// ActionDispatchError unless the dispatcher already returned a typed error.
func (e *Engine) recordResult(ctx context.Context, r *run, res stepResult) {
	step := r.byID[res.stepID]
	stepCtx := logging.WithStepID(ctx, res.stepID)

	if res.err != nil {
		var engineErr *schema.EngineError
		if !errors.As(res.err, &engineErr) {
			engineErr = schema.NewErrorf(schema.ErrCodeActionDispatch, "action %s failed", step.ActionType()).
				WithStep(res.stepID).WithCause(res.err)
		}
		e.setStepStatus(stepCtx, r, step, schema.StepStatusRunning, schema.StepStatusFailed, nil, engineErr, &res)
		return
	}
	e.setStepStatus(stepCtx, r, step, schema.StepStatusRunning, schema.StepStatusCompleted, res.output, nil, &res)
}

// aggregate decides whether the execution has settled and with what status.
func (e *Engine) aggregate(r *run) (bool, schema.ExecutionStatus, *schema.EngineError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	anyFailed := false
	var firstFailure *schema.EngineError
	allResolved := true
	for _, step := range r.steps {
		switch r.stepStatus[step.ID] {
		case schema.StepStatusFailed:
			anyFailed = true
			if firstFailure == nil {
				firstFailure = r.stepErrors[step.ID]
			}
		case schema.StepStatusCompleted, schema.StepStatusSkipped:
		default:
			allResolved = false
		}
	}

	if anyFailed && e.cfg.FailurePolicy != schema.FailurePolicyContinue {
		return true, schema.ExecutionStatusFailed, firstFailure
	}
	if !allResolved {
		return false, "", nil
	}
	if anyFailed {
		return true, schema.ExecutionStatusCompletedWithErrors, firstFailure
	}
	return true, schema.ExecutionStatusCompleted, nil
}

// finalize moves the execution to its settled status and writes the
// terminal checkpoint.
func (e *Engine) finalize(ctx context.Context, r *run, status schema.ExecutionStatus, execErr *schema.EngineError) {
	e.transitionExecution(ctx, r, status, execErr)

	now := time.Now()
	r.mu.Lock()
	r.completedAt = &now
	r.mu.Unlock()

	update := store.ExecutionUpdate{Status: &status, CompletedAt: &now}
	if execErr != nil {
		if raw, err := json.Marshal(execErr); err == nil {
			update.Error = raw
		}
	}
	if err := e.store.UpdateExecution(ctx, r.executionID, update); err != nil {
		e.logger.WarnContext(ctx, "terminal checkpoint failed", "error", err)
	}
}

// stepFailed marks a step FAILED without it ever having run. The state
// machine forbids PENDING -> FAILED directly, so it passes through RUNNING.
func (e *Engine) stepFailed(ctx context.Context, r *run, step *schema.Step, from schema.StepStatus, err error) {
	var engineErr *schema.EngineError
	if !errors.As(err, &engineErr) {
		engineErr = schema.NewError(schema.ErrCodeActionDispatch, err.Error()).WithStep(step.ID).WithCause(err)
	}
	if from != schema.StepStatusRunning {
		e.setStepStatus(ctx, r, step, from, schema.StepStatusRunning, nil, nil, nil)
	}
	e.setStepStatus(ctx, r, step, schema.StepStatusRunning, schema.StepStatusFailed, nil, engineErr, nil)
}

// setStepStatus is the single place step state changes: FSM validation and
// event log append, in-memory update, checkpoint write, bus publish.
// timing carries the worker's measured start and duration for resolved
// steps; nil when the step never ran.
func (e *Engine) setStepStatus(ctx context.Context, r *run, step *schema.Step, from, to schema.StepStatus, output map[string]any, stepErr *schema.EngineError, timing *stepResult) {
	if err := e.stepFSM.Transition(ctx, r.executionID, step.ID, from, to); err != nil {
		var engineErr *schema.EngineError
		if errors.As(err, &engineErr) && engineErr.Code == schema.ErrCodeInvalidTransition {
			e.logger.ErrorContext(ctx, "rejected step transition", "error", err)
			return
		}
		e.logger.WarnContext(ctx, "step event append failed", "error", err)
	}

	now := time.Now()
	r.mu.Lock()
	r.stepStatus[step.ID] = to
	if to == schema.StepStatusRunning {
		delete(r.retries, step.ID)
		delete(r.stepErrors, step.ID)
	}
	if output != nil {
		r.stepOutputs[step.ID] = output
	}
	if stepErr != nil {
		r.stepErrors[step.ID] = stepErr
	}
	r.mu.Unlock()

	state := &store.StepState{
		ExecutionID:   r.executionID,
		StepID:        step.ID,
		SequenceOrder: step.SequenceOrder,
		Status:        to,
	}
	switch to {
	case schema.StepStatusRunning:
		state.StartedAt = &now
	case schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusSkipped:
		state.CompletedAt = &now
		// The upsert replaces the whole row, so the start timestamp set at
		// dispatch must be carried into the resolving write.
		if timing != nil {
			state.StartedAt = &timing.started
			state.DurationMs = timing.duration.Milliseconds()
		}
	}
	if output != nil {
		if raw, err := json.Marshal(output); err == nil {
			state.Output = raw
		}
	}
	if stepErr != nil {
		if raw, err := json.Marshal(stepErr); err == nil {
			state.Error = raw
		}
	}
	if err := e.store.UpsertStepState(ctx, state); err != nil {
		e.logger.WarnContext(ctx, "step checkpoint failed", "error", err)
	}

	if eventType := stepEventType(from, to); eventType != "" {
		data := map[string]any{"status": string(to)}
		if stepErr != nil {
			data["error"] = stepErr.Message
		}
		e.publishEvent(ctx, r, eventType, step.ID, data)
	}
}

// transitionExecution validates and applies an execution status change,
// persisting and publishing it. Waiters are notified on quiescent states.
// Validation, apply and the checkpoint write happen under one critical
// section: two racing legal transitions from the same state must not both
// win, and the store must never see the loser's status after the winner's.
func (e *Engine) transitionExecution(ctx context.Context, r *run, to schema.ExecutionStatus, execErr *schema.EngineError) {
	r.mu.Lock()
	from := r.status
	if from == to {
		r.mu.Unlock()
		return
	}

	if err := e.execFSM.Transition(ctx, r.executionID, from, to); err != nil {
		var engineErr *schema.EngineError
		if errors.As(err, &engineErr) && engineErr.Code == schema.ErrCodeInvalidTransition {
			r.mu.Unlock()
			e.logger.ErrorContext(ctx, "rejected execution transition", "error", err)
			return
		}
		e.logger.WarnContext(ctx, "execution event append failed", "error", err)
	}

	r.status = to
	r.execErr = execErr
	waiters := r.waiters
	if quiescent(to) {
		r.waiters = nil
	}

	update := store.ExecutionUpdate{Status: &to}
	if err := e.store.UpdateExecution(ctx, r.executionID, update); err != nil {
		e.logger.WarnContext(ctx, "execution checkpoint failed", "error", err)
	}
	r.mu.Unlock()

	if eventType := executionEventType(from, to); eventType != "" {
		data := map[string]any{"status": string(to)}
		if execErr != nil {
			data["error"] = execErr.Message
		}
		e.publishEvent(ctx, r, eventType, "", data)
	}

	if quiescent(to) {
		for _, w := range waiters {
			close(w)
		}
	}
}

// quiescent reports whether the status is one Wait unblocks on: terminal,
// or parked awaiting external input (paused, failed).
func quiescent(s schema.ExecutionStatus) bool {
	return s.Terminal() || s == schema.ExecutionStatusPaused || s == schema.ExecutionStatusFailed
}
