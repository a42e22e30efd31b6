package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/skein-dev/skein/pkg/schema"
)

// MemoryStore is an in-memory CheckpointStore for tests and embedded use.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*ExecutionRecord
	steps      map[string]map[string]*StepState // execution ID → step ID → state
	events     []*Event
	approvals  map[string]*PendingApproval
	nextEvent  int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*ExecutionRecord),
		steps:      make(map[string]map[string]*StepState),
		approvals:  make(map[string]*PendingApproval),
	}
}

func (m *MemoryStore) CreateExecution(_ context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeStore, "execution record missing id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.executions[rec.ExecutionID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %s already exists", rec.ExecutionID)
	}
	cp := *rec
	cp.UpdatedAt = time.Now().UTC()
	m.executions[rec.ExecutionID] = &cp
	return nil
}

func (m *MemoryStore) UpdateExecution(_ context.Context, executionID string, update ExecutionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.executions[executionID]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", executionID)
	}
	if update.Status != nil {
		rec.Status = *update.Status
	}
	if update.Error != nil {
		rec.Error = update.Error
	}
	if update.CompletedAt != nil {
		rec.CompletedAt = update.CompletedAt
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) GetExecution(_ context.Context, executionID string) (*ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.executions[executionID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", executionID)
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ExecutionRecord, 0)
	for _, rec := range m.executions {
		if filter.WorkflowID != "" && rec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.CompletedBefore != nil {
			if rec.CompletedAt == nil || !rec.CompletedAt.Before(*filter.CompletedBefore) {
				continue
			}
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteExecution(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.executions[executionID]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "execution not found: %s", executionID)
	}
	delete(m.executions, executionID)
	delete(m.steps, executionID)

	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.ExecutionID != executionID {
			kept = append(kept, ev)
		}
	}
	m.events = kept

	for id, approval := range m.approvals {
		if approval.ExecutionID == executionID {
			delete(m.approvals, id)
		}
	}
	return nil
}

func (m *MemoryStore) UpsertStepState(_ context.Context, state *StepState) error {
	if state == nil || state.ExecutionID == "" || state.StepID == "" {
		return schema.NewError(schema.ErrCodeStore, "step state missing ids")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	byStep, ok := m.steps[state.ExecutionID]
	if !ok {
		byStep = make(map[string]*StepState)
		m.steps[state.ExecutionID] = byStep
	}
	cp := *state
	byStep[state.StepID] = &cp
	return nil
}

func (m *MemoryStore) ListStepStates(_ context.Context, executionID string) ([]*StepState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*StepState, 0, len(m.steps[executionID]))
	for _, state := range m.steps[executionID] {
		cp := *state
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceOrder < out[j].SequenceOrder })
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	if event == nil || event.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeStore, "event missing execution id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEvent++
	cp := *event
	cp.ID = m.nextEvent
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryStore) GetEvents(_ context.Context, executionID string, since int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Event, 0)
	for _, ev := range m.events {
		if ev.ExecutionID == executionID && ev.ID > since {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateApproval(_ context.Context, approval *PendingApproval) error {
	if approval == nil || approval.ID == "" {
		return schema.NewError(schema.ErrCodeStore, "approval missing id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.approvals[approval.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "approval %s already exists", approval.ID)
	}
	cp := *approval
	if cp.Status == "" {
		cp.Status = ApprovalStatusPending
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.approvals[approval.ID] = &cp
	return nil
}

func (m *MemoryStore) ResolveApproval(_ context.Context, approvalID string, approved bool, resolvedBy string) (*PendingApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	approval, ok := m.approvals[approvalID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "approval not found: %s", approvalID)
	}
	if approval.Status != ApprovalStatusPending {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "approval %s already %s", approvalID, approval.Status)
	}
	now := time.Now().UTC()
	if approved {
		approval.Status = ApprovalStatusApproved
	} else {
		approval.Status = ApprovalStatusDenied
	}
	approval.ResolvedBy = resolvedBy
	approval.ResolvedAt = &now

	cp := *approval
	return &cp, nil
}

func (m *MemoryStore) ListPendingApprovals(_ context.Context, executionID string) ([]*PendingApproval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*PendingApproval, 0)
	for _, approval := range m.approvals {
		if approval.Status != ApprovalStatusPending {
			continue
		}
		if executionID != "" && approval.ExecutionID != executionID {
			continue
		}
		cp := *approval
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

var _ CheckpointStore = (*MemoryStore)(nil)
