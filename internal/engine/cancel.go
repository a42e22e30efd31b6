package engine

import "sync"

// CancellationRegistry is the shared set of execution IDs with a pending
// cancel request. Cooperative only: the scheduler consults it between
// admission rounds and never interrupts in-flight steps.
type CancellationRegistry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{ids: make(map[string]struct{})}
}

// RequestCancel marks the execution for cancellation. Idempotent.
func (r *CancellationRegistry) RequestCancel(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[executionID] = struct{}{}
}

// IsCancelled reports whether a cancel has been requested for the execution.
func (r *CancellationRegistry) IsCancelled(executionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[executionID]
	return ok
}

// ClearCancel removes the entry once the execution has settled.
func (r *CancellationRegistry) ClearCancel(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, executionID)
}

// Len returns the number of pending cancel requests.
func (r *CancellationRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
