package services

import (
	"sync"

	"github.com/soochol/tradeflow/internal/engine"
)

// ExecutionRegistry tracks the cancel handles of in-flight runs. It holds
// handles only; a run's context stays with the goroutine executing it.
type ExecutionRegistry struct {
	mu      sync.RWMutex
	handles map[string]*engine.Handle
}

func NewExecutionRegistry() *ExecutionRegistry {
	return &ExecutionRegistry{handles: make(map[string]*engine.Handle)}
}

// Register adds a handle for runID. It returns false if the run is already
// in flight.
func (r *ExecutionRegistry) Register(runID string) (*engine.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.handles[runID]; busy {
		return nil, false
	}
	h := engine.NewHandle(runID)
	r.handles[runID] = h
	return h, true
}

// Get retrieves a handle by run ID.
func (r *ExecutionRegistry) Get(runID string) (*engine.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[runID]
	return h, ok
}

// Cancel sets the cancellation flag of an in-flight run.
func (r *ExecutionRegistry) Cancel(runID string) bool {
	h, ok := r.Get(runID)
	if ok {
		h.Cancel()
	}
	return ok
}

// Unregister removes a finished execution.
func (r *ExecutionRegistry) Unregister(runID string) {
	r.mu.Lock()
	delete(r.handles, runID)
	r.mu.Unlock()
}

// Active returns the number of in-flight runs.
func (r *ExecutionRegistry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
