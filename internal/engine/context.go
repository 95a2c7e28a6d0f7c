package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// Handle lets a caller outside the run request cancellation. The execution
// registry keeps handles, never contexts.
type Handle struct {
	RunID     string
	cancelled atomic.Bool
}

// NewHandle creates a cancellation handle for a run.
func NewHandle(runID string) *Handle {
	return &Handle{RunID: runID}
}

// Cancel sets the run's cancellation flag. The engine stops scheduling new
// nodes once it sees it; the node in flight finishes.
func (h *Handle) Cancel() { h.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// LogEntry is one record in a run's log.
type LogEntry struct {
	NodeID    string         `json:"node_id,omitempty"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// NamedOutput pairs a node id with its output.
type NamedOutput struct {
	NodeID string               `json:"node_id"`
	Output tradeflow.NodeOutput `json:"output"`
}

// ExecutionContext is the state of one traversal: outputs in completion
// order, the log, and the cancellation flag. Each run owns exactly one.
type ExecutionContext struct {
	RunID   string
	Trigger map[string]any

	handle *Handle
	clock  func() time.Time

	mu      sync.RWMutex
	outputs map[string]tradeflow.NodeOutput
	order   []string
	logs    []LogEntry
}

// NewExecutionContext creates a context. A nil handle gets a fresh one; a
// nil clock uses wall time.
func NewExecutionContext(runID string, handle *Handle, clock func() time.Time) *ExecutionContext {
	if handle == nil {
		handle = NewHandle(runID)
	}
	if clock == nil {
		clock = time.Now
	}
	return &ExecutionContext{
		RunID:   runID,
		handle:  handle,
		clock:   clock,
		outputs: make(map[string]tradeflow.NodeOutput),
	}
}

// Now returns the run's current time: wall time live, bar time in replay.
func (c *ExecutionContext) Now() time.Time { return c.clock() }

// SetOutput records a node's output. A second write for the same node fails.
func (c *ExecutionContext) SetOutput(nodeID string, out tradeflow.NodeOutput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.outputs[nodeID]; exists {
		return fmt.Errorf("output for node %q already recorded", nodeID)
	}
	c.outputs[nodeID] = out
	c.order = append(c.order, nodeID)
	return nil
}

// Output returns a node's recorded output.
func (c *ExecutionContext) Output(nodeID string) (tradeflow.NodeOutput, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.outputs[nodeID]
	return out, ok
}

// Outputs returns every output in completion order.
func (c *ExecutionContext) Outputs() []NamedOutput {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]NamedOutput, len(c.order))
	for i, id := range c.order {
		out[i] = NamedOutput{NodeID: id, Output: c.outputs[id]}
	}
	return out
}

// Completed returns node ids in completion order.
func (c *ExecutionContext) Completed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Log appends an entry stamped with the run's clock.
func (c *ExecutionContext) Log(nodeID, typ string, payload map[string]any) {
	c.mu.Lock()
	c.logs = append(c.logs, LogEntry{NodeID: nodeID, Type: typ, Timestamp: c.clock(), Payload: payload})
	c.mu.Unlock()
}

// Logs returns a copy of the log.
func (c *ExecutionContext) Logs() []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]LogEntry(nil), c.logs...)
}

// Cancel sets the cancellation flag.
func (c *ExecutionContext) Cancel() { c.handle.Cancel() }

// Cancelled reports the cancellation flag.
func (c *ExecutionContext) Cancelled() bool { return c.handle.Cancelled() }
