package tradeflow

import "time"

// RunStatus is the lifecycle state of one run.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether no further transition can follow s.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Phase is a node-level status transition published while a node runs.
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// RunRecord tracks a single live run for history and resumption.
type RunRecord struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	WorkflowName string          `json:"workflow_name"`
	TriggerMode  string          `json:"trigger_mode"`
	Status       RunStatus       `json:"status"`
	Graph        *Graph          `json:"graph,omitempty"`
	Inputs       map[string]any  `json:"inputs,omitempty"`
	Error        *string         `json:"error,omitempty"`
	NodeRuns     []NodeRunRecord `json:"node_runs,omitempty"`
	Transitions  []Transition    `json:"transitions,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NodeRunRecord is the latest known state of one node within a run.
type NodeRunRecord struct {
	NodeID      string     `json:"node_id"`
	Kind        NodeKind   `json:"kind"`
	Phase       Phase      `json:"phase"`
	Error       string     `json:"error,omitempty"`
	Restored    bool       `json:"restored,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Transition is one append-only state change of a run or of a node within
// it. NodeID is empty for run-level transitions.
type Transition struct {
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	NodeID     string    `json:"node_id,omitempty"`
	Kind       NodeKind  `json:"kind,omitempty"`
	State      string    `json:"state"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Same reports whether t and o describe the same change, ignoring time.
func (t Transition) Same(o Transition) bool {
	return t.RunID == o.RunID && t.NodeID == o.NodeID && t.State == o.State && t.Error == o.Error
}

// EventType distinguishes run-level from node-level status events.
type EventType string

const (
	EventRunStatus  EventType = "run.status"
	EventNodeStatus EventType = "node.status"
)

// StatusEvent is published on the run's channel for every transition.
type StatusEvent struct {
	Type       EventType `json:"type"`
	RunID      string    `json:"run_id"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	NodeID     string    `json:"node_id,omitempty"`
	Kind       NodeKind  `json:"kind,omitempty"`
	Phase      Phase     `json:"phase,omitempty"`
	Status     RunStatus `json:"status,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Channel returns the publish channel name for a run.
func Channel(runID string) string {
	return "run:" + runID
}
