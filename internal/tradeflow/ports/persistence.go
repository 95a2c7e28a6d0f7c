package ports

import (
	"context"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// GraphLoader returns a frozen snapshot of a stored workflow. Implementations
// fail with an error wrapping repository.ErrNotFound for unknown ids.
type GraphLoader interface {
	LoadGraph(ctx context.Context, workflowID string) (*tradeflow.Graph, error)
}

// RunRecorder persists run and node state changes. Recording is append-only
// and idempotent: repeating an identical transition is a no-op.
type RunRecorder interface {
	RecordTransition(ctx context.Context, t tradeflow.Transition) error
}

// StepRuntime is the durable step boundary. Run invokes fn only when no
// result is recorded for (runID, name) yet; otherwise it returns the recorded
// output with replayed=true.
type StepRuntime interface {
	Run(ctx context.Context, runID, name string, fn func(context.Context) tradeflow.NodeOutput) (out tradeflow.NodeOutput, replayed bool, err error)
}
