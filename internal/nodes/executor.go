// Package nodes implements the executors for each node kind and the closed
// registry that dispatches to them.
package nodes

import (
	"context"
	"time"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// Call is everything an executor may look at: its node, the outputs of its
// direct predecessors and the run's clock.
type Call struct {
	RunID   string
	Node    *tradeflow.Node
	Inputs  Inputs
	Now     time.Time
	Trigger map[string]any
}

// Executor runs one node kind. A returned error becomes an ERROR output for
// the node; it never aborts the run.
type Executor interface {
	Execute(ctx context.Context, call *Call) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, call *Call) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, call *Call) (any, error) {
	return f(ctx, call)
}

// Input is the recorded output of one predecessor.
type Input struct {
	NodeID string
	Kind   tradeflow.NodeKind
	Output tradeflow.NodeOutput
}

// Inputs are ordered by predecessor id.
type Inputs []Input

// OfKind returns the inputs produced by nodes of kind k.
func (in Inputs) OfKind(k tradeflow.NodeKind) Inputs {
	var out Inputs
	for _, i := range in {
		if i.Kind == k {
			out = append(out, i)
		}
	}
	return out
}

// FirstFailed returns the first ERROR input, if any.
func (in Inputs) FirstFailed() (Input, bool) {
	for _, i := range in {
		if !i.Output.OK() {
			return i, true
		}
	}
	return Input{}, false
}

// LogFunc emits a message scoped to a node. The engine routes it into the
// run's log.
type LogFunc func(nodeID, message string, payload map[string]any)

type logFuncKey struct{}

// WithLogFunc returns a context carrying a node log function.
func WithLogFunc(ctx context.Context, fn LogFunc) context.Context {
	return context.WithValue(ctx, logFuncKey{}, fn)
}

func logf(ctx context.Context, nodeID, message string, payload map[string]any) {
	if fn, ok := ctx.Value(logFuncKey{}).(LogFunc); ok && fn != nil {
		fn(nodeID, message, payload)
	}
}
