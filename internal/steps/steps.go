// Package steps makes node invocations durable. A step is keyed by
// (runID, name); once its SUCCESS output is journaled, running the step
// again returns the journaled output instead of invoking it.
package steps

import (
	"context"
	"fmt"

	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var _ ports.StepRuntime = (*Runtime)(nil)

// Journal stores step outputs. Record keeps the first write for a key and
// ignores later ones.
type Journal interface {
	Lookup(ctx context.Context, runID, name string) (tradeflow.NodeOutput, bool, error)
	Record(ctx context.Context, runID, name string, out tradeflow.NodeOutput) error
}

type Runtime struct {
	journal Journal
}

func NewRuntime(j Journal) *Runtime {
	return &Runtime{journal: j}
}

// Run returns the journaled output for (runID, name) if there is one.
// Otherwise it invokes fn and journals the result when it is a SUCCESS;
// ERROR outputs are not journaled so a resumed run retries them.
//
// A lookup failure is returned without invoking fn. A record failure
// returns fn's output along with the error.
func (r *Runtime) Run(ctx context.Context, runID, name string, fn func(context.Context) tradeflow.NodeOutput) (tradeflow.NodeOutput, bool, error) {
	if out, ok, err := r.journal.Lookup(ctx, runID, name); err != nil {
		return tradeflow.NodeOutput{}, false, fmt.Errorf("steps: lookup %s/%s: %w", runID, name, err)
	} else if ok {
		return out, true, nil
	}

	out := fn(ctx)
	if !out.OK() {
		return out, false, nil
	}
	if err := r.journal.Record(ctx, runID, name, out); err != nil {
		return out, false, fmt.Errorf("steps: record %s/%s: %w", runID, name, err)
	}
	return out, false, nil
}
