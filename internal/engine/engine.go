// Package engine runs workflow graphs: one sequential traversal per run in
// a deterministic topological order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/soochol/tradeflow/internal/dag"
	"github.com/soochol/tradeflow/internal/nodes"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

// Engine dispatches nodes through a registry. Recorder, publisher and step
// runtime are optional; replays run without them.
type Engine struct {
	registry  *nodes.Registry
	recorder  ports.RunRecorder
	publisher ports.Publisher
	steps     ports.StepRuntime
}

type Option func(*Engine)

// WithRecorder persists run and node transitions.
func WithRecorder(r ports.RunRecorder) Option { return func(e *Engine) { e.recorder = r } }

// WithPublisher publishes status events.
func WithPublisher(p ports.Publisher) Option { return func(e *Engine) { e.publisher = p } }

// WithStepRuntime wraps every node invocation in a durable step.
func WithStepRuntime(s ports.StepRuntime) Option { return func(e *Engine) { e.steps = s } }

func New(registry *nodes.Registry, opts ...Option) *Engine {
	e := &Engine{registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunOptions identify a run. Reusing the RunID of an interrupted run resumes
// it: nodes whose step is already recorded are restored, not re-executed.
type RunOptions struct {
	RunID      string
	WorkflowID string
	Trigger    map[string]any
	Handle     *Handle
}

// RunResult is handed back to the caller when a run reaches a terminal state.
type RunResult struct {
	RunID   string              `json:"run_id"`
	Status  tradeflow.RunStatus `json:"status"`
	Order   []string            `json:"order"`
	Outputs []NamedOutput       `json:"outputs"`
	Logs    []LogEntry          `json:"logs"`
	Error   string              `json:"error,omitempty"`

	Context *ExecutionContext `json:"-"`
}

// Execute runs g to a terminal state. The graph is cloned first, so later
// edits to g do not affect the run. It returns an error only when the run
// FAILED: a structural error or a node that cannot be dispatched. Node
// errors are recorded in the outputs and do not fail the run.
func (e *Engine) Execute(ctx context.Context, g *tradeflow.Graph, opts RunOptions) (*RunResult, error) {
	if opts.RunID == "" {
		opts.RunID = tradeflow.GenerateID("run")
	}
	if opts.WorkflowID == "" {
		opts.WorkflowID = g.ID
	}
	ectx := NewExecutionContext(opts.RunID, opts.Handle, nil)
	ectx.Trigger = opts.Trigger
	res := &RunResult{RunID: opts.RunID, Status: tradeflow.RunPending, Context: ectx}

	e.runTransition(ctx, opts.WorkflowID, res, tradeflow.RunPending, nil)

	d, err := dag.Build(g.Clone())
	if err != nil {
		return e.fail(ctx, opts.WorkflowID, res, err)
	}
	res.Order = d.TopologicalOrder()

	e.runTransition(ctx, opts.WorkflowID, res, tradeflow.RunRunning, nil)
	slog.Info("engine: run started", "run_id", opts.RunID, "workflow", opts.WorkflowID, "nodes", d.Len())

	err = e.walk(ctx, d, ectx, opts.WorkflowID)
	switch {
	case errors.Is(err, tradeflow.ErrCancelled):
		e.finish(ectx, res)
		e.runTransition(ctx, opts.WorkflowID, res, tradeflow.RunCancelled, nil)
		slog.Info("engine: run cancelled", "run_id", opts.RunID, "completed_nodes", len(res.Outputs))
		return res, nil
	case err != nil:
		return e.fail(ctx, opts.WorkflowID, res, err)
	}

	e.finish(ectx, res)
	e.runTransition(ctx, opts.WorkflowID, res, tradeflow.RunCompleted, nil)
	slog.Info("engine: run completed", "run_id", opts.RunID)
	return res, nil
}

// Walk runs every node of d against ectx without run-level bookkeeping.
// The replay engine calls it once per bar.
func (e *Engine) Walk(ctx context.Context, d *dag.DAG, ectx *ExecutionContext) error {
	return e.walk(ctx, d, ectx, "")
}

func (e *Engine) walk(ctx context.Context, d *dag.DAG, ectx *ExecutionContext, workflowID string) error {
	order := d.TopologicalOrder()

	// Resolve every executor up front so a dispatch failure happens before
	// any node has side effects.
	execs := make(map[string]nodes.Executor, len(order))
	for _, id := range order {
		exec, err := e.registry.For(d.Node(id))
		if err != nil {
			return err
		}
		execs[id] = exec
	}

	ctx = nodes.WithLogFunc(ctx, func(nodeID, message string, payload map[string]any) {
		ectx.Log(nodeID, message, payload)
	})

	for _, id := range order {
		if ectx.Cancelled() || ctx.Err() != nil {
			ectx.Cancel()
			return tradeflow.ErrCancelled
		}
		if _, done := ectx.Output(id); done {
			continue
		}
		n := d.Node(id)
		out, restored := e.runNode(ctx, ectx, workflowID, n, execs[id], inputsFor(d, ectx, id))
		if err := ectx.SetOutput(id, out); err != nil {
			return err
		}
		if restored {
			ectx.Log(id, "restored", nil)
			continue
		}

		phase := tradeflow.PhaseSuccess
		if !out.OK() {
			phase = tradeflow.PhaseError
			ectx.Log(id, "error", map[string]any{"message": out.Message})
		}
		e.nodeTransition(ctx, ectx, workflowID, n, phase, out.Message)
	}
	return nil
}

func (e *Engine) runNode(ctx context.Context, ectx *ExecutionContext, workflowID string, n *tradeflow.Node, exec nodes.Executor, inputs nodes.Inputs) (tradeflow.NodeOutput, bool) {
	call := &nodes.Call{
		RunID:   ectx.RunID,
		Node:    n,
		Inputs:  inputs,
		Now:     ectx.Now(),
		Trigger: ectx.Trigger,
	}
	invoke := func(ctx context.Context) tradeflow.NodeOutput {
		e.nodeTransition(ctx, ectx, workflowID, n, tradeflow.PhaseLoading, "")
		v, err := safeExecute(ctx, exec, call)
		if err != nil {
			return tradeflow.Failure(err)
		}
		return tradeflow.Success(v)
	}

	if e.steps == nil {
		return invoke(ctx), false
	}
	out, replayed, err := e.steps.Run(ctx, ectx.RunID, n.ID, invoke)
	if err != nil {
		slog.Warn("engine: step journal error", "run_id", ectx.RunID, "node", n.ID, "err", err)
		if out.Status == "" {
			out = tradeflow.Failure(fmt.Errorf("step runtime: %w", err))
		}
	}
	return out, replayed
}

// safeExecute confines an executor panic to its node.
func safeExecute(ctx context.Context, exec nodes.Executor, call *nodes.Call) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &tradeflow.PanicError{NodeID: call.Node.ID, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return exec.Execute(ctx, call)
}

func inputsFor(d *dag.DAG, ectx *ExecutionContext, id string) nodes.Inputs {
	parents := d.Parents(id)
	in := make(nodes.Inputs, 0, len(parents))
	for _, p := range parents {
		out, _ := ectx.Output(p)
		in = append(in, nodes.Input{NodeID: p, Kind: d.Node(p).Kind, Output: out})
	}
	return in
}

func (e *Engine) fail(ctx context.Context, workflowID string, res *RunResult, err error) (*RunResult, error) {
	e.finish(res.Context, res)
	res.Error = err.Error()
	e.runTransition(ctx, workflowID, res, tradeflow.RunFailed, err)
	slog.Warn("engine: run failed", "run_id", res.RunID, "err", err)
	return res, err
}

func (e *Engine) finish(ectx *ExecutionContext, res *RunResult) {
	res.Outputs = ectx.Outputs()
	res.Logs = ectx.Logs()
}

func (e *Engine) runTransition(ctx context.Context, workflowID string, res *RunResult, status tradeflow.RunStatus, cause error) {
	res.Status = status
	t := tradeflow.Transition{RunID: res.RunID, WorkflowID: workflowID, State: string(status), At: time.Now()}
	ev := tradeflow.StatusEvent{Type: tradeflow.EventRunStatus, RunID: res.RunID, WorkflowID: workflowID, Status: status, Timestamp: t.At}
	if cause != nil {
		t.Error = cause.Error()
		ev.Message = t.Error
	}
	e.record(ctx, t)
	e.publish(ctx, ev)
}

func (e *Engine) nodeTransition(ctx context.Context, ectx *ExecutionContext, workflowID string, n *tradeflow.Node, phase tradeflow.Phase, msg string) {
	now := ectx.Now()
	ectx.Log(n.ID, "status", map[string]any{"phase": string(phase)})
	e.record(ctx, tradeflow.Transition{
		RunID: ectx.RunID, WorkflowID: workflowID, NodeID: n.ID, Kind: n.Kind,
		State: string(phase), Error: msg, At: now,
	})
	e.publish(ctx, tradeflow.StatusEvent{
		Type: tradeflow.EventNodeStatus, RunID: ectx.RunID, WorkflowID: workflowID,
		NodeID: n.ID, Kind: n.Kind, Phase: phase, Message: msg, Timestamp: now,
	})
}

func (e *Engine) record(ctx context.Context, t tradeflow.Transition) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordTransition(ctx, t); err != nil {
		slog.Warn("engine: record transition failed", "run_id", t.RunID, "node", t.NodeID, "state", t.State, "err", err)
	}
}

func (e *Engine) publish(ctx context.Context, ev tradeflow.StatusEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, tradeflow.Channel(ev.RunID), ev); err != nil {
		slog.Warn("engine: publish failed", "run_id", ev.RunID, "node", ev.NodeID, "err", err)
	}
}
