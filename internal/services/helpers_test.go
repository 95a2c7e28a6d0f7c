package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/soochol/tradeflow/internal/engine"
	"github.com/soochol/tradeflow/internal/nodes"
	"github.com/soochol/tradeflow/internal/repository"
	"github.com/soochol/tradeflow/internal/steps"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// probe serves every node kind. "fail" in a node's config makes it return
// an error; "block" makes it wait until release is closed.
type probe struct {
	mu      sync.Mutex
	calls   map[string]int
	release chan struct{}
	started chan string
}

func newProbe() *probe {
	return &probe{calls: make(map[string]int), release: make(chan struct{}), started: make(chan string, 16)}
}

func (p *probe) Execute(ctx context.Context, call *nodes.Call) (any, error) {
	p.mu.Lock()
	p.calls[call.Node.ID]++
	p.mu.Unlock()

	if _, ok := call.Node.Config["block"]; ok {
		p.started <- call.Node.ID
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if msg, ok := call.Node.Config["fail"].(string); ok {
		return nil, errors.New(msg)
	}
	return map[string]any{"node": call.Node.ID, "trigger": call.Trigger}, nil
}

func (p *probe) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

func (p *probe) registry() *nodes.Registry {
	return nodes.NewRegistry(p, p, p, p, p, p)
}

// chain builds trigger -> data -> cond with per-node configs.
func chain(id string, configs map[string]map[string]any) *tradeflow.Graph {
	triggerCfg := configs["trigger"]
	if triggerCfg == nil {
		triggerCfg = map[string]any{"mode": "manual"}
	}
	return &tradeflow.Graph{
		ID:   id,
		Name: "chain " + id,
		Nodes: []tradeflow.Node{
			{ID: "trigger", Kind: tradeflow.KindTrigger, Config: triggerCfg},
			{ID: "data", Kind: tradeflow.KindDataSource, Config: configs["data"]},
			{ID: "cond", Kind: tradeflow.KindCondition, Config: configs["cond"]},
		},
		Connections: []tradeflow.Connection{
			{Source: "trigger", Target: "data"},
			{Source: "data", Target: "cond"},
		},
	}
}

type stack struct {
	probe      *probe
	workflows  *WorkflowService
	history    *RunHistoryService
	executions *ExecutionRegistry
	events     *RunManager
	runs       *RunService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	p := newProbe()
	history := NewRunHistoryService(repository.NewMemoryRunRepository())
	events := NewRunManager(time.Minute)
	t.Cleanup(events.Stop)

	eng := engine.New(p.registry(),
		engine.WithRecorder(history),
		engine.WithPublisher(events),
		engine.WithStepRuntime(steps.NewRuntime(steps.NewMemoryJournal())),
	)
	workflows := NewWorkflowService(repository.NewMemoryWorkflowRepository())
	executions := NewExecutionRegistry()
	limiter := NewConcurrencyLimiter(ConcurrencyLimits{GlobalMax: 4, PerWorkflow: 2})
	return &stack{
		probe:      p,
		workflows:  workflows,
		history:    history,
		executions: executions,
		events:     events,
		runs:       NewRunService(eng, workflows, history, executions, limiter, events),
	}
}

func (s *stack) create(t *testing.T, g *tradeflow.Graph) *tradeflow.Graph {
	t.Helper()
	saved, err := s.workflows.Create(context.Background(), g)
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	return saved
}

// waitStatus polls until the run reaches want or the deadline passes.
func waitStatus(t *testing.T, h *RunHistoryService, runID string, want tradeflow.RunStatus) *tradeflow.RunRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := h.GetRun(context.Background(), runID)
		if err == nil && rec.Status == want {
			return rec
		}
		if time.Now().After(deadline) {
			if err != nil {
				t.Fatalf("run %s: %v", runID, err)
			}
			t.Fatalf("run %s status = %s, want %s", runID, rec.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
