package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/soochol/tradeflow/internal/engine"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var (
	// ErrRunActive is returned when a run is already executing.
	ErrRunActive = errors.New("run is already executing")
	// ErrRunNotActive is returned when cancelling a run that is not executing.
	ErrRunNotActive = errors.New("run is not executing")
	// ErrNotResumable is returned when resuming a run that completed.
	ErrNotResumable = errors.New("run cannot be resumed")
)

// RunService starts, resumes and cancels live runs. Each run executes on
// its own goroutine, detached from the request that started it, and waits
// for a concurrency slot before the engine takes over.
type RunService struct {
	engine     *engine.Engine
	workflows  ports.GraphLoader
	history    *RunHistoryService
	executions *ExecutionRegistry
	limiter    *ConcurrencyLimiter
	events     *RunManager

	wg sync.WaitGroup
}

// NewRunService wires the run lifecycle. events may be nil.
func NewRunService(eng *engine.Engine, workflows ports.GraphLoader, history *RunHistoryService, executions *ExecutionRegistry, limiter *ConcurrencyLimiter, events *RunManager) *RunService {
	return &RunService{
		engine:     eng,
		workflows:  workflows,
		history:    history,
		executions: executions,
		limiter:    limiter,
		events:     events,
	}
}

func triggerMode(trigger map[string]any) string {
	if m, ok := trigger["mode"].(string); ok && m != "" {
		return m
	}
	return "manual"
}

// Start snapshots the stored workflow, records a PENDING run and executes
// it in the background.
func (s *RunService) Start(ctx context.Context, workflowID string, trigger map[string]any) (*tradeflow.RunRecord, error) {
	g, err := s.workflows.LoadGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	runID := tradeflow.GenerateID("run")
	handle, _ := s.executions.Register(runID)
	rec, err := s.history.StartRun(ctx, runID, g, triggerMode(trigger), trigger)
	if err != nil {
		s.executions.Unregister(runID)
		return nil, fmt.Errorf("record run: %w", err)
	}
	s.launch(ctx, rec, handle)
	return rec, nil
}

// Execute runs a stored workflow to completion on the caller's goroutine.
func (s *RunService) Execute(ctx context.Context, workflowID string, trigger map[string]any) (*engine.RunResult, error) {
	g, err := s.workflows.LoadGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	runID := tradeflow.GenerateID("run")
	handle, _ := s.executions.Register(runID)
	rec, err := s.history.StartRun(ctx, runID, g, triggerMode(trigger), trigger)
	if err != nil {
		s.executions.Unregister(runID)
		return nil, fmt.Errorf("record run: %w", err)
	}
	return s.run(ctx, rec, handle)
}

// Resume re-executes a stored run under its original id against the graph
// snapshot it started with. Nodes whose steps were journaled are restored
// rather than executed again.
func (s *RunService) Resume(ctx context.Context, runID string) (*tradeflow.RunRecord, error) {
	rec, err := s.history.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec.Status == tradeflow.RunCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotResumable, runID, rec.Status)
	}
	if rec.Graph == nil {
		return nil, fmt.Errorf("%w: %s has no graph snapshot", ErrNotResumable, runID)
	}
	handle, ok := s.executions.Register(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	slog.Info("runs: resuming", "run_id", runID, "workflow", rec.WorkflowID, "status", rec.Status)
	s.launch(ctx, rec, handle)
	return rec, nil
}

// Cancel asks an executing run to stop before its next node.
func (s *RunService) Cancel(runID string) error {
	if !s.executions.Cancel(runID) {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	slog.Info("runs: cancel requested", "run_id", runID)
	return nil
}

// Wait blocks until every background run has finished.
func (s *RunService) Wait() {
	s.wg.Wait()
}

func (s *RunService) launch(ctx context.Context, rec *tradeflow.RunRecord, handle *engine.Handle) {
	if s.events != nil {
		s.events.Register(rec.ID)
	}
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.run(runCtx, rec, handle); err != nil {
			slog.Warn("runs: run failed", "run_id", rec.ID, "err", err)
		}
	}()
}

func (s *RunService) run(ctx context.Context, rec *tradeflow.RunRecord, handle *engine.Handle) (*engine.RunResult, error) {
	defer s.executions.Unregister(rec.ID)

	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, rec.WorkflowID); err != nil {
			_ = s.history.FailRun(ctx, rec.ID, err.Error())
			return nil, err
		}
		defer s.limiter.Release(rec.WorkflowID)
	}

	return s.engine.Execute(ctx, rec.Graph, engine.RunOptions{
		RunID:      rec.ID,
		WorkflowID: rec.WorkflowID,
		Trigger:    rec.Inputs,
		Handle:     handle,
	})
}
