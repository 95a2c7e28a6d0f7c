package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soochol/tradeflow/internal/backtest"
	"github.com/soochol/tradeflow/internal/repository"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

// BacktestLimiterKey groups all replays under one per-key concurrency cap,
// separate from the per-workflow caps of live runs.
const BacktestLimiterKey = "backtest"

// BacktestService runs replays of stored or inline graphs and keeps their
// reports.
type BacktestService struct {
	engine    *backtest.Engine
	workflows ports.GraphLoader
	reports   repository.BacktestRepository
	limiter   *ConcurrencyLimiter
	parallel  int
}

// NewBacktestService wires the replay engine. limiter may be nil; parallel
// bounds batch replays.
func NewBacktestService(eng *backtest.Engine, workflows ports.GraphLoader, reports repository.BacktestRepository, limiter *ConcurrencyLimiter, parallel int) *BacktestService {
	return &BacktestService{
		engine:    eng,
		workflows: workflows,
		reports:   reports,
		limiter:   limiter,
		parallel:  parallel,
	}
}

// Run replays req and stores the report. A request without an inline graph
// replays the stored workflow named by WorkflowID.
func (s *BacktestService) Run(ctx context.Context, req backtest.Request) (*tradeflow.BacktestResult, error) {
	if err := s.resolveGraph(ctx, &req); err != nil {
		return nil, err
	}
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, BacktestLimiterKey); err != nil {
			return nil, err
		}
		defer s.limiter.Release(BacktestLimiterKey)
	}

	res, err := s.engine.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.reports.Save(ctx, res); err != nil {
		slog.Warn("backtest: failed to save report", "id", res.ID, "err", err)
	}
	return res, nil
}

// RunBatch replays every request, in parallel up to the service's bound,
// and stores each successful report.
func (s *BacktestService) RunBatch(ctx context.Context, reqs []backtest.Request) []backtest.BatchResult {
	resolved := make([]backtest.Request, len(reqs))
	failed := make(map[int]error)
	for i, req := range reqs {
		if err := s.resolveGraph(ctx, &req); err != nil {
			failed[i] = err
		}
		resolved[i] = req
	}

	out := s.engine.RunBatch(ctx, resolved, s.parallel)
	for i := range out {
		if err, ok := failed[i]; ok {
			out[i] = backtest.BatchResult{Index: i, Err: err, Error: err.Error()}
			continue
		}
		if out[i].Result == nil {
			continue
		}
		if err := s.reports.Save(ctx, out[i].Result); err != nil {
			slog.Warn("backtest: failed to save report", "id", out[i].Result.ID, "err", err)
		}
	}
	return out
}

func (s *BacktestService) Get(ctx context.Context, id string) (*tradeflow.BacktestResult, error) {
	return s.reports.Get(ctx, id)
}

// List returns stored reports newest first, optionally for one workflow.
func (s *BacktestService) List(ctx context.Context, workflowID string, limit int) ([]*tradeflow.BacktestResult, error) {
	return s.reports.List(ctx, workflowID, limit)
}

func (s *BacktestService) resolveGraph(ctx context.Context, req *backtest.Request) error {
	if req.Graph != nil {
		if req.WorkflowID == "" {
			req.WorkflowID = req.Graph.ID
		}
		return nil
	}
	if req.WorkflowID == "" {
		return &tradeflow.ValidationError{Field: "graph", Msg: "is required"}
	}
	g, err := s.workflows.LoadGraph(ctx, req.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", req.WorkflowID, err)
	}
	req.Graph = g
	return nil
}
