package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/soochol/tradeflow/internal/repository"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var _ ports.RunRecorder = (*RunHistoryService)(nil)

// RunHistoryService keeps run records and their transition logs. It is the
// engine's RunRecorder.
type RunHistoryService struct {
	runRepo repository.RunRepository
	mu      sync.Mutex
}

func NewRunHistoryService(runRepo repository.RunRepository) *RunHistoryService {
	return &RunHistoryService{runRepo: runRepo}
}

// StartRun creates a PENDING record holding a frozen snapshot of g.
func (s *RunHistoryService) StartRun(ctx context.Context, runID string, g *tradeflow.Graph, triggerMode string, inputs map[string]any) (*tradeflow.RunRecord, error) {
	record := &tradeflow.RunRecord{
		ID:           runID,
		WorkflowID:   g.ID,
		WorkflowName: g.Name,
		TriggerMode:  triggerMode,
		Status:       tradeflow.RunPending,
		Graph:        g.Clone(),
		Inputs:       inputs,
		CreatedAt:    time.Now(),
	}
	if err := s.runRepo.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RecordTransition appends t to the run's log and folds it into the record.
// A transition already in the log is not appended again; folding it is
// harmless because the record already reflects it, except after a resume
// where it moves the run back to the repeated state.
func (s *RunHistoryService) RecordTransition(ctx context.Context, t tradeflow.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.runRepo.AppendTransition(ctx, t); err != nil {
		return err
	}
	record, err := s.runRepo.Get(ctx, t.RunID)
	if err != nil {
		return err
	}
	if t.NodeID == "" {
		applyRunState(record, t)
	} else {
		applyNodeState(record, t)
	}
	return s.runRepo.Update(ctx, record)
}

func applyRunState(r *tradeflow.RunRecord, t tradeflow.Transition) {
	status := tradeflow.RunStatus(t.State)
	r.Status = status
	switch {
	case status == tradeflow.RunRunning:
		if r.StartedAt == nil {
			at := t.At
			r.StartedAt = &at
		}
		r.CompletedAt = nil
		r.Error = nil
	case status.Terminal():
		at := t.At
		r.CompletedAt = &at
		if t.Error != "" {
			msg := t.Error
			r.Error = &msg
		} else {
			r.Error = nil
		}
	}
}

func applyNodeState(r *tradeflow.RunRecord, t tradeflow.Transition) {
	nr := tradeflow.NodeRunRecord{NodeID: t.NodeID, Kind: t.Kind, Phase: tradeflow.Phase(t.State), Error: t.Error, StartedAt: t.At}
	for i, prev := range r.NodeRuns {
		if prev.NodeID != t.NodeID {
			continue
		}
		if nr.Phase != tradeflow.PhaseLoading {
			nr.StartedAt = prev.StartedAt
			at := t.At
			nr.CompletedAt = &at
		}
		r.NodeRuns[i] = nr
		return
	}
	if nr.Phase != tradeflow.PhaseLoading {
		at := t.At
		nr.CompletedAt = &at
	}
	r.NodeRuns = append(r.NodeRuns, nr)
}

// FailRun marks a run that never reached the engine as FAILED.
func (s *RunHistoryService) FailRun(ctx context.Context, id, errMsg string) error {
	return s.RecordTransition(ctx, tradeflow.Transition{
		RunID: id,
		State: string(tradeflow.RunFailed),
		Error: errMsg,
		At:    time.Now(),
	})
}

func (s *RunHistoryService) GetRun(ctx context.Context, id string) (*tradeflow.RunRecord, error) {
	return s.runRepo.Get(ctx, id)
}

// ListRuns returns runs newest first. Empty workflowID or status match all.
func (s *RunHistoryService) ListRuns(ctx context.Context, workflowID, status string, limit, offset int) ([]*tradeflow.RunRecord, int, error) {
	return s.runRepo.List(ctx, workflowID, status, limit, offset)
}

// CleanupOrphanedRuns marks all running/pending runs as failed.
// Should be called once at server startup.
func (s *RunHistoryService) CleanupOrphanedRuns(ctx context.Context) {
	type orphanCleaner interface {
		MarkOrphanedRunsFailed(ctx context.Context) (int64, error)
	}
	if c, ok := s.runRepo.(orphanCleaner); ok {
		n, err := c.MarkOrphanedRunsFailed(ctx)
		if err != nil {
			slog.Warn("runs: failed to clean up orphaned runs", "err", err)
			return
		}
		if n > 0 {
			slog.Info("runs: marked orphaned runs as failed", "count", n)
		}
	}
}
