package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	memstore "github.com/soochol/tradeflow/internal/repository/memory"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// MemoryBacktestRepository keeps reports in process.
type MemoryBacktestRepository struct {
	store *memstore.Store[*tradeflow.BacktestResult]
}

func NewMemoryBacktestRepository() *MemoryBacktestRepository {
	return &MemoryBacktestRepository{
		store: memstore.New(func(r *tradeflow.BacktestResult) string { return r.ID }),
	}
}

func (r *MemoryBacktestRepository) Save(ctx context.Context, res *tradeflow.BacktestResult) error {
	if res.ID == "" {
		return fmt.Errorf("backtest result has no id")
	}
	return r.store.Set(ctx, res)
}

func (r *MemoryBacktestRepository) Get(ctx context.Context, id string) (*tradeflow.BacktestResult, error) {
	res, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("backtest %q: %w", id, ErrNotFound)
	}
	return res, err
}

func (r *MemoryBacktestRepository) List(ctx context.Context, workflowID string, limit int) ([]*tradeflow.BacktestResult, error) {
	list, err := r.store.Filter(ctx, func(res *tradeflow.BacktestResult) bool {
		return workflowID == "" || res.WorkflowID == workflowID
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return paginate(list, limit, 0), nil
}
