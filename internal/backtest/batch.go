package backtest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// BatchResult pairs one request's outcome with its position in the batch.
type BatchResult struct {
	Index  int                       `json:"index"`
	Result *tradeflow.BacktestResult `json:"result,omitempty"`
	Error  string                    `json:"error,omitempty"`
	Err    error                     `json:"-"`
}

// RunBatch replays reqs with at most parallel replays in flight. One
// request failing does not stop the others. Results are in request order.
func (e *Engine) RunBatch(ctx context.Context, reqs []Request, parallel int) []BatchResult {
	if parallel <= 0 {
		parallel = 4
	}
	out := make([]BatchResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := e.Run(gctx, req)
			out[i] = BatchResult{Index: i, Result: res, Err: err}
			if err != nil {
				out[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
