package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

// DataSourceExecutor fetches the most recent Lookback bars from the market
// data collaborator.
type DataSourceExecutor struct {
	Market ports.MarketData
}

func (e *DataSourceExecutor) Execute(ctx context.Context, call *Call) (any, error) {
	cfg, err := DecodeDataSource(call.Node)
	if err != nil {
		return nil, err
	}
	width, _ := cfg.Interval.Duration()
	to := call.Now
	from := to.Add(-time.Duration(cfg.Lookback) * width)

	bars, err := e.Market.FetchCandles(ctx, cfg.Symbol, cfg.Interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s %s: %w", cfg.Symbol, cfg.Interval, err)
	}
	if len(bars) > cfg.Lookback {
		bars = bars[len(bars)-cfg.Lookback:]
	}
	logf(ctx, call.Node.ID, "fetched candles", map[string]any{"symbol": cfg.Symbol, "bars": len(bars)})
	return DataSourceOutput{Symbol: cfg.Symbol, Interval: cfg.Interval, Bars: bars}, nil
}

// DecodeDataSource decodes and checks a DATA_SOURCE config.
func DecodeDataSource(n *tradeflow.Node) (DataSourceConfig, error) {
	cfg, err := tradeflow.DecodeConfig[DataSourceConfig](n)
	if err != nil {
		return cfg, err
	}
	if cfg.Symbol == "" {
		return cfg, fmt.Errorf("node %q: symbol is required", n.ID)
	}
	if _, err := cfg.Interval.Duration(); err != nil {
		return cfg, fmt.Errorf("node %q: %w", n.ID, err)
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = defaultLookback
	}
	return cfg, nil
}

// Lookback returns how many bars a DATA_SOURCE node reads. Replays use it to
// give each node the same window it sees live.
func Lookback(n *tradeflow.Node) int {
	cfg, err := tradeflow.DecodeConfig[DataSourceConfig](n)
	if err != nil || cfg.Lookback <= 0 {
		return defaultLookback
	}
	return cfg.Lookback
}
