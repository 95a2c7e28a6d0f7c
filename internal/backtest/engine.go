// Package backtest replays a workflow graph over historical candles with a
// simulated ledger in place of the broker.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soochol/tradeflow/internal/dag"
	"github.com/soochol/tradeflow/internal/engine"
	"github.com/soochol/tradeflow/internal/nodes"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

// Engine runs replays. The registry supplies TRIGGER, INDICATOR and
// CONDITION executors; DATA_SOURCE, ORDER and NOTIFY are replaced per
// replay.
type Engine struct {
	market   ports.MarketData
	registry *nodes.Registry
}

// New creates a replay engine. market should be a shared candle cache so
// concurrent replays of the same window fetch it once.
func New(market ports.MarketData, registry *nodes.Registry) *Engine {
	return &Engine{market: market, registry: registry}
}

// Run replays req.Graph bar by bar. Request and graph problems fail before
// any fetch; a series too short for the graph's largest indicator window
// fails before any bar is simulated. Node errors on a bar are recorded in
// the result and the replay continues.
func (e *Engine) Run(ctx context.Context, req Request) (*tradeflow.BacktestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	d, err := dag.Build(req.Graph)
	if err != nil {
		return nil, err
	}

	bars, err := e.market.FetchCandles(ctx, req.Symbol, req.Interval, req.From, req.To)
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}
	if err := checkSeries(bars); err != nil {
		return nil, err
	}
	if required := requiredBars(d); len(bars) < required {
		return nil, &tradeflow.InsufficientDataError{Required: required, Got: len(bars)}
	}

	id := tradeflow.GenerateID("bt")
	ledger := NewLedger(req.Symbol, req.Interval, req.InitialCapital, req.commissionRate())
	source := newReplaySource(req.Symbol, req.Interval, bars, d)
	walker := engine.New(e.registry.
		WithDataSource(source).
		WithOrder(&nodes.OrderExecutor{Broker: ledger}).
		WithNotify(&nodes.NotifyExecutor{Muted: true}))

	res := &tradeflow.BacktestResult{
		ID:             id,
		WorkflowID:     req.WorkflowID,
		Symbol:         req.Symbol,
		Interval:       req.Interval,
		From:           req.From,
		To:             req.To,
		InitialCapital: req.InitialCapital,
		EquityCurve:    make([]tradeflow.EquityPoint, 0, len(bars)+1),
	}
	if req.BrokerContext != nil && req.BrokerContext.StartPoint {
		res.EquityCurve = append(res.EquityCurve, tradeflow.EquityPoint{Timestamp: req.From, Equity: req.InitialCapital})
	}

	slog.Info("backtest: replay started", "id", id, "symbol", req.Symbol, "interval", req.Interval, "bars", len(bars))
	started := time.Now()

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ledger.Mark(bar)
		source.current = i

		at := bar.Timestamp
		ectx := engine.NewExecutionContext(fmt.Sprintf("%s:%d", id, i), nil, func() time.Time { return at })
		ectx.Trigger = map[string]any{"mode": nodes.TriggerReplay, "bar_index": i}

		if err := walker.Walk(ctx, d, ectx); err != nil {
			if errors.Is(err, tradeflow.ErrCancelled) && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("bar %d (%s): %w", i, at.Format(time.RFC3339), err)
		}

		for _, o := range ectx.Outputs() {
			if o.Output.OK() {
				continue
			}
			res.Errors = append(res.Errors, tradeflow.BarError{Index: i, Timestamp: at, NodeID: o.NodeID, Message: o.Output.Message})
			slog.Debug("backtest: node error", "id", id, "bar", i, "node", o.NodeID, "err", o.Output.Message)
		}
		res.EquityCurve = append(res.EquityCurve, tradeflow.EquityPoint{Timestamp: at, Equity: ledger.Equity(bar.Close)})
	}

	last := bars[len(bars)-1]
	res.Trades = ledger.Trades()
	res.FinalCash = ledger.Cash()
	res.FinalPosition = ledger.OpenPosition()
	res.FinalEquity = ledger.Equity(last.Close)
	res.Metrics = computeMetrics(req.InitialCapital, res.EquityCurve, ledger.RoundTrips(), req.Interval)
	res.CreatedAt = time.Now()

	slog.Info("backtest: replay completed", "id", id, "trades", len(res.Trades), "errors", len(res.Errors),
		"net_pnl", res.Metrics.NetPnL.String(), "elapsed", time.Since(started))
	return res, nil
}

// checkSeries rejects an empty series or one whose timestamps do not
// strictly ascend.
func checkSeries(bars []tradeflow.Bar) error {
	if len(bars) == 0 {
		return &tradeflow.InsufficientDataError{Required: 1, Got: 0}
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return &tradeflow.ValidationError{
				Field: "bars",
				Msg:   fmt.Sprintf("timestamps not ascending at index %d", i),
			}
		}
	}
	return nil
}

// requiredBars is the largest window among the graph's indicators. An
// indicator whose config does not decode is skipped here; it fails on
// every bar instead.
func requiredBars(d *dag.DAG) int {
	required := 1
	for _, id := range d.NodesOfKind(tradeflow.KindIndicator) {
		cfg, _, err := nodes.DecodeIndicator(d.Node(id))
		if err != nil {
			continue
		}
		if w := cfg.Window(); w > required {
			required = w
		}
	}
	return required
}

// replaySource stands in for DATA_SOURCE nodes. Each node gets the last
// lookback bars up to and including the current one, the same window a live
// fetch at that bar's time returns, so path-dependent indicators such as EMA
// seed identically. The view's capacity ends at the current bar, so later
// bars cannot be reached by reslicing.
type replaySource struct {
	symbol   string
	interval tradeflow.Interval
	bars     []tradeflow.Bar
	lookback map[string]int
	current  int
}

func newReplaySource(symbol string, interval tradeflow.Interval, bars []tradeflow.Bar, d *dag.DAG) *replaySource {
	s := &replaySource{symbol: symbol, interval: interval, bars: bars, lookback: make(map[string]int)}
	for _, id := range d.NodesOfKind(tradeflow.KindDataSource) {
		s.lookback[id] = nodes.Lookback(d.Node(id))
	}
	return s
}

func (s *replaySource) Execute(_ context.Context, call *nodes.Call) (any, error) {
	n, ok := s.lookback[call.Node.ID]
	if !ok {
		n = nodes.Lookback(call.Node)
	}
	end := s.current + 1
	start := max(0, end-n)
	return nodes.DataSourceOutput{Symbol: s.symbol, Interval: s.interval, Bars: s.bars[start:end:end]}, nil
}
