package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/soochol/tradeflow/internal/backtest"
	"github.com/soochol/tradeflow/internal/marketdata"
	"github.com/soochol/tradeflow/internal/nodes"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var backtestFlags struct {
	csv        string
	symbol     string
	interval   string
	from       string
	to         string
	capital    string
	commission string
	out        string
}

var backtestCmd = &cobra.Command{
	Use:   "backtest <graph-file>",
	Short: "Replay a workflow over historical candles and print the report",
	Long: `Replays the graph once per bar between --from and --to. Candles come from
--csv when given, otherwise from the configured market data endpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := loadGraph(args[0])
		if err != nil {
			return err
		}
		req, err := backtestRequest(g)
		if err != nil {
			return err
		}

		var market ports.MarketData
		if backtestFlags.csv != "" {
			f, err := os.Open(backtestFlags.csv)
			if err != nil {
				return err
			}
			bars, err := marketdata.ReadCSV(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("read %s: %w", backtestFlags.csv, err)
			}
			source := marketdata.NewStaticSource()
			source.Add(req.Symbol, req.Interval, bars)
			market = source
		} else {
			market = marketSource(cfg, nil)
		}

		registry := nodes.NewRegistry(nodes.TriggerExecutor{}, nil, nodes.IndicatorExecutor{}, nodes.ConditionExecutor{}, nil, nil)
		res, err := backtest.New(market, registry).Run(cmd.Context(), req)
		if err != nil {
			return err
		}
		slog.Info("backtest finished",
			"trades", len(res.Trades),
			"net_pnl", res.Metrics.NetPnL.String(),
			"win_rate", res.Metrics.WinRate,
			"max_drawdown", res.Metrics.MaxDrawdown,
			"bar_errors", len(res.Errors))

		out := cmd.OutOrStdout()
		if backtestFlags.out != "" {
			f, err := os.Create(backtestFlags.out)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func backtestRequest(g *tradeflow.Graph) (backtest.Request, error) {
	from, err := time.Parse(time.RFC3339, backtestFlags.from)
	if err != nil {
		return backtest.Request{}, fmt.Errorf("--from: %w", err)
	}
	to, err := time.Parse(time.RFC3339, backtestFlags.to)
	if err != nil {
		return backtest.Request{}, fmt.Errorf("--to: %w", err)
	}
	capital, err := decimal.NewFromString(backtestFlags.capital)
	if err != nil {
		return backtest.Request{}, fmt.Errorf("--capital: %w", err)
	}
	req := backtest.Request{
		Graph:          g,
		WorkflowID:     g.ID,
		Symbol:         backtestFlags.symbol,
		Interval:       tradeflow.Interval(backtestFlags.interval),
		From:           from,
		To:             to,
		InitialCapital: capital,
	}
	if backtestFlags.commission != "" {
		rate, err := decimal.NewFromString(backtestFlags.commission)
		if err != nil {
			return backtest.Request{}, fmt.Errorf("--commission: %w", err)
		}
		req.BrokerContext = &backtest.BrokerContext{CommissionRate: rate}
	}
	return req, req.Validate()
}

func init() {
	f := backtestCmd.Flags()
	f.StringVar(&backtestFlags.csv, "csv", "", "candle CSV file (timestamp,open,high,low,close[,volume])")
	f.StringVar(&backtestFlags.symbol, "symbol", "", "instrument symbol")
	f.StringVar(&backtestFlags.interval, "interval", "1h", "bar interval")
	f.StringVar(&backtestFlags.from, "from", "", "window start, RFC 3339")
	f.StringVar(&backtestFlags.to, "to", "", "window end, RFC 3339")
	f.StringVar(&backtestFlags.capital, "capital", "10000", "initial capital")
	f.StringVar(&backtestFlags.commission, "commission", "", "commission rate per fill, e.g. 0.001")
	f.StringVarP(&backtestFlags.out, "out", "o", "", "write the JSON report here instead of stdout")
	_ = backtestCmd.MarkFlagRequired("symbol")
	_ = backtestCmd.MarkFlagRequired("from")
	_ = backtestCmd.MarkFlagRequired("to")
}
