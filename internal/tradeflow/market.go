package tradeflow

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV candle.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Interval is a bar width such as "1m" or "1d".
type Interval string

var intervals = map[Interval]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// Duration returns the bar width.
func (i Interval) Duration() (time.Duration, error) {
	d, ok := intervals[i]
	if !ok {
		return 0, fmt.Errorf("unknown interval %q", string(i))
	}
	return d, nil
}

// PeriodsPerYear is used to annualise per-bar statistics.
func (i Interval) PeriodsPerYear() float64 {
	d, err := i.Duration()
	if err != nil || d <= 0 {
		return 0
	}
	return float64(365*24*time.Hour) / float64(d)
}

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects market or limit execution.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// Order is what an ORDER node asks a broker (live or simulated) to execute.
type Order struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Type          OrderType       `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	LimitPrice    decimal.Decimal `json:"limit_price,omitempty"`
}

// Fill confirms an executed order.
type Fill struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	FilledAt   time.Time       `json:"filled_at"`
}

// SymbolContext names where a trade came from.
type SymbolContext struct {
	Symbol   string   `json:"symbol"`
	Interval Interval `json:"interval"`
	NodeID   string   `json:"node_id"`
}

// Trade is produced exactly once per simulated fill.
type Trade struct {
	Timestamp     time.Time       `json:"timestamp"`
	Side          Side            `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Commission    decimal.Decimal `json:"commission"`
	SymbolContext SymbolContext   `json:"symbol_context"`
}

// EquityPoint is one sample of the simulated account value.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// Metrics summarise a replay.
type Metrics struct {
	NetPnL      decimal.Decimal `json:"net_pnl"`
	WinRate     float64         `json:"win_rate"`
	RoundTrips  int             `json:"round_trips"`
	MaxDrawdown float64         `json:"max_drawdown"`
	Sharpe      *float64        `json:"sharpe,omitempty"`
}

// BarError is a node failure recorded while replaying one bar.
type BarError struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Message   string    `json:"message"`
}

// BacktestResult is the outcome of one historical replay.
type BacktestResult struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id,omitempty"`
	Symbol         string          `json:"symbol"`
	Interval       Interval        `json:"interval"`
	From           time.Time       `json:"from"`
	To             time.Time       `json:"to"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Trades         []Trade         `json:"trades"`
	EquityCurve    []EquityPoint   `json:"equity_curve"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	FinalCash      decimal.Decimal `json:"final_cash"`
	FinalPosition  decimal.Decimal `json:"final_position"`
	Metrics        Metrics         `json:"metrics"`
	Errors         []BarError      `json:"errors,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
