package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// BrokerContext tunes the simulated ledger.
type BrokerContext struct {
	// CommissionRate is charged on each fill's notional, e.g. 0.001 for 10bp.
	CommissionRate decimal.Decimal `json:"commission_rate"`
	// StartPoint prepends an equity point at From holding the initial capital.
	StartPoint bool `json:"start_point,omitempty"`
}

// Request describes one historical replay.
type Request struct {
	Graph          *tradeflow.Graph   `json:"graph"`
	WorkflowID     string             `json:"workflow_id,omitempty"`
	Symbol         string             `json:"symbol"`
	Interval       tradeflow.Interval `json:"interval"`
	From           time.Time          `json:"from"`
	To             time.Time          `json:"to"`
	InitialCapital decimal.Decimal    `json:"initial_capital"`
	BrokerContext  *BrokerContext     `json:"broker_context,omitempty"`
}

// Validate checks the request on its own, before any data is fetched.
func (r Request) Validate() error {
	switch {
	case r.Graph == nil:
		return &tradeflow.ValidationError{Field: "graph", Msg: "is required"}
	case r.Symbol == "":
		return &tradeflow.ValidationError{Field: "symbol", Msg: "is required"}
	case !r.From.Before(r.To):
		return &tradeflow.ValidationError{Field: "from", Msg: "must be before to"}
	case !r.InitialCapital.IsPositive():
		return &tradeflow.ValidationError{Field: "initial_capital", Msg: "must be positive"}
	}
	if _, err := r.Interval.Duration(); err != nil {
		return &tradeflow.ValidationError{Field: "interval", Msg: err.Error()}
	}
	if bc := r.BrokerContext; bc != nil && (bc.CommissionRate.IsNegative() || bc.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1))) {
		return &tradeflow.ValidationError{Field: "broker_context.commission_rate", Msg: "must be in [0, 1)"}
	}
	return nil
}

func (r Request) commissionRate() decimal.Decimal {
	if r.BrokerContext == nil {
		return decimal.Zero
	}
	return r.BrokerContext.CommissionRate
}
