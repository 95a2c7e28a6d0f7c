package backtest

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var _ ports.Broker = (*Ledger)(nil)

// RoundTrip is the realised result of closing (part of) a position.
type RoundTrip struct {
	Quantity decimal.Decimal
	PnL      decimal.Decimal
}

// Ledger is the simulated account of one replay. It implements ports.Broker
// so the ORDER executor trades against it exactly as it would against a
// live broker. Orders fill against the bar set by Mark.
type Ledger struct {
	symbol     string
	interval   tradeflow.Interval
	commission decimal.Decimal

	mu         sync.Mutex
	bar        tradeflow.Bar
	cash       decimal.Decimal
	position   decimal.Decimal
	avgCost    decimal.Decimal
	entryFees  decimal.Decimal
	trades     []tradeflow.Trade
	roundTrips []RoundTrip
}

func NewLedger(symbol string, interval tradeflow.Interval, capital, commissionRate decimal.Decimal) *Ledger {
	return &Ledger{symbol: symbol, interval: interval, cash: capital, commission: commissionRate}
}

// Mark sets the bar orders fill against.
func (l *Ledger) Mark(bar tradeflow.Bar) {
	l.mu.Lock()
	l.bar = bar
	l.mu.Unlock()
}

// PlaceOrder fills a market order at the bar's close. A limit order fills at
// its limit price when the bar crossed it (BUY: low <= limit, SELL: high >=
// limit) and otherwise returns a nil fill.
func (l *Ledger) PlaceOrder(_ context.Context, o tradeflow.Order, _ *tradeflow.Credential) (*tradeflow.Fill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if o.Symbol != l.symbol {
		return nil, &tradeflow.BrokerError{Kind: tradeflow.BrokerValidation, Msg: "replay trades " + l.symbol + ", not " + o.Symbol}
	}
	if !o.Quantity.IsPositive() {
		return nil, &tradeflow.BrokerError{Kind: tradeflow.BrokerValidation, Msg: "quantity must be positive"}
	}

	price := l.bar.Close
	if o.Type == tradeflow.OrderLimit {
		switch {
		case o.Side == tradeflow.SideBuy && l.bar.Low.LessThanOrEqual(o.LimitPrice):
			price = o.LimitPrice
		case o.Side == tradeflow.SideSell && l.bar.High.GreaterThanOrEqual(o.LimitPrice):
			price = o.LimitPrice
		default:
			return nil, nil
		}
	}

	notional := price.Mul(o.Quantity)
	fee := notional.Mul(l.commission)
	if o.Side == tradeflow.SideBuy && notional.Add(fee).GreaterThan(l.cash) {
		return nil, &tradeflow.BrokerError{
			Kind: tradeflow.BrokerValidation,
			Msg:  "insufficient cash: need " + notional.Add(fee).String() + ", have " + l.cash.String(),
		}
	}

	l.apply(o.Side, o.Quantity, price, fee)
	if o.Side == tradeflow.SideBuy {
		l.cash = l.cash.Sub(notional).Sub(fee)
	} else {
		l.cash = l.cash.Add(notional).Sub(fee)
	}

	fill := &tradeflow.Fill{
		OrderID:    o.ClientOrderID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		Price:      price,
		Commission: fee,
		FilledAt:   l.bar.Timestamp,
	}
	l.trades = append(l.trades, tradeflow.Trade{
		Timestamp:  l.bar.Timestamp,
		Side:       o.Side,
		Quantity:   o.Quantity,
		Price:      price,
		Commission: fee,
		SymbolContext: tradeflow.SymbolContext{
			Symbol:   o.Symbol,
			Interval: l.interval,
			NodeID:   nodeOf(o.ClientOrderID),
		},
	})
	return fill, nil
}

// apply updates the position, its average cost and the realised round
// trips. A fill against the open side closes up to the open quantity; any
// remainder opens a position the other way.
func (l *Ledger) apply(side tradeflow.Side, qty, price, fee decimal.Decimal) {
	signed := qty
	if side == tradeflow.SideSell {
		signed = qty.Neg()
	}

	if l.position.IsZero() || l.position.Sign() == signed.Sign() {
		open := l.position.Abs()
		l.avgCost = l.avgCost.Mul(open).Add(price.Mul(qty)).Div(open.Add(qty))
		l.entryFees = l.entryFees.Add(fee)
		l.position = l.position.Add(signed)
		return
	}

	open := l.position.Abs()
	closing := decimal.Min(qty, open)
	direction := decimal.NewFromInt(int64(l.position.Sign()))
	entryShare := l.entryFees.Mul(closing).Div(open)
	exitShare := fee.Mul(closing).Div(qty)
	pnl := price.Sub(l.avgCost).Mul(closing).Mul(direction).Sub(entryShare).Sub(exitShare)
	l.roundTrips = append(l.roundTrips, RoundTrip{Quantity: closing, PnL: pnl})
	l.entryFees = l.entryFees.Sub(entryShare)
	l.position = l.position.Add(signed)

	switch {
	case l.position.IsZero():
		l.avgCost = decimal.Zero
		l.entryFees = decimal.Zero
	case l.position.Sign() == signed.Sign():
		// Flipped through zero: the remainder is a new position.
		l.avgCost = price
		l.entryFees = fee.Sub(exitShare)
	}
}

// Position returns the signed position for symbol.
func (l *Ledger) Position(_ context.Context, symbol string, _ *tradeflow.Credential) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if symbol != l.symbol {
		return decimal.Zero, nil
	}
	return l.position, nil
}

// Equity values the account at price: cash plus position times price.
func (l *Ledger) Equity(price decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash.Add(l.position.Mul(price))
}

func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

func (l *Ledger) Trades() []tradeflow.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]tradeflow.Trade(nil), l.trades...)
}

func (l *Ledger) RoundTrips() []RoundTrip {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RoundTrip(nil), l.roundTrips...)
}

func (l *Ledger) OpenPosition() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.position
}

// nodeOf extracts the node id from a "runID:nodeID" client order id.
func nodeOf(clientOrderID string) string {
	if i := strings.LastIndex(clientOrderID, ":"); i >= 0 {
		return clientOrderID[i+1:]
	}
	return clientOrderID
}
