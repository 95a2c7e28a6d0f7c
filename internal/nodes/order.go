package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

// OrderExecutor places an order when every upstream condition holds. The
// same executor serves live runs (Broker is the broker adapter) and replays
// (Broker is the simulated ledger).
type OrderExecutor struct {
	Broker      ports.Broker
	Credentials ports.CredentialResolver
}

func (e *OrderExecutor) Execute(ctx context.Context, call *Call) (any, error) {
	cfg, err := DecodeOrder(call.Node)
	if err != nil {
		return nil, err
	}
	if failed, ok := call.Inputs.FirstFailed(); ok {
		return nil, fmt.Errorf("upstream node %q failed: %s", failed.NodeID, failed.Output.Message)
	}

	symbol := cfg.Symbol
	for _, in := range call.Inputs.OfKind(tradeflow.KindCondition) {
		c, err := tradeflow.Decode[ConditionOutput](in.Output.Value)
		if err != nil {
			return nil, fmt.Errorf("read condition %q: %w", in.NodeID, err)
		}
		if !c.Result {
			return OrderOutput{Action: OrderSkipped, Reason: "condition " + in.NodeID + " is false"}, nil
		}
		if symbol == "" {
			symbol = c.Symbol
		}
	}
	if symbol == "" {
		return nil, fmt.Errorf("order %q: no symbol configured or inherited", call.Node.ID)
	}

	var creds *tradeflow.Credential
	if cfg.CredentialID != "" && e.Credentials != nil {
		creds, err = e.Credentials.Resolve(ctx, cfg.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("resolve credential %q: %w", cfg.CredentialID, err)
		}
	}

	position, err := e.Broker.Position(ctx, symbol, creds)
	if err != nil {
		return nil, fmt.Errorf("read position %s: %w", symbol, err)
	}
	qty, reason := sizeOrder(cfg, position)
	if reason != "" {
		return OrderOutput{Action: OrderSkipped, Reason: reason}, nil
	}

	order := tradeflow.Order{
		ClientOrderID: call.RunID + ":" + call.Node.ID,
		Symbol:        symbol,
		Side:          cfg.Side,
		Type:          cfg.OrderType,
		Quantity:      qty,
		LimitPrice:    cfg.LimitPrice,
	}
	fill, err := e.Broker.PlaceOrder(ctx, order, creds)
	if err != nil {
		return nil, err
	}
	if fill == nil {
		return OrderOutput{Action: OrderUnfilled, Reason: "limit not reached", Order: &order}, nil
	}
	logf(ctx, call.Node.ID, "order filled", map[string]any{
		"side": string(fill.Side), "quantity": fill.Quantity.String(), "price": fill.Price.String(),
	})
	return OrderOutput{Action: OrderFilled, Order: &order, Fill: fill}, nil
}

// sizeOrder applies the position guard and returns the quantity to trade,
// or a reason to skip.
func sizeOrder(cfg OrderConfig, position decimal.Decimal) (decimal.Decimal, string) {
	switch cfg.Side {
	case tradeflow.SideBuy:
		if position.Add(cfg.Quantity).GreaterThan(cfg.MaxPosition) {
			return decimal.Zero, "position limit " + cfg.MaxPosition.String() + " reached"
		}
		return cfg.Quantity, ""
	default:
		if cfg.AllowShort {
			return cfg.Quantity, ""
		}
		if !position.IsPositive() {
			return decimal.Zero, "no open position to sell"
		}
		return decimal.Min(cfg.Quantity, position), ""
	}
}

// DecodeOrder decodes and checks an ORDER config, filling defaults.
func DecodeOrder(n *tradeflow.Node) (OrderConfig, error) {
	cfg, err := tradeflow.DecodeConfig[OrderConfig](n)
	if err != nil {
		return cfg, err
	}
	cfg.Side = tradeflow.Side(strings.ToUpper(string(cfg.Side)))
	if cfg.Side != tradeflow.SideBuy && cfg.Side != tradeflow.SideSell {
		return cfg, fmt.Errorf("node %q: side must be BUY or SELL, got %q", n.ID, cfg.Side)
	}
	if !cfg.Quantity.IsPositive() {
		return cfg, fmt.Errorf("node %q: quantity must be positive", n.ID)
	}
	cfg.OrderType = tradeflow.OrderType(strings.ToUpper(string(cfg.OrderType)))
	switch cfg.OrderType {
	case "":
		cfg.OrderType = tradeflow.OrderMarket
		if cfg.LimitPrice.IsPositive() {
			cfg.OrderType = tradeflow.OrderLimit
		}
	case tradeflow.OrderMarket:
	case tradeflow.OrderLimit:
		if !cfg.LimitPrice.IsPositive() {
			return cfg, fmt.Errorf("node %q: limit order needs a positive limit_price", n.ID)
		}
	default:
		return cfg, fmt.Errorf("node %q: unknown order type %q", n.ID, cfg.OrderType)
	}
	if !cfg.MaxPosition.IsPositive() {
		cfg.MaxPosition = cfg.Quantity
	}
	return cfg, nil
}
