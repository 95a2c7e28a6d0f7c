package nodes

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bars(closes ...float64) []tradeflow.Bar {
	out := make([]tradeflow.Bar, len(closes))
	for i, c := range closes {
		px := decimal.NewFromFloat(c)
		out[i] = tradeflow.Bar{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      px,
			High:      px.Add(decimal.NewFromInt(1)),
			Low:       px.Sub(decimal.NewFromInt(1)),
			Close:     px,
			Volume:    decimal.NewFromInt(10),
		}
	}
	return out
}

// journaled returns v the way a step journal hands it back.
func journaled(t *testing.T, v any) any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func input(id string, kind tradeflow.NodeKind, v any) Input {
	return Input{NodeID: id, Kind: kind, Output: tradeflow.Success(v)}
}

func failed(id string, kind tradeflow.NodeKind, msg string) Input {
	return Input{NodeID: id, Kind: kind, Output: tradeflow.NodeOutput{Status: tradeflow.OutputError, Message: msg}}
}

func call(id string, kind tradeflow.NodeKind, cfg map[string]any, in ...Input) *Call {
	return &Call{
		RunID:  "run-1",
		Node:   &tradeflow.Node{ID: id, Kind: kind, Config: cfg},
		Inputs: in,
		Now:    t0.Add(24 * time.Hour),
	}
}

type fakeMarket struct {
	bars     []tradeflow.Bar
	err      error
	from, to time.Time
}

func (m *fakeMarket) FetchCandles(_ context.Context, _ string, _ tradeflow.Interval, from, to time.Time) ([]tradeflow.Bar, error) {
	m.from, m.to = from, to
	return m.bars, m.err
}

type fakeBroker struct {
	mu       sync.Mutex
	position decimal.Decimal
	price    decimal.Decimal
	noFill   bool
	orders   []tradeflow.Order
	creds    []*tradeflow.Credential
}

func (b *fakeBroker) PlaceOrder(_ context.Context, o tradeflow.Order, creds *tradeflow.Credential) (*tradeflow.Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, o)
	b.creds = append(b.creds, creds)
	if b.noFill {
		return nil, nil
	}
	return &tradeflow.Fill{OrderID: o.ClientOrderID, Symbol: o.Symbol, Side: o.Side, Quantity: o.Quantity, Price: b.price}, nil
}

func (b *fakeBroker) Position(context.Context, string, *tradeflow.Credential) (decimal.Decimal, error) {
	return b.position, nil
}

type staticCredentials map[string]*tradeflow.Credential

func (s staticCredentials) Resolve(_ context.Context, id string) (*tradeflow.Credential, error) {
	c, ok := s[id]
	if !ok {
		return nil, &tradeflow.ValidationError{Field: "credential_id", Msg: "unknown credential " + id}
	}
	return c, nil
}
