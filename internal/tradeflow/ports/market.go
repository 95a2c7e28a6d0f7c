package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// MarketData fetches candles in ascending timestamp order.
type MarketData interface {
	FetchCandles(ctx context.Context, symbol string, interval tradeflow.Interval, from, to time.Time) ([]tradeflow.Bar, error)
}

// Broker places orders on behalf of an ORDER node. Failures are returned as
// *tradeflow.BrokerError.
type Broker interface {
	PlaceOrder(ctx context.Context, order tradeflow.Order, creds *tradeflow.Credential) (*tradeflow.Fill, error)
	Position(ctx context.Context, symbol string, creds *tradeflow.Credential) (decimal.Decimal, error)
}

// CredentialResolver looks up credentials referenced by node configs.
type CredentialResolver interface {
	Resolve(ctx context.Context, id string) (*tradeflow.Credential, error)
}
