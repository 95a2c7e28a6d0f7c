package ports

import (
	"context"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// Publisher delivers status events to real-time consumers. Delivery is
// at-least-once; the engine logs and ignores publish failures.
type Publisher interface {
	Publish(ctx context.Context, channel string, ev tradeflow.StatusEvent) error
}
