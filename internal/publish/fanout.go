package publish

import (
	"context"
	"errors"

	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

// Fanout publishes every event to each publisher in order. One failing
// publisher does not stop the others; their errors are joined.
type Fanout []ports.Publisher

func (f Fanout) Publish(ctx context.Context, channel string, ev tradeflow.StatusEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, channel, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
