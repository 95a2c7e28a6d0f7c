package engine

import (
	"context"
	"sync"

	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var _ ports.Publisher = (*EventBus)(nil)

type EventHandler func(channel string, ev tradeflow.StatusEvent)

// EventBus fans status events out to in-process subscribers in publish
// order. Handlers run on the publisher's goroutine.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (b *EventBus) Subscribe(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish implements ports.Publisher. It never fails.
func (b *EventBus) Publish(_ context.Context, channel string, ev tradeflow.StatusEvent) error {
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(channel, ev)
	}
	return nil
}

// Channel returns a buffered stream of events. Events are dropped when the
// buffer is full. The channel closes when ctx is done.
func (b *EventBus) Channel(ctx context.Context, bufSize int) <-chan tradeflow.StatusEvent {
	ch := make(chan tradeflow.StatusEvent, bufSize)
	var mu sync.Mutex
	closed := false
	b.Subscribe(func(_ string, e tradeflow.StatusEvent) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
	go func() {
		<-ctx.Done()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}
