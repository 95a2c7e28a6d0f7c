package marketdata

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var _ ports.MarketData = (*Cache)(nil)

// Key identifies one cached window.
type Key struct {
	Symbol   string
	Interval tradeflow.Interval
	From     time.Time
	To       time.Time
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d:%d", k.Symbol, k.Interval, k.From.UnixMilli(), k.To.UnixMilli())
}

// Store is a second-level cache shared between processes.
type Store interface {
	Get(ctx context.Context, key Key) ([]tradeflow.Bar, bool, error)
	Put(ctx context.Context, key Key, bars []tradeflow.Bar) error
}

// DefaultMaxEntries bounds the windows a Cache keeps in process.
const DefaultMaxEntries = 256

// Cache wraps a source so each window is fetched once. Concurrent requests
// for the same window share one upstream call. Cached series are never
// modified; callers get their own copy. The least recently used window is
// dropped once more than maxEntries are held.
type Cache struct {
	source     ports.MarketData
	store      Store
	maxEntries int

	mu      sync.Mutex
	entries map[Key]*list.Element
	recent  *list.List // front is most recently used
	group   singleflight.Group

	fetches atomic.Int64
}

type cacheEntry struct {
	key  Key
	bars []tradeflow.Bar
}

type CacheOption func(*Cache)

// WithStore adds a second-level store consulted before the source.
func WithStore(s Store) CacheOption { return func(c *Cache) { c.store = s } }

// WithMaxEntries overrides DefaultMaxEntries. n <= 0 keeps the default.
func WithMaxEntries(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func NewCache(source ports.MarketData, opts ...CacheOption) *Cache {
	c := &Cache{
		source:     source,
		maxEntries: DefaultMaxEntries,
		entries:    make(map[Key]*list.Element),
		recent:     list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCandles returns the cached window or loads it. The load is shared by
// every caller waiting on the same window and is not tied to any one
// caller's cancellation; each caller still returns as soon as its own ctx
// is done.
func (c *Cache) FetchCandles(ctx context.Context, symbol string, interval tradeflow.Interval, from, to time.Time) ([]tradeflow.Bar, error) {
	key := Key{Symbol: symbol, Interval: interval, From: from.UTC(), To: to.UTC()}

	if bars, ok := c.lookup(key); ok {
		return bars, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.load(loadCtx, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]tradeflow.Bar)), nil
	}
}

func (c *Cache) lookup(key Key) ([]tradeflow.Bar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.recent.MoveToFront(el)
	return clone(el.Value.(*cacheEntry).bars), true
}

func (c *Cache) load(ctx context.Context, key Key) ([]tradeflow.Bar, error) {
	if c.store != nil {
		bars, ok, err := c.store.Get(ctx, key)
		if err != nil {
			slog.Warn("marketdata: cache store read failed", "key", key.String(), "err", err)
		} else if ok {
			c.remember(key, bars)
			return bars, nil
		}
	}

	c.fetches.Add(1)
	bars, err := c.source.FetchCandles(ctx, key.Symbol, key.Interval, key.From, key.To)
	if err != nil {
		return nil, err
	}
	c.remember(key, bars)
	if c.store != nil {
		if err := c.store.Put(ctx, key, bars); err != nil {
			slog.Warn("marketdata: cache store write failed", "key", key.String(), "err", err)
		}
	}
	return bars, nil
}

func (c *Cache) remember(key Key, bars []tradeflow.Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).bars = clone(bars)
		c.recent.MoveToFront(el)
		return
	}
	c.entries[key] = c.recent.PushFront(&cacheEntry{key: key, bars: clone(bars)})
	for c.recent.Len() > c.maxEntries {
		oldest := c.recent.Back()
		c.recent.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Fetches returns how many times the source has been called.
func (c *Cache) Fetches() int64 { return c.fetches.Load() }

// Len returns the number of cached windows.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func clone(bars []tradeflow.Bar) []tradeflow.Bar {
	return append([]tradeflow.Bar(nil), bars...)
}
