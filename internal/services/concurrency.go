package services

import (
	"context"
	"sync"
	"sync/atomic"
)

// ConcurrencyLimits bounds simultaneous executions. Keys overrides the
// per-key cap for named keys, e.g. the shared backtest key.
type ConcurrencyLimits struct {
	GlobalMax   int            `json:"global_max" yaml:"global_max"`
	PerWorkflow int            `json:"per_workflow" yaml:"per_workflow"`
	Keys        map[string]int `json:"keys,omitempty" yaml:"keys"`
}

func (l ConcurrencyLimits) capFor(key string) int {
	if n, ok := l.Keys[key]; ok && n > 0 {
		return n
	}
	return l.PerWorkflow
}

// ConcurrencyLimiter controls how many live runs and replays execute at
// once, using channel semaphores at two levels: global and per key. Live
// runs use the workflow id as key.
type ConcurrencyLimiter struct {
	global      chan struct{}
	perKey      map[string]chan struct{}
	mu          sync.Mutex
	limits      ConcurrencyLimits
	activeCount atomic.Int64
	waiting     atomic.Int64
}

// NewConcurrencyLimiter creates a limiter with the given limits.
func NewConcurrencyLimiter(limits ConcurrencyLimits) *ConcurrencyLimiter {
	if limits.GlobalMax <= 0 {
		limits.GlobalMax = 10
	}
	if limits.PerWorkflow <= 0 {
		limits.PerWorkflow = 3
	}

	return &ConcurrencyLimiter{
		global:      make(chan struct{}, limits.GlobalMax),
		perKey:      make(map[string]chan struct{}),
		limits:      limits,
	}
}

// Acquire blocks until both a global and a per-key slot are free, or ctx
// is done.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context, key string) error {
	c.waiting.Add(1)
	defer c.waiting.Add(-1)

	select {
	case c.global <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	ch := c.keyChan(key)
	select {
	case ch <- struct{}{}:
		c.activeCount.Add(1)
		return nil
	case <-ctx.Done():
		<-c.global
		return ctx.Err()
	}
}

// Release returns both slots taken by Acquire.
func (c *ConcurrencyLimiter) Release(key string) {
	c.activeCount.Add(-1)

	c.mu.Lock()
	if ch, ok := c.perKey[key]; ok {
		select {
		case <-ch:
		default:
		}
	}
	c.mu.Unlock()

	select {
	case <-c.global:
	default:
	}
}

// ConcurrencyStats reports current usage.
type ConcurrencyStats struct {
	ActiveRuns  int `json:"active_runs"`
	Waiting     int `json:"waiting"`
	GlobalMax   int `json:"global_max"`
	PerWorkflow int `json:"per_workflow"`
}

func (c *ConcurrencyLimiter) Stats() ConcurrencyStats {
	return ConcurrencyStats{
		ActiveRuns:  int(c.activeCount.Load()),
		Waiting:     int(c.waiting.Load()),
		GlobalMax:   c.limits.GlobalMax,
		PerWorkflow: c.limits.PerWorkflow,
	}
}

func (c *ConcurrencyLimiter) keyChan(key string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.perKey[key]
	if !ok {
		ch = make(chan struct{}, c.limits.capFor(key))
		c.perKey[key] = ch
	}
	return ch
}
