package services

import (
	"context"
	"sync"
	"time"

	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var _ ports.Publisher = (*RunManager)(nil)

// EventRecord is a status event stored in the per-run buffer.
type EventRecord struct {
	Seq   int                   `json:"seq"`
	Event tradeflow.StatusEvent `json:"event"`
}

// runEntry holds the buffered events of one run, its completion state and
// the wake-up channels of its subscribers.
type runEntry struct {
	mu          sync.RWMutex
	events      []EventRecord
	done        bool
	status      tradeflow.RunStatus
	subs        []chan struct{} // closed-and-replaced on each new event
	completedAt time.Time
}

func (e *runEntry) snapshot(startSeq int) (events []EventRecord, notify <-chan struct{}, done bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if startSeq < len(e.events) {
		events = make([]EventRecord, len(e.events)-startSeq)
		copy(events, e.events[startSeq:])
	}

	ch := make(chan struct{})
	e.subs = append(e.subs, ch)
	return events, ch, e.done
}

// RunManager buffers the status events of recent runs so SSE and websocket
// clients can replay a run from any sequence number and then follow it
// live. It is a ports.Publisher: the engine publishes into it directly.
type RunManager struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

// NewRunManager keeps a finished run's buffer for ttl before collecting it.
func NewRunManager(ttl time.Duration) *RunManager {
	rm := &RunManager{
		runs: make(map[string]*runEntry),
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go rm.gc()
	return rm
}

// Stop terminates the GC goroutine.
func (rm *RunManager) Stop() {
	rm.once.Do(func() { close(rm.stop) })
}

// Register creates an empty buffer for a run about to start. A run that is
// resumed gets a fresh buffer.
func (rm *RunManager) Register(runID string) {
	rm.mu.Lock()
	rm.runs[runID] = &runEntry{}
	rm.mu.Unlock()
}

func (rm *RunManager) entry(runID string) *runEntry {
	rm.mu.RLock()
	e, ok := rm.runs[runID]
	rm.mu.RUnlock()
	if ok {
		return e
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if e, ok = rm.runs[runID]; !ok {
		e = &runEntry{}
		rm.runs[runID] = e
	}
	return e
}

// Publish appends ev to its run's buffer and wakes subscribers. A terminal
// run status marks the buffer done.
func (rm *RunManager) Publish(_ context.Context, _ string, ev tradeflow.StatusEvent) error {
	entry := rm.entry(ev.RunID)

	entry.mu.Lock()
	entry.events = append(entry.events, EventRecord{Seq: len(entry.events), Event: ev})
	if ev.Type == tradeflow.EventRunStatus {
		entry.status = ev.Status
		if ev.Status.Terminal() {
			entry.done = true
			entry.completedAt = time.Now()
		}
	}
	subs := entry.subs
	entry.subs = nil
	entry.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
	return nil
}

// Subscribe returns all buffered events from startSeq onward, a channel
// closed when new events arrive, and whether the run is done. found is
// false when the run is not tracked.
func (rm *RunManager) Subscribe(runID string, startSeq int) (events []EventRecord, notify <-chan struct{}, done bool, found bool) {
	rm.mu.RLock()
	entry, ok := rm.runs[runID]
	rm.mu.RUnlock()
	if !ok {
		return nil, nil, false, false
	}
	events, notify, done = entry.snapshot(startSeq)
	return events, notify, done, true
}

// Follow streams events from startSeq until the run is done or ctx ends.
// The returned channel is closed when streaming stops.
func (rm *RunManager) Follow(ctx context.Context, runID string, startSeq int) (<-chan EventRecord, bool) {
	if _, _, _, found := rm.Subscribe(runID, startSeq); !found {
		return nil, false
	}
	out := make(chan EventRecord, 16)
	go func() {
		defer close(out)
		seq := startSeq
		for {
			events, notify, done, found := rm.Subscribe(runID, seq)
			if !found {
				return
			}
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				seq = ev.Seq + 1
			}
			if done {
				return
			}
			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, true
}

func (rm *RunManager) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-rm.stop:
			return
		case <-ticker.C:
			rm.collectExpired()
		}
	}
}

func (rm *RunManager) collectExpired() {
	now := time.Now()
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for id, entry := range rm.runs {
		entry.mu.RLock()
		expired := entry.done && now.Sub(entry.completedAt) > rm.ttl
		entry.mu.RUnlock()
		if expired {
			delete(rm.runs, id)
		}
	}
}
