package steps

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

type stepKey struct {
	runID string
	name  string
}

// MemoryJournal keeps steps in process. Outputs are stored as their JSON
// form so a restored output looks the same as one read back from Redis or
// Postgres.
type MemoryJournal struct {
	mu    sync.RWMutex
	steps map[stepKey][]byte
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{steps: make(map[stepKey][]byte)}
}

func (j *MemoryJournal) Lookup(_ context.Context, runID, name string) (tradeflow.NodeOutput, bool, error) {
	j.mu.RLock()
	raw, ok := j.steps[stepKey{runID, name}]
	j.mu.RUnlock()
	if !ok {
		return tradeflow.NodeOutput{}, false, nil
	}
	var out tradeflow.NodeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return tradeflow.NodeOutput{}, false, err
	}
	return out, true, nil
}

func (j *MemoryJournal) Record(_ context.Context, runID, name string, out tradeflow.NodeOutput) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	k := stepKey{runID, name}
	if _, exists := j.steps[k]; !exists {
		j.steps[k] = raw
	}
	return nil
}

// Len returns the number of journaled steps.
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.steps)
}
