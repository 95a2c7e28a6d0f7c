package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// StepJournal keeps durable step outputs in the run_steps table.
type StepJournal struct {
	db *DB
}

func NewStepJournal(d *DB) *StepJournal {
	return &StepJournal{db: d}
}

func (j *StepJournal) Lookup(ctx context.Context, runID, name string) (tradeflow.NodeOutput, bool, error) {
	var raw []byte
	err := j.db.Pool.QueryRowContext(ctx,
		`SELECT output FROM run_steps WHERE run_id = $1 AND name = $2`, runID, name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return tradeflow.NodeOutput{}, false, nil
	}
	if err != nil {
		return tradeflow.NodeOutput{}, false, fmt.Errorf("get step: %w", err)
	}
	var out tradeflow.NodeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return tradeflow.NodeOutput{}, false, fmt.Errorf("unmarshal step: %w", err)
	}
	return out, true, nil
}

// Record inserts the step unless one is already stored for the key.
func (j *StepJournal) Record(ctx context.Context, runID, name string, out tradeflow.NodeOutput) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal step: %w", err)
	}
	_, err = j.db.Pool.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, name, output) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, name) DO NOTHING`,
		runID, name, raw,
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}
