package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

const runColumns = `id, workflow_id, workflow_name, trigger_mode, status, graph, inputs, error, node_runs, created_at, started_at, completed_at`

// CreateRun stores a new run record.
func (d *DB) CreateRun(ctx context.Context, r *tradeflow.RunRecord) error {
	graphJSON, _ := json.Marshal(r.Graph)
	inputsJSON, _ := json.Marshal(r.Inputs)
	nodeRunsJSON, _ := json.Marshal(r.NodeRuns)

	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.WorkflowID, r.WorkflowName, r.TriggerMode,
		string(r.Status), graphJSON, inputsJSON, r.Error, nodeRunsJSON,
		r.CreatedAt, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record and its transition log.
func (d *DB) GetRun(ctx context.Context, id string) (*tradeflow.RunRecord, error) {
	r, err := scanRun(d.Pool.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	r.Transitions, err = d.ListTransitions(ctx, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateRun writes the mutable columns of a run record.
func (d *DB) UpdateRun(ctx context.Context, r *tradeflow.RunRecord) error {
	nodeRunsJSON, _ := json.Marshal(r.NodeRuns)

	_, err := d.Pool.ExecContext(ctx,
		`UPDATE runs SET status = $1, error = $2, node_runs = $3, started_at = $4, completed_at = $5
		 WHERE id = $6`,
		string(r.Status), r.Error, nodeRunsJSON, r.StartedAt, r.CompletedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first. Empty workflowID or status match all.
func (d *DB) ListRuns(ctx context.Context, workflowID, status string, limit, offset int) ([]*tradeflow.RunRecord, int, error) {
	const where = `WHERE ($1 = '' OR workflow_id = $1) AND ($2 = '' OR status = $2)`

	var total int
	err := d.Pool.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs `+where, workflowID, status,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs `+where+` ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		workflowID, status, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*tradeflow.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, r)
	}
	return result, total, rows.Err()
}

// MarkOrphanedRunsFailed fails runs left PENDING or RUNNING by a previous
// process.
func (d *DB) MarkOrphanedRunsFailed(ctx context.Context) (int64, error) {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE runs SET status = $1, error = 'orphaned by restart', completed_at = NOW()
		 WHERE status IN ($2, $3)`,
		string(tradeflow.RunFailed), string(tradeflow.RunPending), string(tradeflow.RunRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("mark orphaned runs: %w", err)
	}
	return res.RowsAffected()
}

// InsertTransition appends to a run's transition log. Repeating an
// identical change is a no-op.
func (d *DB) InsertTransition(ctx context.Context, t tradeflow.Transition) error {
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO run_transitions (run_id, node_id, kind, state, error, at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (run_id, node_id, state, error) DO NOTHING`,
		t.RunID, t.NodeID, string(t.Kind), t.State, t.Error, t.At,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// ListTransitions returns a run's transitions in insertion order.
func (d *DB) ListTransitions(ctx context.Context, runID string) ([]tradeflow.Transition, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT run_id, node_id, kind, state, error, at FROM run_transitions
		 WHERE run_id = $1 ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var result []tradeflow.Transition
	for rows.Next() {
		var t tradeflow.Transition
		var kind string
		if err := rows.Scan(&t.RunID, &t.NodeID, &kind, &t.State, &t.Error, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Kind = tradeflow.NodeKind(kind)
		result = append(result, t)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*tradeflow.RunRecord, error) {
	r := &tradeflow.RunRecord{}
	var status string
	var graphJSON, inputsJSON, nodeRunsJSON []byte

	if err := row.Scan(&r.ID, &r.WorkflowID, &r.WorkflowName, &r.TriggerMode,
		&status, &graphJSON, &inputsJSON, &r.Error, &nodeRunsJSON,
		&r.CreatedAt, &r.StartedAt, &r.CompletedAt,
	); err != nil {
		return nil, err
	}

	r.Status = tradeflow.RunStatus(status)
	if len(graphJSON) > 0 && string(graphJSON) != "null" {
		r.Graph = &tradeflow.Graph{}
		if err := json.Unmarshal(graphJSON, r.Graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph: %w", err)
		}
	}
	json.Unmarshal(inputsJSON, &r.Inputs)
	json.Unmarshal(nodeRunsJSON, &r.NodeRuns)
	return r, nil
}
