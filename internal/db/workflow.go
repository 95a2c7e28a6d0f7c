package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// ErrNoRows is wrapped by lookups that find nothing.
var ErrNoRows = sql.ErrNoRows

// UpsertWorkflow stores a graph under its id, replacing any previous version.
func (d *DB) UpsertWorkflow(ctx context.Context, g *tradeflow.Graph) error {
	defJSON, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO workflows (id, name, version, definition, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, version = EXCLUDED.version,
		     definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at`,
		g.ID, g.Name, g.Version, defJSON, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by id.
func (d *DB) GetWorkflow(ctx context.Context, id string) (*tradeflow.Graph, error) {
	var defJSON []byte
	err := d.Pool.QueryRowContext(ctx,
		`SELECT definition FROM workflows WHERE id = $1`, id,
	).Scan(&defJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}

	var g tradeflow.Graph
	if err := json.Unmarshal(defJSON, &g); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &g, nil
}

// ListWorkflows returns all workflows ordered by name.
func (d *DB) ListWorkflows(ctx context.Context) ([]*tradeflow.Graph, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT definition FROM workflows ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var result []*tradeflow.Graph
	for rows.Next() {
		var defJSON []byte
		if err := rows.Scan(&defJSON); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var g tradeflow.Graph
		if err := json.Unmarshal(defJSON, &g); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		result = append(result, &g)
	}
	return result, rows.Err()
}

// DeleteWorkflow removes a workflow by id.
func (d *DB) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := d.Pool.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}
