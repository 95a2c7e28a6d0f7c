// Package repository defines storage interfaces for workflows, runs,
// credentials and backtest reports, with in-memory and database-backed
// implementations.
package repository

import (
	"context"
	"errors"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// WorkflowRepository abstracts workflow persistence so callers don't
// need to know whether storage is in-memory, PostgreSQL, or a mix.
type WorkflowRepository interface {
	Save(ctx context.Context, g *tradeflow.Graph) error
	Get(ctx context.Context, id string) (*tradeflow.Graph, error)
	List(ctx context.Context) ([]*tradeflow.Graph, error)
	Delete(ctx context.Context, id string) error
}

// RunRepository abstracts persistence for run records and their
// transition logs.
type RunRepository interface {
	Create(ctx context.Context, record *tradeflow.RunRecord) error
	Get(ctx context.Context, id string) (*tradeflow.RunRecord, error)
	Update(ctx context.Context, record *tradeflow.RunRecord) error
	// AppendTransition adds t to the run's log and reports whether it was
	// new. An identical transition already in the log is not added again.
	AppendTransition(ctx context.Context, t tradeflow.Transition) (bool, error)
	// List returns runs newest first. Empty workflowID or status match all.
	List(ctx context.Context, workflowID, status string, limit, offset int) ([]*tradeflow.RunRecord, int, error)
}

// CredentialRepository stores and retrieves external service credentials.
type CredentialRepository interface {
	Create(ctx context.Context, c *tradeflow.Credential) error
	Get(ctx context.Context, id string) (*tradeflow.Credential, error)
	List(ctx context.Context) ([]*tradeflow.Credential, error)
	Update(ctx context.Context, c *tradeflow.Credential) error
	Delete(ctx context.Context, id string) error
}

// BacktestRepository keeps backtest reports by id.
type BacktestRepository interface {
	Save(ctx context.Context, r *tradeflow.BacktestResult) error
	Get(ctx context.Context, id string) (*tradeflow.BacktestResult, error)
	// List returns reports newest first, optionally for one workflow.
	List(ctx context.Context, workflowID string, limit int) ([]*tradeflow.BacktestResult, error)
}

func paginate[T any](items []T, limit, offset int) []T {
	total := len(items)
	if offset >= total {
		return nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return items[offset:end]
}
