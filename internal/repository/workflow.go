package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	memstore "github.com/soochol/tradeflow/internal/repository/memory"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// MemoryWorkflowRepository is a thread-safe in-memory WorkflowRepository.
// Stored graphs are cloned so callers cannot mutate them in place.
type MemoryWorkflowRepository struct {
	store *memstore.Store[*tradeflow.Graph]
}

func NewMemoryWorkflowRepository() *MemoryWorkflowRepository {
	return &MemoryWorkflowRepository{
		store: memstore.New(func(g *tradeflow.Graph) string { return g.ID }).WithCopy((*tradeflow.Graph).Clone),
	}
}

func (r *MemoryWorkflowRepository) Save(ctx context.Context, g *tradeflow.Graph) error {
	return r.store.Set(ctx, g)
}

func (r *MemoryWorkflowRepository) Get(ctx context.Context, id string) (*tradeflow.Graph, error) {
	g, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	return g, err
}

func (r *MemoryWorkflowRepository) List(ctx context.Context) ([]*tradeflow.Graph, error) {
	return r.store.All(ctx)
}

func (r *MemoryWorkflowRepository) Delete(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("workflow %q: %w", id, ErrNotFound)
	}
	return err
}

// WorkflowDB is the slice of *db.DB the persistent workflow repository needs.
type WorkflowDB interface {
	UpsertWorkflow(ctx context.Context, g *tradeflow.Graph) error
	GetWorkflow(ctx context.Context, id string) (*tradeflow.Graph, error)
	ListWorkflows(ctx context.Context) ([]*tradeflow.Graph, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// PersistentWorkflowRepository wraps the memory repository with a
// PostgreSQL backend. Writes go to both stores and a database failure is
// returned. Reads try memory first and fall back to the database.
type PersistentWorkflowRepository struct {
	mem *MemoryWorkflowRepository
	db  WorkflowDB
}

func NewPersistentWorkflowRepository(mem *MemoryWorkflowRepository, db WorkflowDB) *PersistentWorkflowRepository {
	return &PersistentWorkflowRepository{mem: mem, db: db}
}

func (r *PersistentWorkflowRepository) Save(ctx context.Context, g *tradeflow.Graph) error {
	if err := r.db.UpsertWorkflow(ctx, g); err != nil {
		return fmt.Errorf("db save workflow: %w", err)
	}
	return r.mem.Save(ctx, g)
}

func (r *PersistentWorkflowRepository) Get(ctx context.Context, id string) (*tradeflow.Graph, error) {
	g, err := r.mem.Get(ctx, id)
	if err == nil {
		return g, nil
	}
	dbG, dbErr := r.db.GetWorkflow(ctx, id)
	if dbErr != nil {
		return nil, err
	}
	_ = r.mem.Save(ctx, dbG)
	return dbG, nil
}

func (r *PersistentWorkflowRepository) List(ctx context.Context) ([]*tradeflow.Graph, error) {
	list, err := r.db.ListWorkflows(ctx)
	if err == nil {
		return list, nil
	}
	slog.Warn("repository: db list workflows failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx)
}

func (r *PersistentWorkflowRepository) Delete(ctx context.Context, id string) error {
	_ = r.mem.Delete(ctx, id)
	if err := r.db.DeleteWorkflow(ctx, id); err != nil {
		return fmt.Errorf("db delete workflow: %w", err)
	}
	return nil
}
