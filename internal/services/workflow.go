package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soochol/tradeflow/internal/dag"
	"github.com/soochol/tradeflow/internal/repository"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var _ ports.GraphLoader = (*WorkflowService)(nil)

// ErrWorkflowExists is returned when creating a workflow under a taken id.
var ErrWorkflowExists = errors.New("workflow already exists")

// WorkflowHook observes stored workflows. The scheduler uses it to keep
// cron triggers in step with saved graphs.
type WorkflowHook interface {
	WorkflowSaved(g *tradeflow.Graph)
	WorkflowDeleted(id string)
}

// WorkflowService validates and stores graphs.
type WorkflowService struct {
	repo  repository.WorkflowRepository
	hooks []WorkflowHook
	now   func() time.Time
}

func NewWorkflowService(repo repository.WorkflowRepository) *WorkflowService {
	return &WorkflowService{repo: repo, now: time.Now}
}

// AddHook registers a hook called after every successful save or delete.
func (s *WorkflowService) AddHook(h WorkflowHook) {
	s.hooks = append(s.hooks, h)
}

// Validate reports the first structural defect of g, or nil.
func (s *WorkflowService) Validate(g *tradeflow.Graph) error {
	return dag.Validate(g)
}

// Create stores a new graph. An empty id is generated.
func (s *WorkflowService) Create(ctx context.Context, g *tradeflow.Graph) (*tradeflow.Graph, error) {
	if err := dag.Validate(g); err != nil {
		return nil, err
	}
	g = g.Clone()
	if g.ID == "" {
		g.ID = tradeflow.GenerateID("wf")
	} else if _, err := s.repo.Get(ctx, g.ID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowExists, g.ID)
	}
	now := s.now()
	g.Version = 1
	g.CreatedAt = now
	g.UpdatedAt = now
	if err := s.repo.Save(ctx, g); err != nil {
		return nil, err
	}
	s.saved(g)
	return g, nil
}

// Update replaces the graph stored under id and bumps its version. Runs
// already executing keep the snapshot they started with.
func (s *WorkflowService) Update(ctx context.Context, id string, g *tradeflow.Graph) (*tradeflow.Graph, error) {
	prev, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := dag.Validate(g); err != nil {
		return nil, err
	}
	g = g.Clone()
	g.ID = id
	g.Version = prev.Version + 1
	g.CreatedAt = prev.CreatedAt
	g.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, g); err != nil {
		return nil, err
	}
	s.saved(g)
	return g, nil
}

func (s *WorkflowService) Get(ctx context.Context, id string) (*tradeflow.Graph, error) {
	return s.repo.Get(ctx, id)
}

// LoadGraph implements ports.GraphLoader.
func (s *WorkflowService) LoadGraph(ctx context.Context, id string) (*tradeflow.Graph, error) {
	g, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

func (s *WorkflowService) List(ctx context.Context) ([]*tradeflow.Graph, error) {
	return s.repo.List(ctx)
}

func (s *WorkflowService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	for _, h := range s.hooks {
		h.WorkflowDeleted(id)
	}
	return nil
}

func (s *WorkflowService) saved(g *tradeflow.Graph) {
	for _, h := range s.hooks {
		h.WorkflowSaved(g.Clone())
	}
}
