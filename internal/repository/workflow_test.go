package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/soochol/tradeflow/internal/repository"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

type stubWorkflowDB struct {
	graphs    map[string]*tradeflow.Graph
	upsertErr error
	listErr   error
}

func (s *stubWorkflowDB) UpsertWorkflow(_ context.Context, g *tradeflow.Graph) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.graphs[g.ID] = g.Clone()
	return nil
}
func (s *stubWorkflowDB) GetWorkflow(_ context.Context, id string) (*tradeflow.Graph, error) {
	if g, ok := s.graphs[id]; ok {
		return g.Clone(), nil
	}
	return nil, errFake
}
func (s *stubWorkflowDB) ListWorkflows(context.Context) ([]*tradeflow.Graph, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*tradeflow.Graph
	for _, g := range s.graphs {
		out = append(out, g)
	}
	return out, nil
}
func (s *stubWorkflowDB) DeleteWorkflow(_ context.Context, id string) error {
	delete(s.graphs, id)
	return nil
}

func sampleGraph(id string) *tradeflow.Graph {
	return &tradeflow.Graph{
		ID:   id,
		Name: "graph " + id,
		Nodes: []tradeflow.Node{
			{ID: "t", Kind: tradeflow.KindTrigger, Config: map[string]any{"mode": "manual"}},
		},
	}
}

func TestMemoryWorkflowRepository_CRUD(t *testing.T) {
	repo := repository.NewMemoryWorkflowRepository()
	ctx := context.Background()

	if err := repo.Save(ctx, sampleGraph("wf-2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = repo.Save(ctx, sampleGraph("wf-1"))

	got, err := repo.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Nodes[0].Config["mode"] = "cron"

	again, _ := repo.Get(ctx, "wf-1")
	if again.Nodes[0].Config["mode"] != "manual" {
		t.Fatal("stored graph was mutated through a returned copy")
	}

	list, _ := repo.List(ctx)
	if len(list) != 2 || list[0].ID != "wf-1" {
		t.Fatalf("list order: got %d graphs, first %q", len(list), list[0].ID)
	}

	if err := repo.Delete(ctx, "wf-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get(ctx, "wf-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("after delete: got %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "wf-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestPersistentWorkflowRepository(t *testing.T) {
	ctx := context.Background()
	stub := &stubWorkflowDB{graphs: map[string]*tradeflow.Graph{"wf-db": sampleGraph("wf-db")}}
	repo := repository.NewPersistentWorkflowRepository(repository.NewMemoryWorkflowRepository(), stub)

	got, err := repo.Get(ctx, "wf-db")
	if err != nil || got.ID != "wf-db" {
		t.Fatalf("fallback get: %v %v", got, err)
	}

	if err := repo.Save(ctx, sampleGraph("wf-new")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := stub.graphs["wf-new"]; !ok {
		t.Fatal("save did not reach the database")
	}

	stub.upsertErr = errFake
	if err := repo.Save(ctx, sampleGraph("wf-bad")); !errors.Is(err, errFake) {
		t.Fatalf("save with db failure: got %v", err)
	}
	if _, err := repo.Get(ctx, "wf-bad"); err == nil {
		t.Fatal("failed save must not be visible")
	}

	stub.listErr = errFake
	list, err := repo.List(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("list fallback: %d graphs, err %v", len(list), err)
	}
}
