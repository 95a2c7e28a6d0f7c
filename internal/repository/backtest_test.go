package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/soochol/tradeflow/internal/repository"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

func sampleReport(id, workflowID string, created time.Time) *tradeflow.BacktestResult {
	return &tradeflow.BacktestResult{
		ID:             id,
		WorkflowID:     workflowID,
		Symbol:         "BTCUSDT",
		Interval:       "1h",
		InitialCapital: decimal.NewFromInt(10000),
		FinalCash:      decimal.NewFromInt(9900),
		Metrics:        tradeflow.Metrics{NetPnL: decimal.NewFromInt(-100), MaxDrawdown: 0.01},
		CreatedAt:      created,
	}
}

func TestMemoryBacktestRepository(t *testing.T) {
	repo := repository.NewMemoryBacktestRepository()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = repo.Save(ctx, sampleReport("bt-1", "wf-a", base))
	_ = repo.Save(ctx, sampleReport("bt-2", "wf-a", base.Add(time.Hour)))
	_ = repo.Save(ctx, sampleReport("bt-3", "wf-b", base.Add(2*time.Hour)))

	got, err := repo.Get(ctx, "bt-2")
	if err != nil || got.WorkflowID != "wf-a" {
		t.Fatalf("get: %v %v", got, err)
	}
	if _, err := repo.Get(ctx, "bt-9"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("missing: got %v", err)
	}

	list, _ := repo.List(ctx, "wf-a", 0)
	if len(list) != 2 || list[0].ID != "bt-2" {
		t.Fatalf("list wf-a: %d reports", len(list))
	}
	all, _ := repo.List(ctx, "", 1)
	if len(all) != 1 || all[0].ID != "bt-3" {
		t.Fatalf("limit 1: got %d reports", len(all))
	}

	if err := repo.Save(ctx, &tradeflow.BacktestResult{}); err == nil {
		t.Fatal("saving a report without id should fail")
	}
}

// TestGormBacktestRepository runs against a real PostgreSQL when
// TRADEFLOW_TEST_DATABASE_URL is set.
func TestGormBacktestRepository(t *testing.T) {
	url := os.Getenv("TRADEFLOW_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TRADEFLOW_TEST_DATABASE_URL not set")
	}
	gdb, err := repository.OpenGorm(url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	repo := repository.NewGormBacktestRepository(gdb)
	ctx := context.Background()
	if err := repo.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	id := tradeflow.GenerateID("bt")
	want := sampleReport(id, "wf-gorm", time.Now().UTC().Truncate(time.Millisecond))
	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.FinalCash.Equal(want.FinalCash) || got.Symbol != want.Symbol {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if _, err := repo.Get(ctx, "bt-missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("missing: got %v", err)
	}
	list, err := repo.List(ctx, "wf-gorm", 5)
	if err != nil || len(list) == 0 {
		t.Fatalf("list: %d %v", len(list), err)
	}
}
