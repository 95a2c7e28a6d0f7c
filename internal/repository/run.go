package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

const maxRunRecords = 1000

// MemoryRunRepository stores run records in memory with FIFO eviction.
// Records are copied in and out.
type MemoryRunRepository struct {
	mu      sync.RWMutex
	records map[string]*tradeflow.RunRecord
	order   []string // insertion order for FIFO eviction
	limit   int
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{
		records: make(map[string]*tradeflow.RunRecord),
		limit:   maxRunRecords,
	}
}

func cloneRun(r *tradeflow.RunRecord) *tradeflow.RunRecord {
	cp := *r
	cp.NodeRuns = append([]tradeflow.NodeRunRecord(nil), r.NodeRuns...)
	cp.Transitions = append([]tradeflow.Transition(nil), r.Transitions...)
	return &cp
}

func (r *MemoryRunRepository) Create(_ context.Context, record *tradeflow.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[record.ID]; ok {
		return fmt.Errorf("run %q already exists", record.ID)
	}
	if len(r.order) >= r.limit {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.records, oldest)
	}

	r.records[record.ID] = cloneRun(record)
	r.order = append(r.order, record.ID)
	return nil
}

func (r *MemoryRunRepository) Get(_ context.Context, id string) (*tradeflow.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", id, ErrNotFound)
	}
	return cloneRun(rec), nil
}

// Update replaces the record but keeps the stored transition log, which
// only AppendTransition grows.
func (r *MemoryRunRepository) Update(_ context.Context, record *tradeflow.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.records[record.ID]
	if !ok {
		return fmt.Errorf("run %q: %w", record.ID, ErrNotFound)
	}
	next := cloneRun(record)
	next.Transitions = cur.Transitions
	r.records[record.ID] = next
	return nil
}

func (r *MemoryRunRepository) AppendTransition(_ context.Context, t tradeflow.Transition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[t.RunID]
	if !ok {
		return false, fmt.Errorf("run %q: %w", t.RunID, ErrNotFound)
	}
	for _, prev := range rec.Transitions {
		if prev.Same(t) {
			return false, nil
		}
	}
	rec.Transitions = append(rec.Transitions, t)
	return true, nil
}

func (r *MemoryRunRepository) List(_ context.Context, workflowID, status string, limit, offset int) ([]*tradeflow.RunRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filtered []*tradeflow.RunRecord
	for _, rec := range r.records {
		if workflowID != "" && rec.WorkflowID != workflowID {
			continue
		}
		if status != "" && string(rec.Status) != status {
			continue
		}
		filtered = append(filtered, rec)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID > filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	page := paginate(filtered, limit, offset)
	out := make([]*tradeflow.RunRecord, len(page))
	for i, rec := range page {
		out[i] = cloneRun(rec)
	}
	return out, len(filtered), nil
}

// RunDB is the slice of *db.DB the persistent run repository needs.
type RunDB interface {
	CreateRun(ctx context.Context, r *tradeflow.RunRecord) error
	GetRun(ctx context.Context, id string) (*tradeflow.RunRecord, error)
	UpdateRun(ctx context.Context, r *tradeflow.RunRecord) error
	ListRuns(ctx context.Context, workflowID, status string, limit, offset int) ([]*tradeflow.RunRecord, int, error)
	InsertTransition(ctx context.Context, t tradeflow.Transition) error
	MarkOrphanedRunsFailed(ctx context.Context) (int64, error)
}

// PersistentRunRepository wraps a MemoryRunRepository with a PostgreSQL backend.
// Writes go to both stores (DB failure is logged but non-fatal).
// Reads try memory first, falling back to the database.
type PersistentRunRepository struct {
	mem *MemoryRunRepository
	db  RunDB
}

func NewPersistentRunRepository(mem *MemoryRunRepository, db RunDB) *PersistentRunRepository {
	return &PersistentRunRepository{mem: mem, db: db}
}

func (r *PersistentRunRepository) Create(ctx context.Context, record *tradeflow.RunRecord) error {
	if err := r.mem.Create(ctx, record); err != nil {
		return err
	}
	if err := r.db.CreateRun(ctx, record); err != nil {
		slog.Warn("repository: db create run failed, in-memory only", "run_id", record.ID, "err", err)
	}
	return nil
}

func (r *PersistentRunRepository) Get(ctx context.Context, id string) (*tradeflow.RunRecord, error) {
	rec, err := r.mem.Get(ctx, id)
	if err == nil {
		return rec, nil
	}

	dbRec, dbErr := r.db.GetRun(ctx, id)
	if dbErr != nil {
		return nil, err
	}
	_ = r.mem.Create(ctx, dbRec)
	return dbRec, nil
}

func (r *PersistentRunRepository) Update(ctx context.Context, record *tradeflow.RunRecord) error {
	memErr := r.mem.Update(ctx, record)
	if err := r.db.UpdateRun(ctx, record); err != nil {
		slog.Warn("repository: db update run failed, in-memory only", "run_id", record.ID, "err", err)
		return memErr
	}
	return nil
}

func (r *PersistentRunRepository) AppendTransition(ctx context.Context, t tradeflow.Transition) (bool, error) {
	added, err := r.mem.AppendTransition(ctx, t)
	if err != nil {
		return false, err
	}
	if !added {
		return false, nil
	}
	if err := r.db.InsertTransition(ctx, t); err != nil {
		slog.Warn("repository: db insert transition failed, in-memory only", "run_id", t.RunID, "err", err)
	}
	return true, nil
}

func (r *PersistentRunRepository) List(ctx context.Context, workflowID, status string, limit, offset int) ([]*tradeflow.RunRecord, int, error) {
	runs, total, err := r.db.ListRuns(ctx, workflowID, status, limit, offset)
	if err == nil {
		return runs, total, nil
	}
	slog.Warn("repository: db list runs failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx, workflowID, status, limit, offset)
}

// MarkOrphanedRunsFailed fails runs a previous process left unfinished.
func (r *PersistentRunRepository) MarkOrphanedRunsFailed(ctx context.Context) (int64, error) {
	return r.db.MarkOrphanedRunsFailed(ctx)
}
