package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	memstore "github.com/soochol/tradeflow/internal/repository/memory"
	"github.com/soochol/tradeflow/internal/tradeflow"
)

// MemoryCredentialRepository is a thread-safe in-memory credential store.
type MemoryCredentialRepository struct {
	store *memstore.Store[*tradeflow.Credential]
}

func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		store: memstore.New(func(c *tradeflow.Credential) string { return c.ID }).WithCopy(func(c *tradeflow.Credential) *tradeflow.Credential {
			cp := *c
			return &cp
		}),
	}
}

func (r *MemoryCredentialRepository) Create(ctx context.Context, c *tradeflow.Credential) error {
	if err := r.store.Insert(ctx, c); errors.Is(err, memstore.ErrExists) {
		return fmt.Errorf("credential %q already exists", c.ID)
	}
	return nil
}

func (r *MemoryCredentialRepository) Get(ctx context.Context, id string) (*tradeflow.Credential, error) {
	c, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("credential %q: %w", id, ErrNotFound)
	}
	return c, err
}

func (r *MemoryCredentialRepository) List(ctx context.Context) ([]*tradeflow.Credential, error) {
	return r.store.All(ctx)
}

func (r *MemoryCredentialRepository) Update(ctx context.Context, c *tradeflow.Credential) error {
	if err := r.store.Replace(ctx, c); errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("credential %q: %w", c.ID, ErrNotFound)
	}
	return nil
}

func (r *MemoryCredentialRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("credential %q: %w", id, ErrNotFound)
	}
	return nil
}

// CredentialDB is the slice of *db.DB the persistent credential repository
// needs.
type CredentialDB interface {
	CreateCredential(ctx context.Context, c *tradeflow.Credential) error
	GetCredential(ctx context.Context, id string) (*tradeflow.Credential, error)
	ListCredentials(ctx context.Context) ([]*tradeflow.Credential, error)
	UpdateCredential(ctx context.Context, c *tradeflow.Credential) error
	DeleteCredential(ctx context.Context, id string) error
}

// PersistentCredentialRepository stores credentials in PostgreSQL and keeps
// copies in memory for lookups during runs. Secrets are stored as given;
// only the API layer strips them.
type PersistentCredentialRepository struct {
	mem *MemoryCredentialRepository
	db  CredentialDB
}

func NewPersistentCredentialRepository(mem *MemoryCredentialRepository, db CredentialDB) *PersistentCredentialRepository {
	return &PersistentCredentialRepository{mem: mem, db: db}
}

func (r *PersistentCredentialRepository) Create(ctx context.Context, c *tradeflow.Credential) error {
	if err := r.db.CreateCredential(ctx, c); err != nil {
		return fmt.Errorf("db create credential: %w", err)
	}
	return r.mem.Create(ctx, c)
}

func (r *PersistentCredentialRepository) Get(ctx context.Context, id string) (*tradeflow.Credential, error) {
	if c, err := r.mem.Get(ctx, id); err == nil {
		return c, nil
	}
	c, err := r.db.GetCredential(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("credential %q: %w", id, ErrNotFound)
	}
	_ = r.mem.Create(ctx, c)
	return c, nil
}

func (r *PersistentCredentialRepository) List(ctx context.Context) ([]*tradeflow.Credential, error) {
	list, err := r.db.ListCredentials(ctx)
	if err != nil {
		slog.Warn("repository: db list credentials failed, falling back to in-memory", "err", err)
		return r.mem.List(ctx)
	}
	return list, nil
}

func (r *PersistentCredentialRepository) Update(ctx context.Context, c *tradeflow.Credential) error {
	if err := r.db.UpdateCredential(ctx, c); err != nil {
		return fmt.Errorf("db update credential: %w", err)
	}
	if err := r.mem.Update(ctx, c); errors.Is(err, ErrNotFound) {
		return r.mem.Create(ctx, c)
	}
	return nil
}

func (r *PersistentCredentialRepository) Delete(ctx context.Context, id string) error {
	_ = r.mem.Delete(ctx, id)
	if err := r.db.DeleteCredential(ctx, id); err != nil {
		return fmt.Errorf("db delete credential: %w", err)
	}
	return nil
}
