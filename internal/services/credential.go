package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/soochol/tradeflow/internal/repository"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

var _ ports.CredentialResolver = (*CredentialService)(nil)

// CredentialService manages credentials for NOTIFY and ORDER nodes.
type CredentialService struct {
	repo repository.CredentialRepository
}

func NewCredentialService(repo repository.CredentialRepository) *CredentialService {
	return &CredentialService{repo: repo}
}

// ErrInvalidCredential is returned when a credential fails validation.
var ErrInvalidCredential = errors.New("invalid credential")

var knownCredentialTypes = map[tradeflow.CredentialType]bool{
	tradeflow.CredTelegram: true,
	tradeflow.CredSlack:    true,
	tradeflow.CredWebhook:  true,
	tradeflow.CredBroker:   true,
}

func validateCredential(c *tradeflow.Credential) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCredential)
	}
	if !knownCredentialTypes[c.Type] {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidCredential, c.Type)
	}
	return nil
}

func (s *CredentialService) Create(ctx context.Context, c *tradeflow.Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = tradeflow.GenerateID("cred")
	}
	return s.repo.Create(ctx, c)
}

// Resolve returns the full credential, secrets included, for executors.
func (s *CredentialService) Resolve(ctx context.Context, id string) (*tradeflow.Credential, error) {
	return s.repo.Get(ctx, id)
}

// Get returns the credential without secrets.
func (s *CredentialService) Get(ctx context.Context, id string) (tradeflow.CredentialSafe, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return tradeflow.CredentialSafe{}, err
	}
	return c.Safe(), nil
}

func (s *CredentialService) List(ctx context.Context) ([]tradeflow.CredentialSafe, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tradeflow.CredentialSafe, len(list))
	for i, c := range list {
		out[i] = c.Safe()
	}
	return out, nil
}

// Update replaces a credential. Empty secrets keep the stored ones, so a
// client that only sees the safe view can edit other fields.
func (s *CredentialService) Update(ctx context.Context, c *tradeflow.Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}
	prev, err := s.repo.Get(ctx, c.ID)
	if err != nil {
		return err
	}
	if c.Password == "" {
		c.Password = prev.Password
	}
	if c.Token == "" {
		c.Token = prev.Token
	}
	return s.repo.Update(ctx, c)
}

func (s *CredentialService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
