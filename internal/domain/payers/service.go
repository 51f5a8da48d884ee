package payers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

const (
	defaultRetryIntervalMs = 5000
	defaultMaxRetries      = 3
)

func (s *Service) CreateConnection(ctx context.Context, c *Connection) error {
	if c.PayerID == uuid.Nil {
		return fmt.Errorf("payer_id is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.AuthMethod == "" {
		c.AuthMethod = AuthNone
	}
	if !c.AuthMethod.Valid() {
		return fmt.Errorf("invalid auth_method: %s", c.AuthMethod)
	}
	if c.AuthMethod != AuthNone && (c.Credentials == nil || *c.Credentials == "") {
		return fmt.Errorf("credentials are required for auth_method %s", c.AuthMethod)
	}
	if c.RetryIntervalMs <= 0 {
		c.RetryIntervalMs = defaultRetryIntervalMs
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	c.Active = true
	return s.repo.Create(ctx, c)
}

func (s *Service) GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error) {
	return s.repo.GetByID(ctx, id)
}

// ConnectionForPayer returns the active connection used to reach a payer.
func (s *Service) ConnectionForPayer(ctx context.Context, payerID uuid.UUID) (*Connection, error) {
	return s.repo.GetByPayer(ctx, payerID)
}

// HasConnection reports whether the payer is externally reachable. It backs
// the AUTO routing decision at claim ingestion.
func (s *Service) HasConnection(ctx context.Context, payerID uuid.UUID) (bool, error) {
	_, err := s.repo.GetByPayer(ctx, payerID)
	if errors.Is(err, ErrConnectionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) ListConnections(ctx context.Context) ([]Connection, error) {
	return s.repo.List(ctx)
}

func (s *Service) UpdateConnection(ctx context.Context, c *Connection) error {
	existing, err := s.repo.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	if c.Endpoint == "" {
		c.Endpoint = existing.Endpoint
	}
	if c.AuthMethod == "" {
		c.AuthMethod = existing.AuthMethod
	}
	if !c.AuthMethod.Valid() {
		return fmt.Errorf("invalid auth_method: %s", c.AuthMethod)
	}
	if c.Credentials == nil {
		c.Credentials = existing.Credentials
	}
	if c.RetryIntervalMs <= 0 {
		c.RetryIntervalMs = existing.RetryIntervalMs
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = existing.MaxRetries
	}
	return s.repo.Update(ctx, c)
}

func (s *Service) DeactivateConnection(ctx context.Context, id uuid.UUID) error {
	return s.repo.Deactivate(ctx, id)
}
