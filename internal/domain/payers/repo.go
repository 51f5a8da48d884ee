package payers

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrConnectionNotFound is returned when no active connection exists for a
// payer or connection ID.
var ErrConnectionNotFound = errors.New("payer connection not found")

type Repository interface {
	Create(ctx context.Context, c *Connection) error
	GetByID(ctx context.Context, id uuid.UUID) (*Connection, error)
	// GetByPayer returns the active connection for a payer.
	GetByPayer(ctx context.Context, payerID uuid.UUID) (*Connection, error)
	List(ctx context.Context) ([]Connection, error)
	Update(ctx context.Context, c *Connection) error
	// Deactivate soft-deletes; history referencing the connection survives.
	Deactivate(ctx context.Context, id uuid.UUID) error
}
