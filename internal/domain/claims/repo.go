package claims

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clearway/clearway/pkg/pagination"
)

var (
	// ErrNotFound is returned when a claim does not exist.
	ErrNotFound = errors.New("claim not found")
	// ErrNoLineItems is returned when a claim is submitted without line items.
	ErrNoLineItems = errors.New("claim has no line items")
	// ErrInvalidClaim is returned when required claim references are missing.
	ErrInvalidClaim = errors.New("claim is missing required fields")
	// ErrClaimTerminal is returned when mutating a claim in a terminal status.
	ErrClaimTerminal = errors.New("claim is in a terminal status")
)

// SearchFilter narrows List queries. Zero values are ignored.
type SearchFilter struct {
	Status    Status
	PayerID   uuid.UUID
	PatientID uuid.UUID
	Path      ProcessingPath
	From      time.Time
	To        time.Time
}

// Repository is the persistence boundary for claims, their line items and
// their event log.
type Repository interface {
	// Create persists the claim and its line items atomically.
	Create(ctx context.Context, c *Claim, items []LineItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*Claim, error)
	List(ctx context.Context, f SearchFilter, p pagination.Params) ([]Claim, int, error)

	// UpdateStatus moves the claim to status and stamps status_updated_at.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	// RecordOutcome stores the terminal payload alongside the status change.
	RecordOutcome(ctx context.Context, id uuid.UUID, status Status, responsePayload, errorDetail *string) error

	LineItems(ctx context.Context, claimID uuid.UUID) ([]LineItem, error)
	AddLineItems(ctx context.Context, claimID uuid.UUID, items []LineItem, newTotal float64) error
	// ApplyAdjudication writes per-line allowed amounts keyed by sequence.
	ApplyAdjudication(ctx context.Context, claimID uuid.UUID, lines []LineAdjudication) error

	AppendEvent(ctx context.Context, ev *Event) error
	Events(ctx context.Context, claimID uuid.UUID) ([]Event, error)
	LatestEvent(ctx context.Context, claimID uuid.UUID) (*Event, error)

	// ListNeedingAttention returns claims in ERROR or REJECTED, plus claims
	// stuck in SUBMITTED or PENDING since before staleBefore.
	ListNeedingAttention(ctx context.Context, staleBefore time.Time, p pagination.Params) ([]Claim, int, error)
	Statistics(ctx context.Context, staleBefore time.Time) (*Statistics, error)
}
