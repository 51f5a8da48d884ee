// Package tracking is the read side of the pipeline: status views, work
// queues and aggregate statistics over claims and their forwards.
package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clearway/clearway/internal/domain/claims"
	"github.com/clearway/clearway/internal/domain/forward"
	"github.com/clearway/clearway/pkg/pagination"
)

// ForwardSummary is the gateway-side progress of an externally routed claim.
type ForwardSummary struct {
	ForwardID     uuid.UUID      `json:"forward_id"`
	Status        forward.Status `json:"status"`
	AttemptCount  int            `json:"attempt_count"`
	MaxRetries    int            `json:"max_retries"`
	NextAttemptAt *time.Time     `json:"next_attempt_at,omitempty"`
	ExternalRef   *string        `json:"external_ref,omitempty"`
	LastError     *string        `json:"last_error,omitempty"`
	ImpliedStatus claims.Status  `json:"implied_status"`
}

// StatusView is the full tracking picture for one claim.
type StatusView struct {
	Claim       *claims.Claim   `json:"claim"`
	LatestEvent *claims.Event   `json:"latest_event,omitempty"`
	Forward     *ForwardSummary `json:"forward,omitempty"`
}

type Service struct {
	claims     claims.Repository
	forwards   forward.Repository
	staleAfter time.Duration
}

// NewService builds the tracking read service. staleAfter is how long a
// claim may sit in SUBMITTED or PENDING before it counts as stalled.
func NewService(cr claims.Repository, fr forward.Repository, staleAfter time.Duration) *Service {
	return &Service{claims: cr, forwards: fr, staleAfter: staleAfter}
}

// GetClaimStatus assembles the status view: the claim row, its most recent
// event and, for externally routed claims, the latest forward with the
// claim status that forward state implies.
func (s *Service) GetClaimStatus(ctx context.Context, claimID uuid.UUID) (*StatusView, error) {
	claim, err := s.claims.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	view := &StatusView{Claim: claim}

	ev, err := s.claims.LatestEvent(ctx, claimID)
	if err != nil && !errors.Is(err, claims.ErrNotFound) {
		return nil, err
	}
	if err == nil {
		view.LatestEvent = ev
	}

	fwd, err := s.forwards.LatestByClaim(ctx, claimID)
	if errors.Is(err, forward.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, err
	}
	view.Forward = &ForwardSummary{
		ForwardID:     fwd.ID,
		Status:        fwd.Status,
		AttemptCount:  fwd.AttemptCount,
		MaxRetries:    fwd.MaxRetries,
		NextAttemptAt: fwd.NextAttemptAt,
		ExternalRef:   fwd.ExternalRef,
		LastError:     fwd.LastError,
		ImpliedStatus: forward.ClaimStatusFor(fwd.Status),
	}
	return view, nil
}

func (s *Service) GetClaimsByStatus(ctx context.Context, status claims.Status, p pagination.Params) ([]claims.Claim, int, error) {
	return s.claims.List(ctx, claims.SearchFilter{Status: status}, p)
}

// GetClaimsNeedingAttention returns the operator work queue: terminal
// problem claims plus anything stalled past the stale window.
func (s *Service) GetClaimsNeedingAttention(ctx context.Context, p pagination.Params) ([]claims.Claim, int, error) {
	return s.claims.ListNeedingAttention(ctx, time.Now().Add(-s.staleAfter), p)
}

func (s *Service) GetClaimStatistics(ctx context.Context) (*claims.Statistics, error) {
	return s.claims.Statistics(ctx, time.Now().Add(-s.staleAfter))
}
