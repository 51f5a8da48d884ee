package claims

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clearway/clearway/pkg/pagination"
)

// Adjudicator applies internal payment rules to a claim. Implemented by the
// rules engine.
type Adjudicator interface {
	ProcessClaim(ctx context.Context, claim *Claim, items []LineItem) (*AdjudicationResult, error)
}

// Forwarder hands a claim to the external payer gateway. Submission is
// asynchronous; the gateway drives the claim status from there.
type Forwarder interface {
	SubmitClaim(ctx context.Context, claimID uuid.UUID) error
}

// PayerDirectory answers whether an external connection exists for a payer.
type PayerDirectory interface {
	HasConnection(ctx context.Context, payerID uuid.UUID) (bool, error)
}

type Service struct {
	repo        Repository
	directory   PayerDirectory
	adjudicator Adjudicator
	forwarder   Forwarder
}

func NewService(repo Repository, dir PayerDirectory) *Service {
	return &Service{repo: repo, directory: dir}
}

// SetAdjudicator wires the internal rules engine. Must be called before
// claims are ingested.
func (s *Service) SetAdjudicator(a Adjudicator) { s.adjudicator = a }

// SetForwarder wires the external payer gateway. Must be called before
// claims are ingested.
func (s *Service) SetForwarder(f Forwarder) { s.forwarder = f }

// LineItemInput is one billed service on an incoming claim.
type LineItemInput struct {
	ServiceCode string  `json:"service_code"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// CreateClaimInput is the ingestion payload.
type CreateClaimInput struct {
	PatientID      uuid.UUID       `json:"patient_id"`
	ProviderID     uuid.UUID       `json:"provider_id"`
	PayerID        uuid.UUID       `json:"payer_id"`
	OrganizationID *uuid.UUID      `json:"organization_id,omitempty"`
	ClaimType      string          `json:"claim_type"`
	LineItems      []LineItemInput `json:"line_items"`
}

func buildLineItems(claimID uuid.UUID, startSeq int, in []LineItemInput) ([]LineItem, float64) {
	items := make([]LineItem, 0, len(in))
	var total float64
	for i, li := range in {
		lineTotal := li.Quantity * li.UnitPrice
		items = append(items, LineItem{
			ClaimID:     claimID,
			Sequence:    startSeq + i,
			ServiceCode: li.ServiceCode,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Total:       lineTotal,
		})
		total += lineTotal
	}
	return items, total
}

// CreateClaim ingests a claim. The claim is always persisted in RECEIVED
// before any processing runs, so a processing failure never loses the
// submission. The returned claim reflects the status reached by the time
// ingestion returns; processing errors surface alongside it.
func (s *Service) CreateClaim(ctx context.Context, in CreateClaimInput, mode ProcessingPath) (*Claim, error) {
	if in.PatientID == uuid.Nil || in.ProviderID == uuid.Nil || in.PayerID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id, provider_id and payer_id are required", ErrInvalidClaim)
	}
	if in.ClaimType == "" {
		in.ClaimType = "professional"
	}
	if mode == "" {
		mode = PathAuto
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown processing mode %q", ErrInvalidClaim, mode)
	}

	path := mode
	if path == PathAuto {
		connected, err := s.directory.HasConnection(ctx, in.PayerID)
		if err != nil {
			return nil, fmt.Errorf("resolve payer connection: %w", err)
		}
		if connected {
			path = PathExternal
		} else {
			path = PathInternal
		}
	}

	claim := &Claim{
		PatientID:      in.PatientID,
		ProviderID:     in.ProviderID,
		PayerID:        in.PayerID,
		OrganizationID: in.OrganizationID,
		ClaimType:      in.ClaimType,
		ProcessingPath: path,
		Status:         StatusReceived,
	}
	items, total := buildLineItems(uuid.Nil, 1, in.LineItems)
	claim.TotalAmount = total

	if err := s.repo.Create(ctx, claim, items); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	detail := fmt.Sprintf(`{"processing_path":"%s","line_items":%d}`, path, len(items))
	s.appendEvent(ctx, claim.ID, EventClaimCreated, StatusReceived, "ingestion", &detail)

	switch path {
	case PathInternal:
		if _, err := s.adjudicator.ProcessClaim(ctx, claim, items); err != nil {
			refreshed, gerr := s.repo.GetByID(ctx, claim.ID)
			if gerr == nil {
				return refreshed, err
			}
			return claim, err
		}
	case PathExternal:
		if err := s.forwarder.SubmitClaim(ctx, claim.ID); err != nil {
			refreshed, gerr := s.repo.GetByID(ctx, claim.ID)
			if gerr == nil {
				return refreshed, err
			}
			return claim, err
		}
	}

	refreshed, err := s.repo.GetByID(ctx, claim.ID)
	if err != nil {
		return claim, nil
	}
	return refreshed, nil
}

func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListClaims(ctx context.Context, f SearchFilter, p pagination.Params) ([]Claim, int, error) {
	return s.repo.List(ctx, f, p)
}

func (s *Service) GetLineItems(ctx context.Context, claimID uuid.UUID) ([]LineItem, error) {
	if _, err := s.repo.GetByID(ctx, claimID); err != nil {
		return nil, err
	}
	return s.repo.LineItems(ctx, claimID)
}

func (s *Service) GetEvents(ctx context.Context, claimID uuid.UUID) ([]Event, error) {
	if _, err := s.repo.GetByID(ctx, claimID); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, claimID)
}

// AddLineItems appends billed services to a claim that has not entered
// processing yet and recomputes the claim total.
func (s *Service) AddLineItems(ctx context.Context, claimID uuid.UUID, in []LineItemInput) (*Claim, error) {
	if len(in) == 0 {
		return nil, ErrNoLineItems
	}
	claim, err := s.repo.GetByID(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.Status != StatusReceived {
		return nil, fmt.Errorf("%w: line items can only be added in RECEIVED", ErrClaimTerminal)
	}
	existing, err := s.repo.LineItems(ctx, claimID)
	if err != nil {
		return nil, err
	}
	items, added := buildLineItems(claimID, len(existing)+1, in)
	newTotal := claim.TotalAmount + added
	if err := s.repo.AddLineItems(ctx, claimID, items, newTotal); err != nil {
		return nil, err
	}
	detail := fmt.Sprintf(`{"added":%d,"new_total":%.2f}`, len(items), newTotal)
	s.appendEvent(ctx, claimID, EventLineItemsAdded, claim.Status, "ingestion", &detail)
	claim.TotalAmount = newTotal
	return claim, nil
}

func (s *Service) appendEvent(ctx context.Context, claimID uuid.UUID, t EventType, st Status, actor string, detail *string) {
	// Event append failures never fail the operation that produced them.
	_ = s.repo.AppendEvent(ctx, &Event{
		ClaimID: claimID,
		Type:    t,
		Status:  st,
		Actor:   actor,
		Detail:  detail,
	})
}
