package claims

import (
	"time"

	"github.com/google/uuid"
)

// ProcessingPath selects how a claim is adjudicated.
type ProcessingPath string

const (
	PathAuto     ProcessingPath = "AUTO"
	PathInternal ProcessingPath = "INTERNAL"
	PathExternal ProcessingPath = "EXTERNAL"
)

// Valid reports whether the path is one of the known values.
func (p ProcessingPath) Valid() bool {
	switch p {
	case PathAuto, PathInternal, PathExternal:
		return true
	}
	return false
}

// Status is the externally visible lifecycle state of a claim.
type Status string

const (
	StatusReceived  Status = "RECEIVED"
	StatusSubmitted Status = "SUBMITTED"
	StatusPending   Status = "PENDING"
	StatusComplete  Status = "COMPLETE"
	StatusRejected  Status = "REJECTED"
	StatusFailed    Status = "FAILED"
	StatusError     Status = "ERROR"
)

// Terminal reports whether the claim will receive no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusRejected, StatusFailed, StatusError:
		return true
	}
	return false
}

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusSubmitted, StatusPending,
		StatusComplete, StatusRejected, StatusFailed, StatusError:
		return true
	}
	return false
}

// EventType identifies an entry in the append-only claim audit log.
type EventType string

const (
	EventClaimCreated           EventType = "CLAIM_CREATED"
	EventLineItemsAdded         EventType = "LINE_ITEMS_ADDED"
	EventInternalRulesApplied   EventType = "INTERNAL_RULES_APPLIED"
	EventExternalPayerQueued    EventType = "EXTERNAL_PAYER_QUEUED"
	EventExternalPayerSent      EventType = "EXTERNAL_PAYER_SENT"
	EventExternalPayerRetry     EventType = "EXTERNAL_PAYER_RETRY_SCHEDULED"
	EventExternalPayerAcked     EventType = "EXTERNAL_PAYER_ACKNOWLEDGED"
	EventExternalPayerCompleted EventType = "EXTERNAL_PAYER_COMPLETED"
	EventExternalPayerRejected  EventType = "EXTERNAL_PAYER_REJECTED"
	EventExternalPayerFailed    EventType = "EXTERNAL_PAYER_FAILED"
	EventExternalPayerError     EventType = "EXTERNAL_PAYER_ERROR"
)

// Claim maps to the claim table. Claims are never deleted; corrections are
// appended as events.
type Claim struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	PatientID       uuid.UUID      `db:"patient_id" json:"patient_id"`
	ProviderID      uuid.UUID      `db:"provider_id" json:"provider_id"`
	PayerID         uuid.UUID      `db:"payer_id" json:"payer_id"`
	OrganizationID  *uuid.UUID     `db:"organization_id" json:"organization_id,omitempty"`
	ClaimType       string         `db:"claim_type" json:"claim_type"`
	TotalAmount     float64        `db:"total_amount" json:"total_amount"`
	ProcessingPath  ProcessingPath `db:"processing_path" json:"processing_path"`
	Status          Status         `db:"status" json:"status"`
	ResponsePayload *string        `db:"response_payload" json:"response_payload,omitempty"`
	ErrorDetail     *string        `db:"error_detail" json:"error_detail,omitempty"`
	SubmittedAt     time.Time      `db:"submitted_at" json:"submitted_at"`
	ProcessedAt     *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
	StatusUpdatedAt time.Time      `db:"status_updated_at" json:"status_updated_at"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// LineItem maps to the claim_line_item table. Billed fields are immutable
// once adjudicated; adjudication detail is appended in place.
type LineItem struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	ClaimID               uuid.UUID `db:"claim_id" json:"claim_id"`
	Sequence              int       `db:"sequence" json:"sequence"`
	ServiceCode           string    `db:"service_code" json:"service_code"`
	Quantity              float64   `db:"quantity" json:"quantity"`
	UnitPrice             float64   `db:"unit_price" json:"unit_price"`
	Total                 float64   `db:"total" json:"total"`
	AllowedAmount         *float64  `db:"allowed_amount" json:"allowed_amount,omitempty"`
	PatientResponsibility *float64  `db:"patient_responsibility" json:"patient_responsibility,omitempty"`
}

// Event maps to the claim_event table. Events are append-only and never
// mutated; the current claim status must be derivable from the latest one.
type Event struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ClaimID   uuid.UUID `db:"claim_id" json:"claim_id"`
	Type      EventType `db:"event_type" json:"event_type"`
	Status    Status    `db:"status" json:"status"`
	Actor     string    `db:"actor" json:"actor"`
	Detail    *string   `db:"detail" json:"detail,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// LineAdjudication is the adjudication outcome for one line item. Lines are
// keyed by sequence rather than row ID so a cached result can be replayed
// onto an identical claim submitted later.
type LineAdjudication struct {
	Sequence              int     `json:"sequence"`
	ServiceCode           string  `json:"service_code"`
	BilledAmount          float64 `json:"billed_amount"`
	AllowedAmount         float64 `json:"allowed_amount"`
	PatientResponsibility float64 `json:"patient_responsibility"`
}

// AdjudicationResult is the structured outcome of adjudicating a claim.
type AdjudicationResult struct {
	ClaimID               uuid.UUID          `json:"claim_id"`
	Source                string             `json:"source"` // "computed" or "cache"
	AllowedTotal          float64            `json:"allowed_total"`
	PatientResponsibility float64            `json:"patient_responsibility"`
	Lines                 []LineAdjudication `json:"lines"`
}

// Statistics is an aggregate snapshot over all claims. It is derived on
// demand and never cached beyond the request that produced it.
type Statistics struct {
	ByStatus map[string]int `json:"by_status"`
	ByPath   map[string]int `json:"by_path"`
	ByPayer  map[string]int `json:"by_payer"`
	Stalled  int            `json:"stalled"`
	Errors   int            `json:"errors"`
	Total    int            `json:"total"`
}
