// Package forward drives claim submission to external payers: a durable
// forward record per submission lineage, a retry/backoff send loop, status
// polling and a crash-recovery sweep.
package forward

import (
	"time"

	"github.com/google/uuid"

	"github.com/clearway/clearway/internal/domain/claims"
)

// Status is the state of a forward attempt lineage.
type Status string

const (
	StatusQueued       Status = "QUEUED"
	StatusSending      Status = "SENDING"
	StatusSent         Status = "SENT"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusFailedRetry  Status = "FAILED_RETRY"
	StatusCompleted    Status = "COMPLETED"
	StatusRejected     Status = "REJECTED"
	StatusFailed       Status = "FAILED"
	StatusError        Status = "ERROR"
)

// Terminal reports whether the forward accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed, StatusError:
		return true
	}
	return false
}

// transitions is the only legal edge set. Everything not listed is refused
// at the persistence layer by state-guarded updates.
var transitions = map[Status][]Status{
	StatusQueued:       {StatusSending, StatusError},
	StatusSending:      {StatusSent, StatusAcknowledged, StatusFailedRetry, StatusFailed, StatusError},
	StatusSent:         {StatusAcknowledged, StatusCompleted, StatusRejected, StatusFailedRetry, StatusFailed, StatusError},
	StatusAcknowledged: {StatusCompleted, StatusRejected, StatusError},
	StatusFailedRetry:  {StatusSending, StatusFailed, StatusError},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ClaimStatusFor maps a forward state onto the claim status it implies.
func ClaimStatusFor(s Status) claims.Status {
	switch s {
	case StatusQueued, StatusSending, StatusFailedRetry:
		return claims.StatusSubmitted
	case StatusSent, StatusAcknowledged:
		return claims.StatusPending
	case StatusCompleted:
		return claims.StatusComplete
	case StatusRejected:
		return claims.StatusRejected
	case StatusFailed:
		return claims.StatusFailed
	default:
		return claims.StatusError
	}
}

// Forward maps to the claim_payer_forward table. NextAttemptAt is the
// durable schedule: after a crash the sweep re-derives all pending work
// from it, so no in-memory timer is load-bearing.
type Forward struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	ClaimID         uuid.UUID  `db:"claim_id" json:"claim_id"`
	ConnectionID    uuid.UUID  `db:"connection_id" json:"connection_id"`
	Status          Status     `db:"status" json:"status"`
	AttemptCount    int        `db:"attempt_count" json:"attempt_count"`
	MaxRetries      int        `db:"max_retries" json:"max_retries"`
	NextAttemptAt   *time.Time `db:"next_attempt_at" json:"next_attempt_at,omitempty"`
	ExternalRef     *string    `db:"external_ref" json:"external_ref,omitempty"`
	ResponsePayload *string    `db:"response_payload" json:"response_payload,omitempty"`
	LastError       *string    `db:"last_error" json:"last_error,omitempty"`
	SentAt          *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}
