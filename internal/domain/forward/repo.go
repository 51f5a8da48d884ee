package forward

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a forward does not exist.
	ErrNotFound = errors.New("forward not found")
	// ErrActiveForward is returned when a claim already has a live lineage.
	ErrActiveForward = errors.New("claim already has an active forward")
)

// Update carries the fields a transition may change. Nil pointers leave the
// column untouched; NextAttemptAt uses ClearNextAttempt to write NULL.
type Update struct {
	AttemptCount     *int
	NextAttemptAt    *time.Time
	ClearNextAttempt bool
	ExternalRef      *string
	ResponsePayload  *string
	LastError        *string
	MarkSent         bool
	MarkCompleted    bool
}

type Repository interface {
	Create(ctx context.Context, f *Forward) error
	GetByID(ctx context.Context, id uuid.UUID) (*Forward, error)
	ListByClaim(ctx context.Context, claimID uuid.UUID) ([]Forward, error)
	LatestByClaim(ctx context.Context, claimID uuid.UUID) (*Forward, error)
	// ActiveByClaim returns the non-terminal forward for a claim, if any.
	ActiveByClaim(ctx context.Context, claimID uuid.UUID) (*Forward, error)

	// Transition applies upd and moves the forward to `to` only if its
	// current status is one of `from`. Returns false when the guard does
	// not match, which makes concurrent or replayed drives harmless.
	Transition(ctx context.Context, id uuid.UUID, from []Status, to Status, upd Update) (bool, error)

	// DuePending returns QUEUED and FAILED_RETRY forwards whose
	// next_attempt_at has passed.
	DuePending(ctx context.Context, now time.Time, limit int) ([]Forward, error)
	// AwaitingStatusCheck returns SENT and ACKNOWLEDGED forwards due for a
	// status poll.
	AwaitingStatusCheck(ctx context.Context, now time.Time, limit int) ([]Forward, error)
}
