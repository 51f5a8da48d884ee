package forward

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearway/clearway/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const fwdCols = `id, claim_id, connection_id, status, attempt_count, max_retries,
	next_attempt_at, external_ref, response_payload, last_error,
	sent_at, completed_at, created_at, updated_at`

func scanForward(row pgx.Row) (*Forward, error) {
	var f Forward
	err := row.Scan(&f.ID, &f.ClaimID, &f.ConnectionID, &f.Status, &f.AttemptCount, &f.MaxRetries,
		&f.NextAttemptAt, &f.ExternalRef, &f.ResponsePayload, &f.LastError,
		&f.SentAt, &f.CompletedAt, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &f, err
}

func collectForwards(rows pgx.Rows) ([]Forward, error) {
	defer rows.Close()
	var items []Forward
	for rows.Next() {
		var f Forward
		if err := rows.Scan(&f.ID, &f.ClaimID, &f.ConnectionID, &f.Status, &f.AttemptCount, &f.MaxRetries,
			&f.NextAttemptAt, &f.ExternalRef, &f.ResponsePayload, &f.LastError,
			&f.SentAt, &f.CompletedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

const activeCond = `status NOT IN ('COMPLETED','REJECTED','FAILED','ERROR')`

func (r *repoPG) Create(ctx context.Context, f *Forward) error {
	f.ID = uuid.New()
	// The partial unique index on (claim_id) WHERE active backs this guard;
	// the pre-check gives a nicer error than a constraint violation.
	var n int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM claim_payer_forward WHERE claim_id = $1 AND `+activeCond,
		f.ClaimID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return ErrActiveForward
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_payer_forward (id, claim_id, connection_id, status,
			attempt_count, max_retries, next_attempt_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		f.ID, f.ClaimID, f.ConnectionID, f.Status,
		f.AttemptCount, f.MaxRetries, f.NextAttemptAt).
		Scan(&f.CreatedAt, &f.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Forward, error) {
	return scanForward(r.conn(ctx).QueryRow(ctx,
		`SELECT `+fwdCols+` FROM claim_payer_forward WHERE id = $1`, id))
}

func (r *repoPG) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]Forward, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fwdCols+` FROM claim_payer_forward WHERE claim_id = $1 ORDER BY created_at`,
		claimID)
	if err != nil {
		return nil, err
	}
	return collectForwards(rows)
}

func (r *repoPG) LatestByClaim(ctx context.Context, claimID uuid.UUID) (*Forward, error) {
	return scanForward(r.conn(ctx).QueryRow(ctx,
		`SELECT `+fwdCols+` FROM claim_payer_forward
		 WHERE claim_id = $1 ORDER BY created_at DESC LIMIT 1`, claimID))
}

func (r *repoPG) ActiveByClaim(ctx context.Context, claimID uuid.UUID) (*Forward, error) {
	return scanForward(r.conn(ctx).QueryRow(ctx,
		`SELECT `+fwdCols+` FROM claim_payer_forward
		 WHERE claim_id = $1 AND `+activeCond+` ORDER BY created_at DESC LIMIT 1`, claimID))
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, from []Status, to Status, upd Update) (bool, error) {
	set := []string{"status = $2", "updated_at = NOW()"}
	args := []interface{}{id, to}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf(clause, len(args)))
	}
	if upd.AttemptCount != nil {
		add("attempt_count = $%d", *upd.AttemptCount)
	}
	switch {
	case upd.ClearNextAttempt:
		set = append(set, "next_attempt_at = NULL")
	case upd.NextAttemptAt != nil:
		add("next_attempt_at = $%d", *upd.NextAttemptAt)
	}
	if upd.ExternalRef != nil {
		add("external_ref = $%d", *upd.ExternalRef)
	}
	if upd.ResponsePayload != nil {
		add("response_payload = $%d", *upd.ResponsePayload)
	}
	if upd.LastError != nil {
		add("last_error = $%d", *upd.LastError)
	}
	if upd.MarkSent {
		set = append(set, "sent_at = NOW()")
	}
	if upd.MarkCompleted {
		set = append(set, "completed_at = NOW()")
	}

	guard := make([]string, 0, len(from))
	for _, st := range from {
		args = append(args, st)
		guard = append(guard, fmt.Sprintf("$%d", len(args)))
	}

	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE claim_payer_forward SET `+strings.Join(set, ", ")+
			` WHERE id = $1 AND status IN (`+strings.Join(guard, ",")+`)`, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) DuePending(ctx context.Context, now time.Time, limit int) ([]Forward, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fwdCols+` FROM claim_payer_forward
		 WHERE status IN ('QUEUED','FAILED_RETRY') AND next_attempt_at <= $1
		 ORDER BY next_attempt_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectForwards(rows)
}

func (r *repoPG) AwaitingStatusCheck(ctx context.Context, now time.Time, limit int) ([]Forward, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fwdCols+` FROM claim_payer_forward
		 WHERE status IN ('SENT','ACKNOWLEDGED')
		   AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		 ORDER BY updated_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectForwards(rows)
}
