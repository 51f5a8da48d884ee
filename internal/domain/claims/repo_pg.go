package claims

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
	"github.com/clearway/clearway/pkg/pagination"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed claim repository.
func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const claimCols = `id, patient_id, provider_id, payer_id, organization_id,
	claim_type, total_amount, processing_path, status,
	response_payload, error_detail,
	submitted_at, processed_at, status_updated_at, created_at, updated_at`

func (r *repoPG) scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.PatientID, &c.ProviderID, &c.PayerID, &c.OrganizationID,
		&c.ClaimType, &c.TotalAmount, &c.ProcessingPath, &c.Status,
		&c.ResponsePayload, &c.ErrorDetail,
		&c.SubmittedAt, &c.ProcessedAt, &c.StatusUpdatedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Claim, items []LineItem) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		c.ID = uuid.New()
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO claim (id, patient_id, provider_id, payer_id, organization_id,
				claim_type, total_amount, processing_path, status, submitted_at, status_updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
			RETURNING submitted_at, status_updated_at, created_at, updated_at`,
			c.ID, c.PatientID, c.ProviderID, c.PayerID, c.OrganizationID,
			c.ClaimType, c.TotalAmount, c.ProcessingPath, c.Status).
			Scan(&c.SubmittedAt, &c.StatusUpdatedAt, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return err
		}
		for i := range items {
			items[i].ID = uuid.New()
			items[i].ClaimID = c.ID
			if _, err := r.conn(ctx).Exec(ctx, `
				INSERT INTO claim_line_item (id, claim_id, sequence, service_code, quantity, unit_price, total)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				items[i].ID, c.ID, items[i].Sequence, items[i].ServiceCode,
				items[i].Quantity, items[i].UnitPrice, items[i].Total); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx,
		`SELECT `+claimCols+` FROM claim WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f SearchFilter, p pagination.Params) ([]Claim, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PayerID != uuid.Nil {
		add("payer_id = $%d", f.PayerID)
	}
	if f.PatientID != uuid.Nil {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Path != "" {
		add("processing_path = $%d", f.Path)
	}
	if !f.From.IsZero() {
		add("submitted_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("submitted_at < $%d", f.To)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM claim WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, p.Limit, p.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+claimCols+` FROM claim WHERE `+cond+
			fmt.Sprintf(` ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectClaims(rows, total)
}

func collectClaims(rows pgx.Rows, total int) ([]Claim, int, error) {
	var items []Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.ID, &c.PatientID, &c.ProviderID, &c.PayerID, &c.OrganizationID,
			&c.ClaimType, &c.TotalAmount, &c.ProcessingPath, &c.Status,
			&c.ResponsePayload, &c.ErrorDetail,
			&c.SubmittedAt, &c.ProcessedAt, &c.StatusUpdatedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim SET status=$2, status_updated_at=NOW(), updated_at=NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) RecordOutcome(ctx context.Context, id uuid.UUID, status Status, responsePayload, errorDetail *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE claim SET status=$2, response_payload=$3, error_detail=$4,
			processed_at=NOW(), status_updated_at=NOW(), updated_at=NOW()
		WHERE id = $1`, id, status, responsePayload, errorDetail)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) LineItems(ctx context.Context, claimID uuid.UUID) ([]LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, sequence, service_code, quantity, unit_price, total,
			allowed_amount, patient_responsibility
		FROM claim_line_item WHERE claim_id = $1 ORDER BY sequence`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LineItem
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.ClaimID, &li.Sequence, &li.ServiceCode,
			&li.Quantity, &li.UnitPrice, &li.Total,
			&li.AllowedAmount, &li.PatientResponsibility); err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func (r *repoPG) AddLineItems(ctx context.Context, claimID uuid.UUID, items []LineItem, newTotal float64) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		for i := range items {
			items[i].ID = uuid.New()
			items[i].ClaimID = claimID
			if _, err := r.conn(ctx).Exec(ctx, `
				INSERT INTO claim_line_item (id, claim_id, sequence, service_code, quantity, unit_price, total)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				items[i].ID, claimID, items[i].Sequence, items[i].ServiceCode,
				items[i].Quantity, items[i].UnitPrice, items[i].Total); err != nil {
				return err
			}
		}
		_, err := r.conn(ctx).Exec(ctx, `
			UPDATE claim SET total_amount=$2, updated_at=NOW() WHERE id = $1`,
			claimID, newTotal)
		return err
	})
}

func (r *repoPG) ApplyAdjudication(ctx context.Context, claimID uuid.UUID, lines []LineAdjudication) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		for _, l := range lines {
			if _, err := r.conn(ctx).Exec(ctx, `
				UPDATE claim_line_item SET allowed_amount=$3, patient_responsibility=$4
				WHERE claim_id = $1 AND sequence = $2`,
				claimID, l.Sequence, l.AllowedAmount, l.PatientResponsibility); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) AppendEvent(ctx context.Context, ev *Event) error {
	ev.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO claim_event (id, claim_id, event_type, status, actor, detail)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		ev.ID, ev.ClaimID, ev.Type, ev.Status, ev.Actor, ev.Detail).Scan(&ev.CreatedAt)
}

func (r *repoPG) Events(ctx context.Context, claimID uuid.UUID) ([]Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, claim_id, event_type, status, actor, detail, created_at
		FROM claim_event WHERE claim_id = $1 ORDER BY created_at, id`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.ClaimID, &ev.Type, &ev.Status,
			&ev.Actor, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, ev)
	}
	return items, rows.Err()
}

func (r *repoPG) LatestEvent(ctx context.Context, claimID uuid.UUID) (*Event, error) {
	var ev Event
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, claim_id, event_type, status, actor, detail, created_at
		FROM claim_event WHERE claim_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		claimID).Scan(&ev.ID, &ev.ClaimID, &ev.Type, &ev.Status,
		&ev.Actor, &ev.Detail, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

const attentionCond = `(status IN ('ERROR','REJECTED')
	OR (status IN ('SUBMITTED','PENDING') AND status_updated_at < $1))`

func (r *repoPG) ListNeedingAttention(ctx context.Context, staleBefore time.Time, p pagination.Params) ([]Claim, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM claim WHERE `+attentionCond, staleBefore).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+claimCols+` FROM claim WHERE `+attentionCond+
			` ORDER BY status_updated_at ASC LIMIT $2 OFFSET $3`,
		staleBefore, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectClaims(rows, total)
}

func (r *repoPG) Statistics(ctx context.Context, staleBefore time.Time) (*Statistics, error) {
	st := &Statistics{
		ByStatus: map[string]int{},
		ByPath:   map[string]int{},
		ByPayer:  map[string]int{},
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM claim GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		st.ByStatus[k] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx,
		`SELECT processing_path, COUNT(*) FROM claim GROUP BY processing_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		st.ByPath[k] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx,
		`SELECT payer_id::text, COUNT(*) FROM claim GROUP BY payer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		st.ByPayer[k] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM claim
		WHERE status IN ('SUBMITTED','PENDING') AND status_updated_at < $1`,
		staleBefore).Scan(&st.Stalled); err != nil {
		return nil, err
	}
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM claim WHERE status = 'ERROR'`).Scan(&st.Errors); err != nil {
		return nil, err
	}
	return st, nil
}
