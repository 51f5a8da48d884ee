package payers

import (
	"context"
	"errors"

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

const connCols = `id, payer_id, name, endpoint, auth_method, credentials,
	supports_real_time, retry_interval_ms, max_retries, active, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Connection, error) {
	var c Connection
	err := row.Scan(&c.ID, &c.PayerID, &c.Name, &c.Endpoint, &c.AuthMethod, &c.Credentials,
		&c.SupportsRealTime, &c.RetryIntervalMs, &c.MaxRetries, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	return &c, err
}

func (r *repoPG) Create(ctx context.Context, c *Connection) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payer_connection (id, payer_id, name, endpoint, auth_method, credentials,
			supports_real_time, retry_interval_ms, max_retries, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		c.ID, c.PayerID, c.Name, c.Endpoint, c.AuthMethod, c.Credentials,
		c.SupportsRealTime, c.RetryIntervalMs, c.MaxRetries, c.Active).
		Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Connection, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+connCols+` FROM payer_connection WHERE id = $1`, id))
}

func (r *repoPG) GetByPayer(ctx context.Context, payerID uuid.UUID) (*Connection, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+connCols+` FROM payer_connection
		 WHERE payer_id = $1 AND active ORDER BY created_at DESC LIMIT 1`, payerID))
}

func (r *repoPG) List(ctx context.Context) ([]Connection, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+connCols+` FROM payer_connection ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ID, &c.PayerID, &c.Name, &c.Endpoint, &c.AuthMethod, &c.Credentials,
			&c.SupportsRealTime, &c.RetryIntervalMs, &c.MaxRetries, &c.Active,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, c *Connection) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payer_connection SET name=$2, endpoint=$3, auth_method=$4, credentials=$5,
			supports_real_time=$6, retry_interval_ms=$7, max_retries=$8, active=$9, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Name, c.Endpoint, c.AuthMethod, c.Credentials,
		c.SupportsRealTime, c.RetryIntervalMs, c.MaxRetries, c.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

func (r *repoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payer_connection SET active=false, updated_at=NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}
