package rules

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearway/clearway/internal/domain/claims"
	"github.com/clearway/clearway/internal/platform/db"
)

// ErrCacheMiss is returned when no entry exists for a fingerprint.
var ErrCacheMiss = errors.New("rule cache miss")

// CacheEntry is a stored adjudication outcome keyed by claim fingerprint.
type CacheEntry struct {
	Fingerprint string
	Result      claims.AdjudicationResult
	UpdatedAt   time.Time
}

// Cache stores adjudication results by fingerprint. Entries are upserted;
// the newest result for a fingerprint wins.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*CacheEntry, error)
	Put(ctx context.Context, fingerprint string, result *claims.AdjudicationResult) error
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type cachePG struct{ pool *pgxpool.Pool }

// NewCachePG returns the Postgres-backed rule cache.
func NewCachePG(pool *pgxpool.Pool) Cache { return &cachePG{pool: pool} }

func (r *cachePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *cachePG) Get(ctx context.Context, fingerprint string) (*CacheEntry, error) {
	var raw []byte
	entry := CacheEntry{Fingerprint: fingerprint}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT result, updated_at FROM rule_cache WHERE fingerprint = $1`,
		fingerprint).Scan(&raw, &entry.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &entry.Result); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *cachePG) Put(ctx context.Context, fingerprint string, result *claims.AdjudicationResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO rule_cache (fingerprint, result, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (fingerprint) DO UPDATE SET result = EXCLUDED.result, updated_at = NOW()`,
		fingerprint, raw)
	return err
}
