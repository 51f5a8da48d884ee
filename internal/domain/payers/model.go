// Package payers holds the registry of external payer connections. A payer
// with an active connection is reachable through the gateway; everything
// else is adjudicated internally.
package payers

import (
	"time"

	"github.com/google/uuid"
)

// AuthMethod selects how outbound requests to the payer authenticate.
type AuthMethod string

const (
	AuthNone   AuthMethod = "none"
	AuthBearer AuthMethod = "bearer"
	AuthJWT    AuthMethod = "jwt"
)

func (a AuthMethod) Valid() bool {
	switch a {
	case AuthNone, AuthBearer, AuthJWT:
		return true
	}
	return false
}

// Connection maps to the payer_connection table. RetryIntervalMs is the base
// delay for the gateway's backoff; MaxRetries bounds send attempts.
type Connection struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PayerID          uuid.UUID  `db:"payer_id" json:"payer_id"`
	Name             string     `db:"name" json:"name"`
	Endpoint         string     `db:"endpoint" json:"endpoint"`
	AuthMethod       AuthMethod `db:"auth_method" json:"auth_method"`
	Credentials      *string    `db:"credentials" json:"-"`
	SupportsRealTime bool       `db:"supports_real_time" json:"supports_real_time"`
	RetryIntervalMs  int        `db:"retry_interval_ms" json:"retry_interval_ms"`
	MaxRetries       int        `db:"max_retries" json:"max_retries"`
	Active           bool       `db:"active" json:"active"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// RetryInterval returns the base retry delay as a duration.
func (c *Connection) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}
