// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	amppool "github.com/amphq/amppool/internal"
)

// CredentialStore manages upstream credential persistence.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *amppool.Credential) error
	GetCredential(ctx context.Context, id int64) (*amppool.Credential, error)
	ListCredentials(ctx context.Context, enabledOnly bool, offset, limit int) ([]*amppool.Credential, error)
	CountCredentials(ctx context.Context) (int, error)
	UpdateCredential(ctx context.Context, c *amppool.Credential) error
	DeleteCredential(ctx context.Context, id int64) error

	// ListEligible returns up to limit credentials with enabled=1 and a
	// positive or unset balance, excluding the given ids.
	ListEligible(ctx context.Context, limit int, exclude []int64) ([]*amppool.Credential, error)

	// DisableCredential flips enabled off and records the error code and
	// reason observed upstream.
	DisableCredential(ctx context.Context, id int64, errorCode, reason string) error

	// UpdateBalance sets the recomputed balance and its refresh timestamp.
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error
}

// LogStore manages the append-only request log.
type LogStore interface {
	InsertLog(ctx context.Context, r *amppool.LogRecord) error
	QueryLogs(ctx context.Context, f amppool.LogFilter) ([]amppool.LogRecord, error)
	CountLogs(ctx context.Context, f amppool.LogFilter) (int, error)

	// SumCost totals the cost of a credential's log rows with the given status.
	SumCost(ctx context.Context, keyID int64, status string) (decimal.Decimal, error)

	// AggregateLogs scans the log over [since, until) grouped by "" (global),
	// "provider", or "model" and returns one StatRow per group. Date, hour,
	// and type fields are left for the caller to stamp.
	AggregateLogs(ctx context.Context, since, until time.Time, groupBy string) ([]amppool.StatRow, error)
}

// RollupStore manages materialized aggregates.
type RollupStore interface {
	UpsertStats(ctx context.Context, rows []amppool.StatRow) error
	QueryStats(ctx context.Context, f amppool.StatFilter) ([]amppool.StatRow, error)
}

// ConfigStore manages the persisted runtime configuration rows.
type ConfigStore interface {
	GetAllConfig(ctx context.Context) (map[string]string, error)
	PutConfig(ctx context.Context, values map[string]string) error
}

// Store combines all storage interfaces.
type Store interface {
	CredentialStore
	LogStore
	RollupStore
	ConfigStore
	Ping(ctx context.Context) error
	Close() error
}
