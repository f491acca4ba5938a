package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	amppool "github.com/amphq/amppool/internal"
)

const credentialCols = `id, name, api_key, user_agent, proxy, enabled,
	 balance, total_balance, balance_last_update, error_code, note,
	 created_at, updated_at`

// CreateCredential inserts a new credential and backfills its assigned id.
func (s *Store) CreateCredential(ctx context.Context, c *amppool.Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	result, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (name, api_key, user_agent, proxy, enabled,
		 balance, total_balance, balance_last_update, error_code, note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.APIKey, c.UserAgent, c.Proxy, boolToInt(c.Enabled),
		nullDecimal(c.Balance), nullDecimal(c.TotalBalance),
		timeToStr(c.BalanceLastUpdate), nullStr(c.ErrorCode), c.Note,
		c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	c.ID, err = result.LastInsertId()
	return err
}

// GetCredential retrieves a credential by id.
func (s *Store) GetCredential(ctx context.Context, id int64) (*amppool.Credential, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+credentialCols+` FROM api_keys WHERE id = ?`, id)
	return scanCredential(row)
}

// ListCredentials returns credentials, newest first.
func (s *Store) ListCredentials(ctx context.Context, enabledOnly bool, offset, limit int) ([]*amppool.Credential, error) {
	query := `SELECT ` + credentialCols + ` FROM api_keys`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.read.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*amppool.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCredentials returns the total number of credentials.
func (s *Store) CountCredentials(ctx context.Context) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&n)
	return n, err
}

// UpdateCredential updates an existing credential.
func (s *Store) UpdateCredential(ctx context.Context, c *amppool.Credential) error {
	c.UpdatedAt = time.Now().UTC()
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET name=?, api_key=?, user_agent=?, proxy=?, enabled=?,
		 balance=?, total_balance=?, error_code=?, note=?, updated_at=? WHERE id=?`,
		c.Name, c.APIKey, c.UserAgent, c.Proxy, boolToInt(c.Enabled),
		nullDecimal(c.Balance), nullDecimal(c.TotalBalance),
		nullStr(c.ErrorCode), c.Note, c.UpdatedAt.Format(time.RFC3339), c.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

// DeleteCredential removes a credential.
func (s *Store) DeleteCredential(ctx context.Context, id int64) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

// ListEligible returns up to limit credentials eligible for the pool:
// enabled, with a positive or unset balance, excluding the given ids.
func (s *Store) ListEligible(ctx context.Context, limit int, exclude []int64) ([]*amppool.Credential, error) {
	query := `SELECT ` + credentialCols + ` FROM api_keys
	 WHERE enabled = 1 AND (balance IS NULL OR CAST(balance AS REAL) > 0)`
	args := make([]any, 0, len(exclude)+1)
	if len(exclude) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(",?", len(exclude)-1) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*amppool.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DisableCredential flips enabled off and records the observed error.
func (s *Store) DisableCredential(ctx context.Context, id int64, errorCode, reason string) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET enabled=0, error_code=?, note=?, updated_at=? WHERE id=?`,
		errorCode, reason, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

// UpdateBalance sets the recomputed balance and its refresh timestamp.
func (s *Store) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal, at time.Time) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET balance=?, balance_last_update=? WHERE id=?`,
		balance.String(), at.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(sc scanner) (*amppool.Credential, error) {
	var c amppool.Credential
	var enabled int
	var balance, totalBalance, balanceLastUpdate, errorCode sql.NullString
	var createdAt, updatedAt string

	err := sc.Scan(
		&c.ID, &c.Name, &c.APIKey, &c.UserAgent, &c.Proxy, &enabled,
		&balance, &totalBalance, &balanceLastUpdate, &errorCode, &c.Note,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	c.Enabled = enabled != 0
	c.Balance = parseDecimal(balance)
	c.TotalBalance = parseDecimal(totalBalance)
	c.BalanceLastUpdate = parseTime(balanceLastUpdate)
	c.ErrorCode = errorCode.String
	if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
		c.CreatedAt = t
	}
	if t, e := time.Parse(time.RFC3339, updatedAt); e == nil {
		c.UpdatedAt = t
	}
	return &c, nil
}

// helpers

// notFoundErr translates sql.ErrNoRows to amppool.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return amppool.ErrNotFound
	}
	return err
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid {
		return nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil
	}
	return &d
}

// Cost values persist as integer micro-credits so SQL aggregation stays
// exact; six fractional digits match the upstream credit precision.
func microsFromDecimal(d decimal.Decimal) int64 { return d.Shift(6).IntPart() }

func decimalFromMicros(m int64) decimal.Decimal { return decimal.New(m, -6) }

func timeToStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func checkRowsAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, amppool.ErrNotFound)
	}
	return nil
}
