package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	amppool "github.com/amphq/amppool/internal"
)

// InsertLog appends one request log row.
func (s *Store) InsertLog(ctx context.Context, r *amppool.LogRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	result, err := s.write.ExecContext(ctx,
		`INSERT INTO request_log
		 (created_at, key_id, api_key, proxy, model, upstream_model, provider,
		  prompt_tokens, completion_tokens, total_tokens,
		  input_tokens, output_tokens, cache_creation_input_tokens, cache_read_input_tokens,
		  cost_micros, latency_ms, status, http_status, error_type, error_message,
		  request_body, response_body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CreatedAt.UTC().Format(time.RFC3339), r.KeyID, r.APIKey, r.Proxy,
		r.Model, r.UpstreamModel, r.Provider,
		r.PromptTokens, r.CompletionTokens, r.TotalTokens,
		r.InputTokens, r.OutputTokens, r.CacheCreationInputTokens, r.CacheReadInputTokens,
		microsFromDecimal(r.Cost), r.LatencyMs, r.Status, r.HTTPStatus,
		string(r.ErrorType), r.ErrorMessage,
		nullStr(r.RequestBody), nullStr(r.ResponseBody),
	)
	if err != nil {
		return err
	}
	r.ID, err = result.LastInsertId()
	return err
}

const logCols = `id, created_at, key_id, api_key, proxy, model, upstream_model, provider,
	 prompt_tokens, completion_tokens, total_tokens,
	 input_tokens, output_tokens, cache_creation_input_tokens, cache_read_input_tokens,
	 cost_micros, latency_ms, status, http_status, error_type, error_message,
	 request_body, response_body`

// QueryLogs returns log rows matching the filter, newest first.
func (s *Store) QueryLogs(ctx context.Context, f amppool.LogFilter) ([]amppool.LogRecord, error) {
	where, args := logWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx,
		`SELECT `+logCols+` FROM request_log`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []amppool.LogRecord
	for rows.Next() {
		r, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// CountLogs returns the count of log rows matching the filter.
func (s *Store) CountLogs(ctx context.Context, f amppool.LogFilter) (int, error) {
	where, args := logWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM request_log`+where, args...).Scan(&n)
	return n, err
}

// SumCost totals the cost of a credential's log rows with the given status.
func (s *Store) SumCost(ctx context.Context, keyID int64, status string) (decimal.Decimal, error) {
	var micros int64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_micros), 0) FROM request_log WHERE key_id = ? AND status = ?`,
		keyID, status).Scan(&micros)
	if err != nil {
		return decimal.Zero, err
	}
	return decimalFromMicros(micros), nil
}

// AggregateLogs scans request_log over [since, until) and returns one row
// per group. groupBy is "" for a single global row, "provider", or "model"
// (which groups by distinct (model, provider) pairs).
func (s *Store) AggregateLogs(ctx context.Context, since, until time.Time, groupBy string) ([]amppool.StatRow, error) {
	var selectDims, groupClause string
	switch groupBy {
	case "":
		selectDims = `'' AS provider, '' AS model,`
	case "provider":
		selectDims = `provider, '' AS model,`
		groupClause = ` GROUP BY provider`
	case "model":
		selectDims = `provider, model,`
		groupClause = ` GROUP BY model, provider`
	default:
		return nil, fmt.Errorf("aggregate logs: unknown group %q", groupBy)
	}

	query := `SELECT ` + selectDims + `
	 COUNT(*),
	 COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
	 COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
	 COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0),
	 COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
	 COALESCE(SUM(cache_creation_input_tokens), 0), COALESCE(SUM(cache_read_input_tokens), 0),
	 COALESCE(SUM(cost_micros), 0),
	 COALESCE(AVG(latency_ms), 0), COALESCE(MAX(latency_ms), 0), COALESCE(MIN(latency_ms), 0)
	 FROM request_log WHERE created_at >= ? AND created_at < ?` + groupClause

	rows, err := s.read.QueryContext(ctx, query,
		since.UTC().Format(time.RFC3339), until.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []amppool.StatRow
	for rows.Next() {
		var r amppool.StatRow
		var micros int64
		err := rows.Scan(&r.Provider, &r.Model,
			&r.RequestCount, &r.SuccessCount, &r.ErrorCount,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.InputTokens, &r.OutputTokens,
			&r.CacheCreationInputTokens, &r.CacheReadInputTokens,
			&micros, &r.AvgLatencyMs, &r.MaxLatencyMs, &r.MinLatencyMs)
		if err != nil {
			return nil, err
		}
		r.Cost = decimalFromMicros(micros)
		if r.RequestCount > 0 {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

func scanLog(sc scanner) (*amppool.LogRecord, error) {
	var r amppool.LogRecord
	var createdAt, errorType string
	var micros int64
	var reqBody, respBody sql.NullString

	err := sc.Scan(
		&r.ID, &createdAt, &r.KeyID, &r.APIKey, &r.Proxy,
		&r.Model, &r.UpstreamModel, &r.Provider,
		&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
		&r.InputTokens, &r.OutputTokens, &r.CacheCreationInputTokens, &r.CacheReadInputTokens,
		&micros, &r.LatencyMs, &r.Status, &r.HTTPStatus, &errorType, &r.ErrorMessage,
		&reqBody, &respBody,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	r.Cost = decimalFromMicros(micros)
	r.ErrorType = amppool.ErrorType(errorType)
	r.RequestBody = reqBody.String
	r.ResponseBody = respBody.String
	if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
		r.CreatedAt = t
	}
	return &r, nil
}

func logWhere(f amppool.LogFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.KeyID != 0 {
		clauses = append(clauses, "key_id = ?")
		args = append(args, f.KeyID)
	}
	if f.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, f.Model)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until.UTC().Format(time.RFC3339))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
