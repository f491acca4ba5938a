package sqlite

import (
	"context"
	"strings"

	amppool "github.com/amphq/amppool/internal"
)

// UpsertStats writes recomputed rollup rows in a single transaction with a
// prepared statement. Recomputation produces absolute values for the
// window, so conflicting rows are overwritten, not added to; running the
// same recompute twice yields identical rows.
func (s *Store) UpsertStats(ctx context.Context, rows []amppool.StatRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO request_stats (stat_date, stat_hour, stat_type, provider, model, key_id,
		 request_count, success_count, error_count,
		 prompt_tokens, completion_tokens, total_tokens,
		 input_tokens, output_tokens, cache_creation_input_tokens, cache_read_input_tokens,
		 cost_micros, avg_latency_ms, max_latency_ms, min_latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(stat_date, stat_hour, stat_type, provider, model, key_id) DO UPDATE SET
		 request_count = excluded.request_count,
		 success_count = excluded.success_count,
		 error_count = excluded.error_count,
		 prompt_tokens = excluded.prompt_tokens,
		 completion_tokens = excluded.completion_tokens,
		 total_tokens = excluded.total_tokens,
		 input_tokens = excluded.input_tokens,
		 output_tokens = excluded.output_tokens,
		 cache_creation_input_tokens = excluded.cache_creation_input_tokens,
		 cache_read_input_tokens = excluded.cache_read_input_tokens,
		 cost_micros = excluded.cost_micros,
		 avg_latency_ms = excluded.avg_latency_ms,
		 max_latency_ms = excluded.max_latency_ms,
		 min_latency_ms = excluded.min_latency_ms`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.StatDate, r.StatHour, r.StatType, r.Provider, r.Model, r.KeyID,
			r.RequestCount, r.SuccessCount, r.ErrorCount,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens,
			r.InputTokens, r.OutputTokens, r.CacheCreationInputTokens, r.CacheReadInputTokens,
			microsFromDecimal(r.Cost), r.AvgLatencyMs, r.MaxLatencyMs, r.MinLatencyMs,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryStats returns rollup rows matching the filter.
func (s *Store) QueryStats(ctx context.Context, f amppool.StatFilter) ([]amppool.StatRow, error) {
	var clauses []string
	var args []any
	if f.StatDate != "" {
		clauses = append(clauses, "stat_date = ?")
		args = append(args, f.StatDate)
	}
	if f.StatHour != nil {
		clauses = append(clauses, "stat_hour = ?")
		args = append(args, *f.StatHour)
	}
	if f.StatType != "" {
		clauses = append(clauses, "stat_type = ?")
		args = append(args, f.StatType)
	}
	if f.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, f.Model)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT stat_date, stat_hour, stat_type, provider, model, key_id,
		 request_count, success_count, error_count,
		 prompt_tokens, completion_tokens, total_tokens,
		 input_tokens, output_tokens, cache_creation_input_tokens, cache_read_input_tokens,
		 cost_micros, avg_latency_ms, max_latency_ms, min_latency_ms
		 FROM request_stats`+where+` ORDER BY stat_date DESC, stat_hour DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []amppool.StatRow
	for rows.Next() {
		var r amppool.StatRow
		var micros int64
		err := rows.Scan(&r.StatDate, &r.StatHour, &r.StatType, &r.Provider, &r.Model, &r.KeyID,
			&r.RequestCount, &r.SuccessCount, &r.ErrorCount,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens,
			&r.InputTokens, &r.OutputTokens, &r.CacheCreationInputTokens, &r.CacheReadInputTokens,
			&micros, &r.AvgLatencyMs, &r.MaxLatencyMs, &r.MinLatencyMs)
		if err != nil {
			return nil, err
		}
		r.Cost = decimalFromMicros(micros)
		out = append(out, r)
	}
	return out, rows.Err()
}
