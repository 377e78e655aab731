package db

import (
	"context"
	"fmt"
	"time"
)

// The llm_usage table is a daily ledger keyed by (date, provider,
// model, task). Writes are upsert increments so concurrent workers
// never lose counts; reads aggregate over a date range.

// UsageBucket is one aggregation bucket of the usage ledger. The map
// key names the bucket, so the bucket itself carries only counters.
type UsageBucket struct {
	PromptTokens     int64
	CompletionTokens int64
	RequestCount     int64
	CostUSD          float64
}

func (b UsageBucket) plus(o UsageBucket) UsageBucket {
	b.PromptTokens += o.PromptTokens
	b.CompletionTokens += o.CompletionTokens
	b.RequestCount += o.RequestCount
	b.CostUSD += o.CostUSD

	return b
}

// LLMUsageSummary aggregates the ledger over a date range.
type LLMUsageSummary struct {
	Totals     UsageBucket
	ByProvider map[string]UsageBucket
	ByTask     map[string]UsageBucket
}

// AddLLMUsage bumps the ledger for one completed request.
func (db *DB) AddLLMUsage(ctx context.Context, provider, model, task string, promptTokens, completionTokens int, costUSD float64) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO llm_usage (date, provider, model, task, prompt_tokens, completion_tokens, request_count, cost_usd)
		VALUES (CURRENT_DATE, $1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (date, provider, model, task)
		DO UPDATE SET
			prompt_tokens = llm_usage.prompt_tokens + EXCLUDED.prompt_tokens,
			completion_tokens = llm_usage.completion_tokens + EXCLUDED.completion_tokens,
			request_count = llm_usage.request_count + 1,
			cost_usd = llm_usage.cost_usd + EXCLUDED.cost_usd,
			updated_at = now()
	`, provider, model, task, promptTokens, completionTokens, costUSD)
	if err != nil {
		return fmt.Errorf("add llm usage: %w", err)
	}

	return nil
}

// TokensUsedToday backs the daily token cap: it seeds the in-memory
// spend tracker at boot so a restart cannot reset the cap.
func (db *DB) TokensUsedToday(ctx context.Context) (int64, error) {
	var total int64

	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(prompt_tokens + completion_tokens), 0)::bigint
		FROM llm_usage
		WHERE date = CURRENT_DATE
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("tokens used today: %w", err)
	}

	return total, nil
}

// GetLLMUsageSince aggregates the ledger from the given day forward.
// Models fold into their provider bucket; nobody reads per-model
// numbers and providers rotate models too often for them to be stable.
func (db *DB) GetLLMUsageSince(ctx context.Context, since time.Time) (*LLMUsageSummary, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT provider, task,
		       COALESCE(SUM(prompt_tokens), 0)::bigint,
		       COALESCE(SUM(completion_tokens), 0)::bigint,
		       COALESCE(SUM(request_count), 0)::bigint,
		       COALESCE(SUM(cost_usd), 0)::float8
		FROM llm_usage
		WHERE date >= $1
		GROUP BY provider, task
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query llm usage: %w", err)
	}
	defer rows.Close()

	summary := &LLMUsageSummary{
		ByProvider: make(map[string]UsageBucket),
		ByTask:     make(map[string]UsageBucket),
	}

	for rows.Next() {
		var (
			provider, task string
			row            UsageBucket
		)

		if err := rows.Scan(&provider, &task,
			&row.PromptTokens, &row.CompletionTokens, &row.RequestCount, &row.CostUSD); err != nil {
			return nil, fmt.Errorf("scan llm usage row: %w", err)
		}

		summary.Totals = summary.Totals.plus(row)
		summary.ByProvider[provider] = summary.ByProvider[provider].plus(row)
		summary.ByTask[task] = summary.ByTask[task].plus(row)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate llm usage rows: %w", rows.Err())
	}

	return summary, nil
}
