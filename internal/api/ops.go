package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	errs "github.com/podscout/podscout/internal/core/errors"
	db "github.com/podscout/podscout/internal/storage"
)

// maxUsageWindowDays keeps the usage aggregation bounded; the ledger is
// daily-grained so a quarter is plenty.
const maxUsageWindowDays = 90

type usageBucketView struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	Requests         int64   `json:"requests"`
	CostUSD          float64 `json:"cost_usd"`
}

type llmUsageResponse struct {
	Since      string                     `json:"since"`
	Totals     usageBucketView            `json:"totals"`
	ByProvider map[string]usageBucketView `json:"by_provider"`
	ByTask     map[string]usageBucketView `json:"by_task"`
}

// handleLLMUsage reports the token and cost ledger. ?days=N widens the
// window; the default is today only.
func (s *Server) handleLLMUsage(w http.ResponseWriter, r *http.Request) {
	days := 0

	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > maxUsageWindowDays {
			writeError(w, r, s.logger, fmt.Errorf("days must be 0..%d: %w",
				maxUsageWindowDays, errs.ErrInvalidInput))

			return
		}

		days = parsed
	}

	since := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -days)

	summary, err := s.db.GetLLMUsageSince(r.Context(), since)
	if err != nil {
		writeError(w, r, s.logger, fmt.Errorf("llm usage: %w", err))

		return
	}

	writeJSON(w, http.StatusOK, llmUsageResponse{
		Since:      since.Format("2006-01-02"),
		Totals:     bucketView(summary.Totals),
		ByProvider: bucketViews(summary.ByProvider),
		ByTask:     bucketViews(summary.ByTask),
	})
}

func bucketView(b db.UsageBucket) usageBucketView {
	return usageBucketView{
		PromptTokens:     b.PromptTokens,
		CompletionTokens: b.CompletionTokens,
		Requests:         b.RequestCount,
		CostUSD:          b.CostUSD,
	}
}

func bucketViews(in map[string]db.UsageBucket) map[string]usageBucketView {
	out := make(map[string]usageBucketView, len(in))

	for name, b := range in {
		out[name] = bucketView(b)
	}

	return out
}
