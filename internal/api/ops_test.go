package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	db "github.com/podscout/podscout/internal/storage"
)

func TestLLMUsageDefaultsToToday(t *testing.T) {
	env := newTestEnv(t)
	env.store.usage = &db.LLMUsageSummary{
		Totals: db.UsageBucket{PromptTokens: 1200, CompletionTokens: 300, RequestCount: 7, CostUSD: 0.42},
		ByProvider: map[string]db.UsageBucket{
			"openai": {PromptTokens: 1200, CompletionTokens: 300, RequestCount: 7, CostUSD: 0.42},
		},
		ByTask: map[string]db.UsageBucket{
			"episode_analysis": {PromptTokens: 1200, CompletionTokens: 300, RequestCount: 7, CostUSD: 0.42},
		},
	}

	rec := env.do(t, http.MethodGet, "/ops/llm-usage", "", true)
	requireStatus(t, rec, http.StatusOK)

	var resp llmUsageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	today := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, today, resp.Since)
	assert.Equal(t, int64(1200), resp.Totals.PromptTokens)
	assert.Equal(t, int64(7), resp.ByProvider["openai"].Requests)
	assert.InDelta(t, 0.42, resp.ByTask["episode_analysis"].CostUSD, 1e-9)
}

func TestLLMUsageWindowParameter(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ops/llm-usage?days=7", "", true)
	requireStatus(t, rec, http.StatusOK)

	want := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -7)
	assert.Equal(t, want, env.store.usageSince)
}

func TestLLMUsageRejectsBadWindow(t *testing.T) {
	env := newTestEnv(t)

	for _, raw := range []string{"-1", "91", "week"} {
		rec := env.do(t, http.MethodGet, "/ops/llm-usage?days="+raw, "", true)
		requireStatus(t, rec, http.StatusBadRequest)
	}
}

func TestLLMUsageRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/ops/llm-usage", "", false)
	requireStatus(t, rec, http.StatusUnauthorized)
}
