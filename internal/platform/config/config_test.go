package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDSN = "postgres://localhost/podscout_test"
	testKey = "sk-test-key"
)

// minimalEnv sets just the required variables. t.Setenv restores the
// previous values on cleanup.
func minimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv("POSTGRES_DSN", testDSN)
	t.Setenv("LLM_API_KEY", testKey)
}

// unsetenv clears variables for the duration of one test. Empty is not
// enough: env.Parse treats an empty variable as set, so defaults would
// not kick in.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()

	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok {
			t.Setenv(key, v)
			os.Unsetenv(key)
		}
	}
}

func TestLoadRequiresDSNAndKey(t *testing.T) {
	unsetenv(t, "POSTGRES_DSN", "LLM_API_KEY")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadReadsEnvironment(t *testing.T) {
	minimalEnv(t)
	t.Setenv("API_PORT", "8181")
	t.Setenv("RSS_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, testDSN, cfg.PostgresDSN)
	assert.Equal(t, testKey, cfg.LLMAPIKey)
	assert.Equal(t, 8181, cfg.APIPort)
	assert.Equal(t, 45*time.Second, cfg.RSSTimeout)
}

func TestLoadDefaults(t *testing.T) {
	minimalEnv(t)

	checks := []struct {
		envKey string
		want   any
		got    func(*Config) any
	}{
		{"APP_ENV", "local", func(c *Config) any { return c.AppEnv }},
		{"LLM_MODEL", "gpt-4o-mini", func(c *Config) any { return c.LLMModel }},
		{"API_PORT", 8080, func(c *Config) any { return c.APIPort }},
		{"HEALTH_PORT", 9090, func(c *Config) any { return c.HealthPort }},
		{"MATCH_THRESHOLD", 50, func(c *Config) any { return c.MatchThreshold }},
		{"DB_BG_STATEMENT_TIMEOUT", 35 * time.Minute, func(c *Config) any { return c.DBBackgroundStatementTimeout }},
		{"WORKER_POLL_INTERVAL", time.Minute, func(c *Config) any { return c.WorkerPollInterval }},
	}

	for _, check := range checks {
		unsetenv(t, check.envKey)
	}

	cfg, err := Load()
	require.NoError(t, err)

	for _, check := range checks {
		assert.Equal(t, check.want, check.got(cfg), "default for %s", check.envKey)
	}
}

func TestLoadSplitsCORSOrigins(t *testing.T) {
	minimalEnv(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://one.example,https://two.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://one.example", "https://two.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	minimalEnv(t)
	t.Setenv("HEALTH_PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadClampsMatchThreshold(t *testing.T) {
	minimalEnv(t)

	for raw, want := range map[string]int{"150": maxMatchThreshold, "-5": minMatchThreshold} {
		t.Setenv("MATCH_THRESHOLD", raw)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, want, cfg.MatchThreshold, "MATCH_THRESHOLD=%s", raw)
	}
}
