package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Score bounds for the match threshold.
const (
	minMatchThreshold = 0
	maxMatchThreshold = 100
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`

	// HTTP surfaces
	APIPort            int      `env:"API_PORT" envDefault:"8080"`
	HealthPort         int      `env:"HEALTH_PORT" envDefault:"9090"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	WSAllowedOrigin    string   `env:"WS_ALLOWED_ORIGIN"`

	// Foreground pool (request handling)
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"25"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"5"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`

	// Background pool (schedulers, controller, stage workers).
	// Long statement timeout so batch work is never cancelled mid-run.
	DBBackgroundMaxConnections   int32         `env:"DB_BG_MAX_CONNECTIONS" envDefault:"10"`
	DBBackgroundMinConnections   int32         `env:"DB_BG_MIN_CONNECTIONS" envDefault:"2"`
	DBBackgroundStatementTimeout time.Duration `env:"DB_BG_STATEMENT_TIMEOUT" envDefault:"35m"`

	// Source adapters
	PodscanAPIKey      string        `env:"PODSCAN_API_KEY"`
	PodscanBaseURL     string        `env:"PODSCAN_BASE_URL" envDefault:"https://podscan.fm/api/v1"`
	ListenNotesAPIKey  string        `env:"LISTENNOTES_API_KEY"`
	ListenNotesBaseURL string        `env:"LISTENNOTES_BASE_URL" envDefault:"https://listen-api.listennotes.com/api/v2"`
	AdapterTimeout     time.Duration `env:"ADAPTER_TIMEOUT" envDefault:"30s"`
	AdapterPageSize    int           `env:"ADAPTER_PAGE_SIZE" envDefault:"25"`
	AdapterMaxRetries  int           `env:"ADAPTER_MAX_RETRIES" envDefault:"5"`
	APICallDelay       time.Duration `env:"API_CALL_DELAY" envDefault:"1200ms"`
	KeywordDelay       time.Duration `env:"KEYWORD_DELAY" envDefault:"5s"`
	RSSTimeout         time.Duration `env:"RSS_TIMEOUT" envDefault:"10s"`
	RateLimitRPS       int           `env:"RATE_LIMIT_RPS" envDefault:"1"`
	MinEpisodeCount    int           `env:"MIN_EPISODE_COUNT" envDefault:"5"`

	// LLM
	LLMAPIKey           string        `env:"LLM_API_KEY,required"`
	LLMModel            string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	OpenRouterAPIKey    string        `env:"OPENROUTER_API_KEY"`
	OpenRouterModel     string        `env:"OPENROUTER_MODEL"`
	LLMTimeout          time.Duration `env:"LLM_TIMEOUT" envDefault:"90s"`
	LLMCircuitThreshold int           `env:"LLM_CIRCUIT_THRESHOLD" envDefault:"5"`
	LLMCircuitTimeout   time.Duration `env:"LLM_CIRCUIT_TIMEOUT" envDefault:"1m"`
	LLMDailyTokenBudget int64         `env:"LLM_DAILY_TOKEN_BUDGET" envDefault:"0"`

	// Embeddings
	OpenAIEmbeddingModel      string        `env:"OPENAI_EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	OpenAIEmbeddingDimensions int           `env:"OPENAI_EMBEDDING_DIMENSIONS" envDefault:"1536"`
	EmbeddingCircuitThreshold int           `env:"EMBEDDING_CIRCUIT_THRESHOLD" envDefault:"5"`
	EmbeddingCircuitTimeout   time.Duration `env:"EMBEDDING_CIRCUIT_TIMEOUT" envDefault:"1m"`

	// Transcription
	TranscriptionModel     string        `env:"TRANSCRIPTION_MODEL" envDefault:"whisper-1"`
	TranscriptionsPerRun   int           `env:"TRANSCRIPTIONS_PER_RUN" envDefault:"3"`
	AudioFetchTimeout      time.Duration `env:"AUDIO_FETCH_TIMEOUT" envDefault:"5m"`
	EpisodeTopK            int           `env:"EPISODE_TOP_K" envDefault:"5"`
	QualityMinTranscripts  int           `env:"QUALITY_MIN_TRANSCRIPTS" envDefault:"3"`
	WebFetchTimeout        time.Duration `env:"WEB_FETCH_TIMEOUT" envDefault:"30s"`

	// Matching and quotas
	MatchThreshold           int `env:"MATCH_THRESHOLD" envDefault:"50"`
	FreeWeeklyMatchAllowance int `env:"FREE_WEEKLY_MATCH_ALLOWANCE" envDefault:"50"`
	FreeDailyDiscoveryLimit  int `env:"FREE_DAILY_DISCOVERY_LIMIT" envDefault:"25"`

	// Scheduler
	SchedulerTickInterval time.Duration `env:"SCHEDULER_TICK_INTERVAL" envDefault:"60s"`
	TaskTimeout           time.Duration `env:"TASK_TIMEOUT" envDefault:"25m"`

	// Stage consumer cadence in worker mode. Claims use SKIP LOCKED,
	// so extra worker processes only shorten the queue.
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1m"`

	// Auto-discovery controller
	KeywordBatchSize   int           `env:"KEYWORD_BATCH_SIZE" envDefault:"5"`
	DiscoveryBatchSize int           `env:"DISCOVERY_BATCH_SIZE" envDefault:"50"`
	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`

	// Ops alerts (optional Telegram sink)
	AlertBotToken string `env:"ALERT_BOT_TOKEN"`
	AlertChatID   int64  `env:"ALERT_CHAT_ID"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	normalize(cfg)

	return cfg, nil
}

// normalize clamps values that must stay within domain bounds.
func normalize(cfg *Config) {
	if cfg.MatchThreshold < minMatchThreshold {
		cfg.MatchThreshold = minMatchThreshold
	}

	if cfg.MatchThreshold > maxMatchThreshold {
		cfg.MatchThreshold = maxMatchThreshold
	}

	if cfg.AdapterPageSize < 1 {
		cfg.AdapterPageSize = 1
	}

	if cfg.EpisodeTopK < 1 {
		cfg.EpisodeTopK = 1
	}

	if cfg.TranscriptionsPerRun < 0 {
		cfg.TranscriptionsPerRun = 0
	}
}
