package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"RA_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"RA_DB_MAX_CONNS" default:"8"`

	HTTPHost string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8090"`

	ConfigDir    string `envconfig:"CONFIG_DIR" default:"./config"`
	AuditLogPath string `envconfig:"AUDIT_LOG_PATH" default:"./data/audit.jsonl"`
	DryRun       bool   `envconfig:"DRY_RUN" default:"false"`

	SimilarityThreshold float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.85"`
	MinArticleLength    int     `envconfig:"MIN_ARTICLE_LENGTH" default:"200"`
	MaxArticleLength    int     `envconfig:"MAX_ARTICLE_LENGTH" default:"2000"`

	EmbeddingEndpoint string `envconfig:"EMBEDDING_ENDPOINT" default:""`

	LLMEndpoint string `envconfig:"LLM_ENDPOINT" default:"https://api.openai.com/v1/chat/completions"`
	LLMModel    string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMAPIKey   string `envconfig:"LLM_API_KEY" default:""`

	WordPressURL         string `envconfig:"WORDPRESS_URL" default:""`
	WordPressUsername    string `envconfig:"WORDPRESS_USERNAME" default:""`
	WordPressAppPassword string `envconfig:"WORDPRESS_APP_PASSWORD" default:""`
	WordPressJWTToken    string `envconfig:"WORDPRESS_JWT_TOKEN" default:""`

	EmailNotificationsEnabled bool   `envconfig:"EMAIL_NOTIFICATIONS_ENABLED" default:"false"`
	EmailEndpoint             string `envconfig:"EMAIL_ENDPOINT" default:"https://api.resend.com/emails"`
	EmailAPIKey               string `envconfig:"EMAIL_API_KEY" default:""`
	EmailRecipient            string `envconfig:"EMAIL_RECIPIENT" default:""`
	EmailFrom                 string `envconfig:"EMAIL_FROM" default:"noreply@rassegna.press"`

	PollIntervalSeconds   int `envconfig:"POLL_INTERVAL_SECONDS" default:"300"`
	MonitorFetchLimit     int `envconfig:"MONITOR_FETCH_LIMIT" default:"20"`
	ArticleDelaySeconds   int `envconfig:"ARTICLE_DELAY_SECONDS" default:"2"`
	FetchRateLimitSeconds int `envconfig:"FETCH_RATE_LIMIT_SECONDS" default:"6"`
	FetchTimeoutSeconds   int `envconfig:"FETCH_TIMEOUT_SECONDS" default:"30"`
	RecencyWindowHours    int `envconfig:"RECENCY_WINDOW_HOURS" default:"48"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("RA_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("RA_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("RA_DB_MIN_CONNS (%d) cannot exceed RA_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if c.MinArticleLength < 1 {
		return fmt.Errorf("MIN_ARTICLE_LENGTH must be >= 1")
	}
	if c.MaxArticleLength < c.MinArticleLength {
		return fmt.Errorf("MAX_ARTICLE_LENGTH (%d) cannot be below MIN_ARTICLE_LENGTH (%d)", c.MaxArticleLength, c.MinArticleLength)
	}
	if c.PollIntervalSeconds < 1 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be >= 1")
	}
	if c.MonitorFetchLimit < 1 {
		return fmt.Errorf("MONITOR_FETCH_LIMIT must be >= 1")
	}
	return nil
}
