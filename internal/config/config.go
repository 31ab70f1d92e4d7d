package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"MT_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"MT_DB_MAX_CONNS" default:"16"`
	RedisURL    string `envconfig:"REDIS_URL" default:""`

	MatchConfig
	ScheduleConfig

	TransportTimeout   time.Duration `envconfig:"TRANSPORT_TIMEOUT" default:"10s"`
	SemanticTimeout    time.Duration `envconfig:"SEMANTIC_TIMEOUT" default:"3s"`
	TranslationTimeout time.Duration `envconfig:"TRANSLATION_TIMEOUT" default:"20s"`
	EmbeddingTimeout   time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"45s"`
	ScrapeTimeout      time.Duration `envconfig:"SCRAPE_TIMEOUT" default:"30s"`

	TranslationProvider string `envconfig:"TRANSLATION_PROVIDER" default:"local"`
	TranslationEndpoint string `envconfig:"TRANSLATION_ENDPOINT" default:"http://127.0.0.1:8845/v1"`
	TranslationModel    string `envconfig:"TRANSLATION_MODEL" default:"tencent/HY-MT1.5-7B"`
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel         string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`

	EmbeddingEndpoint string `envconfig:"EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL" default:"paraphrase-multilingual-mpnet-base-v2"`

	ArticleRetention time.Duration `envconfig:"ARTICLE_RETENTION" default:"8760h"`

	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	TelegramAPIBase  string `envconfig:"TELEGRAM_API_BASE" default:"https://api.telegram.org"`

	SMTPHost     string `envconfig:"SMTP_HOST" default:""`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:""`

	AdminTokenHash     string `envconfig:"ADMIN_TOKEN_HASH" default:""`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

// MatchConfig is the tuning surface of the match-and-notify stage.
type MatchConfig struct {
	SemanticThreshold    float64       `envconfig:"MATCH_SEMANTIC_THRESHOLD" default:"0.65"`
	SemanticEnabled      bool          `envconfig:"MATCH_SEMANTIC_ENABLED" default:"true"`
	LookbackWindow       time.Duration `envconfig:"MATCH_LOOKBACK_WINDOW" default:"24h"`
	MaxCandidatesPerTick int           `envconfig:"MATCH_MAX_CANDIDATES_PER_TICK" default:"500"`
	ConcurrencyLimit     int           `envconfig:"MATCH_CONCURRENCY_LIMIT" default:"8"`
	MinSentenceChars     int           `envconfig:"MATCH_MIN_SENTENCE_CHARS" default:"0"`
	// MaxArticlesPerTick caps the lookback read; zero uses the engine default.
	MaxArticlesPerTick   int           `envconfig:"MATCH_MAX_ARTICLES_PER_TICK" default:"5000"`
	// MinArticleChars skips articles whose trimmed body is shorter than this
	// many runes. Zero matches every article.
	MinArticleChars      int           `envconfig:"MATCH_MIN_ARTICLE_CHARS" default:"100"`
}

type ScheduleConfig struct {
	ScrapeEvery   time.Duration `envconfig:"SCHEDULE_SCRAPE_EVERY" default:"5m"`
	ScrapeOffset  time.Duration `envconfig:"SCHEDULE_SCRAPE_OFFSET" default:"0s"`
	EmbedEvery    time.Duration `envconfig:"SCHEDULE_EMBED_EVERY" default:"5m"`
	EmbedOffset   time.Duration `envconfig:"SCHEDULE_EMBED_OFFSET" default:"1m"`
	MatchEvery    time.Duration `envconfig:"SCHEDULE_MATCH_EVERY" default:"5m"`
	MatchOffset   time.Duration `envconfig:"SCHEDULE_MATCH_OFFSET" default:"2m"`
	CleanupEvery  time.Duration `envconfig:"SCHEDULE_CLEANUP_EVERY" default:"24h"`
	CleanupOffset time.Duration `envconfig:"SCHEDULE_CLEANUP_OFFSET" default:"2h"`
	StageTimeout  time.Duration `envconfig:"SCHEDULE_STAGE_TIMEOUT" default:"4m"`
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
		return fmt.Errorf("MT_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("MT_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("MT_DB_MIN_CONNS (%d) cannot exceed MT_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if err := c.MatchConfig.Validate(); err != nil {
		return err
	}
	// Each dispatch worker holds one connection for its pair lock; the other
	// half of the pool is left to the evaluate workers and the API.
	if need := 2 * c.ConcurrencyLimit; need > int(c.DBMaxConns) {
		return fmt.Errorf("MT_DB_MAX_CONNS (%d) must be at least twice MATCH_CONCURRENCY_LIMIT (%d)", c.DBMaxConns, c.ConcurrencyLimit)
	}
	if err := c.ScheduleConfig.Validate(); err != nil {
		return err
	}

	timeouts := map[string]time.Duration{
		"TRANSPORT_TIMEOUT":   c.TransportTimeout,
		"SEMANTIC_TIMEOUT":    c.SemanticTimeout,
		"TRANSLATION_TIMEOUT": c.TranslationTimeout,
		"EMBEDDING_TIMEOUT":   c.EmbeddingTimeout,
		"SCRAPE_TIMEOUT":      c.ScrapeTimeout,
	}
	for name, value := range timeouts {
		if value <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.ArticleRetention < c.LookbackWindow {
		return fmt.Errorf("ARTICLE_RETENTION (%s) cannot be shorter than MATCH_LOOKBACK_WINDOW (%s)", c.ArticleRetention, c.LookbackWindow)
	}
	switch strings.ToLower(strings.TrimSpace(c.TranslationProvider)) {
	case "", "local":
	case "gemini":
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when TRANSLATION_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("TRANSLATION_PROVIDER must be local or gemini, got %q", c.TranslationProvider)
	}
	if c.SMTPHost != "" && strings.TrimSpace(c.SMTPFrom) == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}

func (m MatchConfig) Validate() error {
	if m.SemanticThreshold <= 0 || m.SemanticThreshold > 1 {
		return fmt.Errorf("MATCH_SEMANTIC_THRESHOLD must be in (0, 1], got %v", m.SemanticThreshold)
	}
	if m.LookbackWindow <= 0 {
		return fmt.Errorf("MATCH_LOOKBACK_WINDOW must be > 0")
	}
	if m.MaxCandidatesPerTick < 1 {
		return fmt.Errorf("MATCH_MAX_CANDIDATES_PER_TICK must be >= 1")
	}
	if m.ConcurrencyLimit < 1 {
		return fmt.Errorf("MATCH_CONCURRENCY_LIMIT must be >= 1")
	}
	if m.MinSentenceChars < 0 {
		return fmt.Errorf("MATCH_MIN_SENTENCE_CHARS must be >= 0")
	}
	if m.MaxArticlesPerTick < 0 {
		return fmt.Errorf("MATCH_MAX_ARTICLES_PER_TICK must be >= 0")
	}
	if m.MinArticleChars < 0 {
		return fmt.Errorf("MATCH_MIN_ARTICLE_CHARS must be >= 0")
	}
	return nil
}

func (s ScheduleConfig) Validate() error {
	stages := []struct {
		name   string
		every  time.Duration
		offset time.Duration
	}{
		{"SCRAPE", s.ScrapeEvery, s.ScrapeOffset},
		{"EMBED", s.EmbedEvery, s.EmbedOffset},
		{"MATCH", s.MatchEvery, s.MatchOffset},
		{"CLEANUP", s.CleanupEvery, s.CleanupOffset},
	}
	for _, stage := range stages {
		if stage.every <= 0 {
			return fmt.Errorf("SCHEDULE_%s_EVERY must be > 0", stage.name)
		}
		if stage.offset < 0 || stage.offset >= stage.every {
			return fmt.Errorf("SCHEDULE_%s_OFFSET must be in [0, SCHEDULE_%s_EVERY)", stage.name, stage.name)
		}
	}
	if s.StageTimeout <= 0 {
		return fmt.Errorf("SCHEDULE_STAGE_TIMEOUT must be > 0")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
