package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Environment: "local",
		LogLevel:    "info",
		DatabaseURL: "postgres://localhost/mediatrends",
		DBMinConns:  1,
		DBMaxConns:  8,
		MatchConfig: MatchConfig{
			SemanticThreshold:    0.65,
			SemanticEnabled:      true,
			LookbackWindow:       24 * time.Hour,
			MaxCandidatesPerTick: 100,
			ConcurrencyLimit:     4,
		},
		ScheduleConfig: ScheduleConfig{
			ScrapeEvery:   5 * time.Minute,
			EmbedEvery:    5 * time.Minute,
			EmbedOffset:   time.Minute,
			MatchEvery:    5 * time.Minute,
			MatchOffset:   2 * time.Minute,
			CleanupEvery:  24 * time.Hour,
			CleanupOffset: 2 * time.Hour,
			StageTimeout:  4 * time.Minute,
		},
		TransportTimeout:   10 * time.Second,
		SemanticTimeout:    3 * time.Second,
		TranslationTimeout: 20 * time.Second,
		EmbeddingTimeout:   45 * time.Second,
		ScrapeTimeout:      30 * time.Second,
		ArticleRetention:   365 * 24 * time.Hour,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsBadMatchSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero threshold", func(c *Config) { c.SemanticThreshold = 0 }, "MATCH_SEMANTIC_THRESHOLD"},
		{"threshold above one", func(c *Config) { c.SemanticThreshold = 1.2 }, "MATCH_SEMANTIC_THRESHOLD"},
		{"no lookback", func(c *Config) { c.LookbackWindow = 0 }, "MATCH_LOOKBACK_WINDOW"},
		{"no candidates", func(c *Config) { c.MaxCandidatesPerTick = 0 }, "MATCH_MAX_CANDIDATES_PER_TICK"},
		{"no concurrency", func(c *Config) { c.ConcurrencyLimit = 0 }, "MATCH_CONCURRENCY_LIMIT"},
		{"concurrency exhausts pool", func(c *Config) { c.ConcurrencyLimit = 8 }, "MT_DB_MAX_CONNS"},
		{"negative article cap", func(c *Config) { c.MaxArticlesPerTick = -1 }, "MATCH_MAX_ARTICLES_PER_TICK"},
		{"negative article length", func(c *Config) { c.MinArticleChars = -1 }, "MATCH_MIN_ARTICLE_CHARS"},
		{"offset past interval", func(c *Config) { c.MatchOffset = 5 * time.Minute }, "SCHEDULE_MATCH_OFFSET"},
		{"retention below lookback", func(c *Config) { c.ArticleRetention = time.Hour }, "ARTICLE_RETENTION"},
		{"smtp without sender", func(c *Config) { c.SMTPHost = "smtp.example.com" }, "SMTP_FROM"},
		{"gemini without key", func(c *Config) { c.TranslationProvider = "Gemini" }, "GEMINI_API_KEY"},
		{"unknown translator", func(c *Config) { c.TranslationProvider = "deepl" }, "TRANSLATION_PROVIDER"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error mentioning %s", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %s", err.Error(), tc.want)
			}
		})
	}
}

func TestCORSAllowedOriginsListDeduplicates(t *testing.T) {
	t.Parallel()

	cfg := &Config{CORSAllowedOrigins: " https://a.example , https://b.example,https://a.example,, "}
	got := cfg.CORSAllowedOriginsList()
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %#v", got)
	}
}
