package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/cli"
	"horse.fit/mediatrends/internal/config"
	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/dispatch"
	"horse.fit/mediatrends/internal/ingest"
	"horse.fit/mediatrends/internal/keyword"
	"horse.fit/mediatrends/internal/langdetect"
	"horse.fit/mediatrends/internal/ledger"
	"horse.fit/mediatrends/internal/logging"
	"horse.fit/mediatrends/internal/matching"
	"horse.fit/mediatrends/internal/pipeline"
	"horse.fit/mediatrends/internal/scrape"
	"horse.fit/mediatrends/internal/semantic"
	"horse.fit/mediatrends/internal/translation"
	"horse.fit/mediatrends/internal/transport/email"
	"horse.fit/mediatrends/internal/transport/telegram"
)

// runtimeEnv is what every database-backed command starts from.
type runtimeEnv struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
}

func (r *runtimeEnv) Close() {
	if r == nil || r.pool == nil {
		return
	}
	_ = r.pool.Close()
}

// loadConfig reads the .env file, the environment and builds the logger.
func loadConfig(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// openRuntime loads config and connects. connectTimeout bounds only the
// connection and migration, not the command itself.
func openRuntime(envLoader *cli.EnvLoader, command string, connectTimeout time.Duration) (*runtimeEnv, error) {
	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		return nil, err
	}
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("command", command).Msg("database connection failed")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &runtimeEnv{cfg: cfg, logger: logger, pool: pool}, nil
}

// services is the fully wired pipeline. Every command that touches more than
// plain storage builds it the same way, so the daemon, the API and one-shot
// commands behave identically.
type services struct {
	ledger   *ledger.Ledger
	pipeline *pipeline.Service
	engine   *matching.Engine
	keywords *keyword.Service
	ingest   *ingest.Service

	closers []func() error
}

func (s *services) Close() {
	if s == nil {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func buildServices(ctx context.Context, rt *runtimeEnv) (*services, error) {
	cfg := rt.cfg
	logger := rt.logger
	svc := &services{}

	similarity, closeCache, err := buildSimilarity(rt)
	if err != nil {
		return nil, err
	}
	if closeCache != nil {
		svc.closers = append(svc.closers, closeCache)
	}

	svc.ledger = ledger.New(rt.pool, logger)
	dispatcher := dispatch.New(
		svc.ledger,
		buildTransport(cfg, logger),
		dispatch.NewStoreResolver(rt.pool),
		cfg.TransportTimeout,
		logger,
	)

	svc.engine, err = matching.NewEngine(rt.pool, svc.ledger, dispatcher, similarity, cfg.MatchConfig, logger)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("build match engine: %w", err)
	}

	svc.pipeline = pipeline.NewService(rt.pool, pipeline.EmbedOptions{
		Endpoint:       cfg.EmbeddingEndpoint,
		ModelName:      cfg.EmbeddingModel,
		RequestTimeout: cfg.EmbeddingTimeout,
	}, logger)

	// Regional model set: the languages sources and keywords actually use.
	detector := langdetect.NewRegional()

	registry, err := translation.Build(ctx, translation.Options{
		Default:       cfg.TranslationProvider,
		LocalEndpoint: cfg.TranslationEndpoint,
		LocalModel:    cfg.TranslationModel,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		Timeout:       cfg.TranslationTimeout,
	})
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("build translation registry: %w", err)
	}
	provider, err := registry.Provider("")
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("resolve translation provider: %w", err)
	}
	expander := keyword.NewExpander(provider, logger, keyword.ExpanderOptions{
		Timeout:  cfg.TranslationTimeout,
		Detector: detector,
	})
	svc.keywords = keyword.NewService(rt.pool, expander, svc.pipeline, svc.engine, logger)

	fetcher := scrape.NewClient(scrape.FetchOptions{Timeout: cfg.ScrapeTimeout})
	svc.ingest = ingest.NewService(rt.pool, fetcher, detector, logger)

	logger.Debug().
		Str("translation_provider", provider.Name()).
		Bool("semantic", cfg.SemanticEnabled).
		Bool("similarity_cache", closeCache != nil).
		Msg("services wired")
	return svc, nil
}

// buildSimilarity returns the pgvector provider, wrapped in the Redis cache
// when REDIS_URL is set.
func buildSimilarity(rt *runtimeEnv) (semantic.Provider, func() error, error) {
	var provider semantic.Provider = semantic.NewPostgresProvider(rt.pool, rt.cfg.SemanticTimeout)
	redisURL := strings.TrimSpace(rt.cfg.RedisURL)
	if redisURL == "" {
		return provider, nil, nil
	}

	client, err := semantic.NewRedisClient(redisURL)
	if err != nil {
		return nil, nil, err
	}
	return semantic.NewCachedProvider(provider, client, semantic.DefaultCacheTTL, rt.logger), client.Close, nil
}

func buildTransport(cfg *config.Config, logger zerolog.Logger) dispatch.Transport {
	transports := []dispatch.Transport{telegram.New(cfg.TelegramAPIBase, cfg.TelegramBotToken)}
	if strings.TrimSpace(cfg.TelegramBotToken) == "" {
		logger.Warn().Msg("TELEGRAM_BOT_TOKEN is empty; telegram deliveries will fail transiently")
	}

	mailCfg := email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
	if mailCfg.Enabled() {
		transports = append(transports, email.New(mailCfg))
	}
	return dispatch.Fanout(transports...)
}
