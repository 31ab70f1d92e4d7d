// Package pipeline holds the maintenance stages that run beside matching:
// embedding pending articles and keywords, and pruning old articles.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/globaltime"
	"horse.fit/mediatrends/internal/logging"
)

type Store interface {
	ListArticlesPendingEmbedding(ctx context.Context, limit int) ([]db.PendingEmbedding, error)
	ListKeywordsPendingEmbedding(ctx context.Context, limit int) ([]db.PendingEmbedding, error)
	InsertArticleEmbedding(ctx context.Context, articleID int64, modelName, vectorLiteral string, latencyMS *int) (bool, error)
	InsertKeywordEmbedding(ctx context.Context, keywordID int64, modelName, vectorLiteral string) (bool, error)
	DeleteArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Service struct {
	store  Store
	opts   EmbedOptions
	logger zerolog.Logger
}

func NewService(store Store, opts EmbedOptions, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		opts:   normalizeEmbedOptions(opts),
		logger: logging.Component(logger, "pipeline"),
	}
}

type CleanupResult struct {
	Cutoff  time.Time
	Deleted int64
}

// Cleanup deletes articles older than retention. The cutoff never falls inside
// the match lookback window, so articles that can still produce a candidate
// survive. The dedup ledger and the notification audit are not touched.
func (s *Service) Cleanup(ctx context.Context, retention, lookback time.Duration) (CleanupResult, error) {
	if s == nil || s.store == nil {
		return CleanupResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if retention <= 0 {
		return CleanupResult{}, fmt.Errorf("retention must be > 0")
	}
	window := max(retention, lookback)
	cutoff := globaltime.Cutoff(window)

	deleted, err := s.store.DeleteArticlesBefore(ctx, cutoff)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("cleanup articles: %w", err)
	}
	s.logger.Info().
		Time("cutoff", cutoff).
		Int64("deleted", deleted).
		Msg("article cleanup finished")
	return CleanupResult{Cutoff: cutoff, Deleted: deleted}, nil
}
