package semantic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/logging"
)

const DefaultCacheTTL = 48 * time.Hour

// CachedProvider memoizes present similarities in Redis. Vectors are written
// once, so a cached value never goes stale; absent values are not cached
// because the embedding may land on a later tick. Redis failures fall through
// to the wrapped provider.
type CachedProvider struct {
	next   Provider
	client redis.UniversalClient
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedProvider(next Provider, client redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logging.Component(logger, "similarity_cache"),
	}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (c *CachedProvider) Similarity(ctx context.Context, keywordID, articleID int64) (float64, bool, error) {
	key := cacheKey(keywordID, articleID)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if value, parseErr := strconv.ParseFloat(cached, 64); parseErr == nil {
			return value, true, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Debug().Err(err).Str("key", key).Msg("similarity cache read failed")
	}

	value, ok, err := c.next.Similarity(ctx, keywordID, articleID)
	if err != nil || !ok {
		return value, ok, err
	}

	if setErr := c.client.Set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64), c.ttl).Err(); setErr != nil {
		c.logger.Debug().Err(setErr).Str("key", key).Msg("similarity cache write failed")
	}
	return value, true, nil
}

func cacheKey(keywordID, articleID int64) string {
	return "mediatrends:similarity:" + strconv.FormatInt(keywordID, 10) + ":" + strconv.FormatInt(articleID, 10)
}
