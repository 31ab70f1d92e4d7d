// Package semantic answers how close a keyword and an article are in embedding
// space. It only reads vectors written by the embed stage.
package semantic

import (
	"context"
	"fmt"
	"time"
)

// Provider returns a similarity in [0,1]. ok is false when either side has no
// vector yet, which callers treat as "no semantic signal".
type Provider interface {
	Similarity(ctx context.Context, keywordID, articleID int64) (float64, bool, error)
}

// Store is the vector lookup; db.Pool implements it over pgvector.
type Store interface {
	KeywordArticleSimilarity(ctx context.Context, keywordID, articleID int64) (float64, bool, error)
}

const DefaultTimeout = 3 * time.Second

type PostgresProvider struct {
	store   Store
	timeout time.Duration
}

func NewPostgresProvider(store Store, timeout time.Duration) *PostgresProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PostgresProvider{store: store, timeout: timeout}
}

func (p *PostgresProvider) Similarity(ctx context.Context, keywordID, articleID int64) (float64, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	similarity, ok, err := p.store.KeywordArticleSimilarity(callCtx, keywordID, articleID)
	if err != nil {
		return 0, false, fmt.Errorf("similarity keyword_id=%d article_id=%d: %w", keywordID, articleID, err)
	}
	if !ok {
		return 0, false, nil
	}
	return clamp(similarity), true, nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
