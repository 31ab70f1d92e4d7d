package db

import (
	"context"
	"fmt"
)

// PendingEmbedding is a row that still lacks a vector.
type PendingEmbedding struct {
	ID    int64
	Title string
	Text  string
}

// ListArticlesPendingEmbedding returns the oldest articles without an embedding.
func (p *Pool) ListArticlesPendingEmbedding(ctx context.Context, limit int) ([]PendingEmbedding, error) {
	const q = `
SELECT
	a.article_id,
	a.title,
	CASE WHEN a.description = '' THEN a.body ELSE a.description || E'\n\n' || a.body END
FROM mediatrends.articles a
WHERE NOT EXISTS (
	SELECT 1
	FROM mediatrends.article_embeddings ae
	WHERE ae.article_id = a.article_id
)
ORDER BY a.ingested_at ASC, a.article_id ASC
LIMIT $1
`
	return p.queryPendingEmbeddings(ctx, "articles", q, limit)
}

// ListKeywordsPendingEmbedding returns active keywords without an embedding.
func (p *Pool) ListKeywordsPendingEmbedding(ctx context.Context, limit int) ([]PendingEmbedding, error) {
	const q = `
SELECT
	k.keyword_id,
	k.canonical,
	''
FROM mediatrends.keywords k
WHERE k.active
  AND NOT EXISTS (
	SELECT 1
	FROM mediatrends.keyword_embeddings ke
	WHERE ke.keyword_id = k.keyword_id
  )
ORDER BY k.keyword_id ASC
LIMIT $1
`
	return p.queryPendingEmbeddings(ctx, "keywords", q, limit)
}

// InsertArticleEmbedding populates the article vector once. Later calls for the
// same article are no-ops and report false.
func (p *Pool) InsertArticleEmbedding(ctx context.Context, articleID int64, modelName, vectorLiteral string, latencyMS *int) (bool, error) {
	const q = `
INSERT INTO mediatrends.article_embeddings (article_id, model_name, embedding, embedded_at, latency_ms)
VALUES ($1, $2, $3::vector, now(), $4)
ON CONFLICT (article_id) DO NOTHING
`
	tag, err := p.Exec(ctx, q, articleID, modelName, vectorLiteral, latencyMS)
	if err != nil {
		return false, fmt.Errorf("insert article embedding article_id=%d: %w", articleID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Pool) InsertKeywordEmbedding(ctx context.Context, keywordID int64, modelName, vectorLiteral string) (bool, error) {
	const q = `
INSERT INTO mediatrends.keyword_embeddings (keyword_id, model_name, embedding, embedded_at)
VALUES ($1, $2, $3::vector, now())
ON CONFLICT (keyword_id) DO NOTHING
`
	tag, err := p.Exec(ctx, q, keywordID, modelName, vectorLiteral)
	if err != nil {
		return false, fmt.Errorf("insert keyword embedding keyword_id=%d: %w", keywordID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// KeywordArticleSimilarity returns the cosine similarity of the stored keyword
// and article vectors. ok is false when either vector is missing or their
// dimensions differ.
func (p *Pool) KeywordArticleSimilarity(ctx context.Context, keywordID, articleID int64) (float64, bool, error) {
	const q = `
SELECT 1 - (ke.embedding <=> ae.embedding)
FROM mediatrends.keyword_embeddings ke
JOIN mediatrends.article_embeddings ae ON ae.article_id = $2
WHERE ke.keyword_id = $1
  AND vector_dims(ke.embedding) = vector_dims(ae.embedding)
`
	var similarity *float64
	if err := p.QueryRow(ctx, q, keywordID, articleID).Scan(&similarity); err != nil {
		if IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("query similarity keyword_id=%d article_id=%d: %w", keywordID, articleID, err)
	}
	if similarity == nil {
		return 0, false, nil
	}
	return *similarity, true, nil
}

func (p *Pool) queryPendingEmbeddings(ctx context.Context, label, q string, limit int) ([]PendingEmbedding, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select %s pending embedding: %w", label, err)
	}
	defer rows.Close()

	out := make([]PendingEmbedding, 0, limit)
	for rows.Next() {
		var row PendingEmbedding
		if err := rows.Scan(&row.ID, &row.Title, &row.Text); err != nil {
			return nil, fmt.Errorf("scan pending %s embedding: %w", label, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending %s embeddings: %w", label, err)
	}
	return out, nil
}
