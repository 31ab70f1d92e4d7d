package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ArticleRecord is the read model consumed by matching and dispatch.
type ArticleRecord struct {
	ArticleID   int64      `json:"article_id"`
	ArticleUUID string     `json:"article_uuid"`
	SourceID    *int64     `json:"source_id,omitempty"`
	SourceName  string     `json:"source_name"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Body        string     `json:"body,omitempty"`
	Boilerplate []string   `json:"boilerplate,omitempty"`
	Category    string     `json:"category,omitempty"`
	Author      string     `json:"author,omitempty"`
	Language    string     `json:"language"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	IngestedAt  time.Time  `json:"ingested_at"`
	HasEmbedded bool       `json:"has_embedding"`
}

// InsertArticleParams carries one ingested article.
type InsertArticleParams struct {
	SourceID    *int64
	URL         string
	Title       string
	Description string
	Body        string
	Boilerplate []string
	Category    string
	Author      string
	Language    string
	PublishedAt *time.Time
}

// ArticleFilter drives the admin listing.
type ArticleFilter struct {
	SourceID *int64
	Since    *time.Time
	Query    string
	Limit    int
}

const articleColumns = `
	a.article_id,
	a.article_uuid::text,
	a.source_id,
	COALESCE(s.name, ''),
	a.url,
	a.title,
	a.description,
	a.body,
	a.boilerplate,
	a.category,
	a.author,
	a.language,
	a.published_at,
	a.ingested_at,
	(ae.article_id IS NOT NULL)`

const articleJoins = `
FROM mediatrends.articles a
LEFT JOIN mediatrends.sources s ON s.source_id = a.source_id
LEFT JOIN mediatrends.article_embeddings ae ON ae.article_id = a.article_id`

// InsertArticle stores an article keyed by URL. A URL that is already present
// leaves the stored row untouched and reports inserted=false.
func (p *Pool) InsertArticle(ctx context.Context, params InsertArticleParams) (int64, bool, error) {
	url := strings.TrimSpace(params.URL)
	if url == "" {
		return 0, false, fmt.Errorf("article url is required")
	}
	if strings.TrimSpace(params.Title) == "" {
		return 0, false, fmt.Errorf("article title is required")
	}
	boilerplate := params.Boilerplate
	if boilerplate == nil {
		boilerplate = []string{}
	}
	boilerplateJSON, err := json.Marshal(boilerplate)
	if err != nil {
		return 0, false, fmt.Errorf("marshal boilerplate markers: %w", err)
	}
	language := strings.TrimSpace(params.Language)
	if language == "" {
		language = "und"
	}

	const q = `
INSERT INTO mediatrends.articles (
	source_id,
	url,
	title,
	description,
	body,
	boilerplate,
	category,
	author,
	language,
	published_at,
	ingested_at
)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, now())
ON CONFLICT (url) DO NOTHING
RETURNING article_id
`

	var articleID int64
	err = p.QueryRow(ctx, q,
		params.SourceID,
		url,
		strings.TrimSpace(params.Title),
		strings.TrimSpace(params.Description),
		params.Body,
		string(boilerplateJSON),
		strings.TrimSpace(params.Category),
		strings.TrimSpace(params.Author),
		language,
		params.PublishedAt,
	).Scan(&articleID)
	if err != nil {
		if IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert article: %w", err)
	}
	return articleID, true, nil
}

// ArticleExistsByURL lets the scraper skip fetches for already stored pages.
func (p *Pool) ArticleExistsByURL(ctx context.Context, url string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM mediatrends.articles WHERE url = $1)`
	var exists bool
	if err := p.QueryRow(ctx, q, strings.TrimSpace(url)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check article url: %w", err)
	}
	return exists, nil
}

// ListRecentArticles returns articles ingested at or after since, newest first.
func (p *Pool) ListRecentArticles(ctx context.Context, since time.Time, limit int) ([]ArticleRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	q := `
SELECT` + articleColumns + articleJoins + `
WHERE a.ingested_at >= $1
ORDER BY a.ingested_at DESC, a.article_id DESC
LIMIT $2
`
	rows, err := p.Query(ctx, q, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent articles: %w", err)
	}
	defer rows.Close()

	return collectArticles(rows, limit)
}

func (p *Pool) GetArticle(ctx context.Context, articleID int64) (ArticleRecord, error) {
	q := `
SELECT` + articleColumns + articleJoins + `
WHERE a.article_id = $1
`
	record, err := scanArticle(p.QueryRow(ctx, q, articleID))
	if err != nil {
		if IsNoRows(err) {
			return ArticleRecord{}, ErrNoRows
		}
		return ArticleRecord{}, fmt.Errorf("query article %d: %w", articleID, err)
	}
	return record, nil
}

// ListArticles serves the admin listing with optional filters.
func (p *Pool) ListArticles(ctx context.Context, filter ArticleFilter) ([]ArticleRecord, error) {
	if filter.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	builder := psql.Select(strings.Split(strings.TrimSpace(articleColumns), ",\n")...).
		From("mediatrends.articles a").
		LeftJoin("mediatrends.sources s ON s.source_id = a.source_id").
		LeftJoin("mediatrends.article_embeddings ae ON ae.article_id = a.article_id").
		OrderBy("a.ingested_at DESC", "a.article_id DESC").
		Limit(uint64(filter.Limit))

	if filter.SourceID != nil {
		builder = builder.Where(sq.Eq{"a.source_id": *filter.SourceID})
	}
	if filter.Since != nil {
		builder = builder.Where(sq.GtOrEq{"a.ingested_at": filter.Since.UTC()})
	}
	if query := strings.TrimSpace(filter.Query); query != "" {
		pattern := "%" + escapeLike(query) + "%"
		builder = builder.Where(sq.Or{
			sq.ILike{"a.title": pattern},
			sq.ILike{"a.description": pattern},
		})
	}

	q, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build article listing: %w", err)
	}

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	return collectArticles(rows, filter.Limit)
}

// DeleteArticlesBefore removes articles ingested before cutoff together with
// their embeddings. Dedup records and notifications are left alone.
func (p *Pool) DeleteArticlesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := p.InTx(ctx, func(tx Tx) error {
		const deleteEmbeddings = `
DELETE FROM mediatrends.article_embeddings ae
USING mediatrends.articles a
WHERE ae.article_id = a.article_id
  AND a.ingested_at < $1
`
		if _, err := tx.Exec(ctx, deleteEmbeddings, cutoff.UTC()); err != nil {
			return fmt.Errorf("delete stale article embeddings: %w", err)
		}

		const deleteArticles = `DELETE FROM mediatrends.articles WHERE ingested_at < $1`
		tag, err := tx.Exec(ctx, deleteArticles, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("delete stale articles: %w", err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func collectArticles(rows *Rows, capacity int) ([]ArticleRecord, error) {
	out := make([]ArticleRecord, 0, min(capacity, 256))
	for rows.Next() {
		record, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows: %w", err)
	}
	return out, nil
}

func scanArticle(row rowScanner) (ArticleRecord, error) {
	var (
		record         ArticleRecord
		boilerplateRaw []byte
	)
	if err := row.Scan(
		&record.ArticleID,
		&record.ArticleUUID,
		&record.SourceID,
		&record.SourceName,
		&record.URL,
		&record.Title,
		&record.Description,
		&record.Body,
		&boilerplateRaw,
		&record.Category,
		&record.Author,
		&record.Language,
		&record.PublishedAt,
		&record.IngestedAt,
		&record.HasEmbedded,
	); err != nil {
		return ArticleRecord{}, err
	}
	markers, err := decodeStringList(boilerplateRaw)
	if err != nil {
		return ArticleRecord{}, fmt.Errorf("decode boilerplate of article %d: %w", record.ArticleID, err)
	}
	record.Boilerplate = markers
	record.IngestedAt = record.IngestedAt.UTC()
	if record.PublishedAt != nil {
		utc := record.PublishedAt.UTC()
		record.PublishedAt = &utc
	}
	return record, nil
}

func escapeLike(raw string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(raw)
}
