package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	ScrapeStatusPending = "pending"
	ScrapeStatusSuccess = "success"
	ScrapeStatusFailed  = "failed"

	maxSourceErrorLength = 500
)

// SourceRecord is a news site the scrape stage visits.
type SourceRecord struct {
	SourceID              int64      `json:"source_id"`
	SourceUUID            string     `json:"source_uuid"`
	Name                  string     `json:"name"`
	URL                   string     `json:"url"`
	Active                bool       `json:"active"`
	ScrapeIntervalMinutes int        `json:"scrape_interval_minutes"`
	LastScrapedAt         *time.Time `json:"last_scraped_at,omitempty"`
	ScrapeStatus          string     `json:"scrape_status"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	TotalArticles         int64      `json:"total_articles"`
}

// UpsertSourceParams registers or updates a source by URL.
type UpsertSourceParams struct {
	Name                  string
	URL                   string
	Active                bool
	ScrapeIntervalMinutes int
}

const sourceColumns = `
	source_id,
	source_uuid::text,
	name,
	url,
	active,
	scrape_interval_minutes,
	last_scraped_at,
	scrape_status,
	error_message,
	total_articles`

func (p *Pool) UpsertSource(ctx context.Context, params UpsertSourceParams) (SourceRecord, error) {
	url := strings.TrimSpace(params.URL)
	if url == "" {
		return SourceRecord{}, fmt.Errorf("source url is required")
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = url
	}
	interval := params.ScrapeIntervalMinutes
	if interval <= 0 {
		interval = 60
	}

	q := `
INSERT INTO mediatrends.sources (name, url, active, scrape_interval_minutes)
VALUES ($1, $2, $3, $4)
ON CONFLICT (url) DO UPDATE
SET name = EXCLUDED.name,
    active = EXCLUDED.active,
    scrape_interval_minutes = EXCLUDED.scrape_interval_minutes,
    updated_at = now()
RETURNING` + sourceColumns

	record, err := scanSource(p.QueryRow(ctx, q, name, url, params.Active, interval))
	if err != nil {
		return SourceRecord{}, fmt.Errorf("upsert source: %w", err)
	}
	return record, nil
}

func (p *Pool) ListSources(ctx context.Context, activeOnly bool) ([]SourceRecord, error) {
	q := `
SELECT` + sourceColumns + `
FROM mediatrends.sources
WHERE (NOT $1 OR active)
ORDER BY name ASC, source_id ASC
`
	return p.querySources(ctx, q, activeOnly)
}

// SourceIDByURL resolves a registered source. It returns nil when the URL is
// not a known source.
func (p *Pool) SourceIDByURL(ctx context.Context, url string) (*int64, error) {
	const q = `SELECT source_id FROM mediatrends.sources WHERE url = $1`
	var id int64
	if err := p.QueryRow(ctx, q, strings.TrimSpace(url)).Scan(&id); err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query source by url: %w", err)
	}
	return &id, nil
}

// ListDueSources returns active sources whose scrape interval has elapsed at now.
func (p *Pool) ListDueSources(ctx context.Context, now time.Time) ([]SourceRecord, error) {
	q := `
SELECT` + sourceColumns + `
FROM mediatrends.sources
WHERE active
  AND (
	last_scraped_at IS NULL
	OR last_scraped_at + make_interval(mins => scrape_interval_minutes) <= $1
  )
ORDER BY last_scraped_at ASC NULLS FIRST, source_id ASC
`
	return p.querySources(ctx, q, now.UTC())
}

// MarkSourceScraped records a successful scrape and bumps the article counter.
func (p *Pool) MarkSourceScraped(ctx context.Context, sourceID int64, newArticles int, at time.Time) error {
	const q = `
UPDATE mediatrends.sources
SET last_scraped_at = $2,
    scrape_status = 'success',
    error_message = '',
    total_articles = total_articles + $3,
    updated_at = now()
WHERE source_id = $1
`
	if _, err := p.Exec(ctx, q, sourceID, at.UTC(), newArticles); err != nil {
		return fmt.Errorf("mark source scraped: %w", err)
	}
	return nil
}

// MarkSourceFailed records the scrape error. last_scraped_at is left alone so the
// source stays due on the next tick.
func (p *Pool) MarkSourceFailed(ctx context.Context, sourceID int64, scrapeErr error) error {
	msg := ""
	if scrapeErr != nil {
		msg = scrapeErr.Error()
	}
	if len(msg) > maxSourceErrorLength {
		msg = msg[:maxSourceErrorLength]
	}

	const q = `
UPDATE mediatrends.sources
SET scrape_status = 'failed',
    error_message = $2,
    updated_at = now()
WHERE source_id = $1
`
	if _, err := p.Exec(ctx, q, sourceID, msg); err != nil {
		return fmt.Errorf("mark source failed: %w", err)
	}
	return nil
}

func (p *Pool) querySources(ctx context.Context, q string, args ...any) ([]SourceRecord, error) {
	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	out := make([]SourceRecord, 0, 16)
	for rows.Next() {
		record, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return out, nil
}

func scanSource(row rowScanner) (SourceRecord, error) {
	var record SourceRecord
	if err := row.Scan(
		&record.SourceID,
		&record.SourceUUID,
		&record.Name,
		&record.URL,
		&record.Active,
		&record.ScrapeIntervalMinutes,
		&record.LastScrapedAt,
		&record.ScrapeStatus,
		&record.ErrorMessage,
		&record.TotalArticles,
	); err != nil {
		return SourceRecord{}, err
	}
	return record, nil
}
