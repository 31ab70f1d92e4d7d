package db

import (
	"context"
	"fmt"
	"time"
)

// OutcomeCount is a notification outcome bucket.
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

// PipelineStats is the read model returned by the stats endpoint and command.
type PipelineStats struct {
	Day                   string         `json:"day"`
	Sources               int64          `json:"sources"`
	ActiveSources         int64          `json:"active_sources"`
	Articles              int64          `json:"articles"`
	ArticlesIngestedToday int64          `json:"articles_ingested_today"`
	PendingNotEmbedded    int64          `json:"pending_not_embedded"`
	ActiveKeywords        int64          `json:"active_keywords"`
	DedupRecords          int64          `json:"dedup_records"`
	NotificationsToday    []OutcomeCount `json:"notifications_today"`
}

// QueryPipelineStats returns table totals plus the activity inside [dayStart, dayEnd).
func (p *Pool) QueryPipelineStats(ctx context.Context, dayStart, dayEnd time.Time) (*PipelineStats, error) {
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &PipelineStats{
		Day:                startUTC.Format("2006-01-02"),
		NotificationsToday: make([]OutcomeCount, 0, 4),
	}

	const countsQuery = `
SELECT
	(SELECT COUNT(*) FROM mediatrends.sources)::BIGINT,
	(SELECT COUNT(*) FROM mediatrends.sources WHERE active)::BIGINT,
	(SELECT COUNT(*) FROM mediatrends.articles)::BIGINT,
	(SELECT COUNT(*) FROM mediatrends.articles WHERE ingested_at >= $1 AND ingested_at < $2)::BIGINT,
	(SELECT COUNT(*)
	   FROM mediatrends.articles a
	  WHERE NOT EXISTS (SELECT 1 FROM mediatrends.article_embeddings ae WHERE ae.article_id = a.article_id))::BIGINT,
	(SELECT COUNT(*) FROM mediatrends.keywords WHERE active)::BIGINT,
	(SELECT COUNT(*) FROM mediatrends.dedup_records)::BIGINT
`
	if err := p.QueryRow(ctx, countsQuery, startUTC, endUTC).Scan(
		&stats.Sources,
		&stats.ActiveSources,
		&stats.Articles,
		&stats.ArticlesIngestedToday,
		&stats.PendingNotEmbedded,
		&stats.ActiveKeywords,
		&stats.DedupRecords,
	); err != nil {
		return nil, fmt.Errorf("query pipeline counts: %w", err)
	}

	const outcomesQuery = `
SELECT outcome, COUNT(*)::BIGINT
FROM mediatrends.notifications
WHERE created_at >= $1
  AND created_at < $2
GROUP BY outcome
ORDER BY outcome ASC
`
	rows, err := p.Query(ctx, outcomesQuery, startUTC, endUTC)
	if err != nil {
		return nil, fmt.Errorf("query notification outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bucket OutcomeCount
		if err := rows.Scan(&bucket.Outcome, &bucket.Count); err != nil {
			return nil, fmt.Errorf("scan notification outcome: %w", err)
		}
		stats.NotificationsToday = append(stats.NotificationsToday, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification outcomes: %w", err)
	}

	return stats, nil
}
