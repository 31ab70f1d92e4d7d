package ingest

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/globaltime"
	"horse.fit/mediatrends/internal/scrape"
)

const DefaultScrapeConcurrency = 4

// Fetcher downloads one page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (scrape.Page, error)
}

type ScrapeOptions struct {
	Concurrency int
	MaxLinks    int
}

type ScrapeResult struct {
	Sources       int `json:"sources"`
	FailedSources int `json:"failed_sources"`
	LinksSeen     int `json:"links_seen"`
	Inserted      int `json:"inserted"`
	Existing      int `json:"existing"`
	Rejected      int `json:"rejected"`
	ArticleErrors int `json:"article_errors"`
}

func (r *ScrapeResult) add(other ScrapeResult) {
	r.LinksSeen += other.LinksSeen
	r.Inserted += other.Inserted
	r.Existing += other.Existing
	r.Rejected += other.Rejected
	r.ArticleErrors += other.ArticleErrors
}

// ScrapeDue visits every active source whose interval has elapsed. A source
// whose homepage cannot be read is marked failed; failures of single article
// pages are only counted.
func (s *Service) ScrapeDue(ctx context.Context, opts ScrapeOptions) (ScrapeResult, error) {
	if s == nil || s.store == nil {
		return ScrapeResult{}, fmt.Errorf("ingest service is not initialized")
	}
	if s.fetcher == nil {
		return ScrapeResult{}, fmt.Errorf("scrape fetcher is not configured")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultScrapeConcurrency
	}
	if opts.MaxLinks <= 0 {
		opts.MaxLinks = scrape.DefaultMaxLinks
	}

	sources, err := s.store.ListDueSources(ctx, globaltime.UTC())
	if err != nil {
		return ScrapeResult{}, err
	}

	var (
		mu    sync.Mutex
		total = ScrapeResult{Sources: len(sources)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, source := range sources {
		source := source
		g.Go(func() error {
			result, err := s.ScrapeSource(gctx, source, opts.MaxLinks)
			mu.Lock()
			defer mu.Unlock()
			total.add(result)
			if err != nil {
				total.FailedSources++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Int("sources", total.Sources).
		Int("failed_sources", total.FailedSources).
		Int("links_seen", total.LinksSeen).
		Int("inserted", total.Inserted).
		Int("existing", total.Existing).
		Int("rejected", total.Rejected).
		Int("article_errors", total.ArticleErrors).
		Msg("scrape stage finished")

	if err := ctx.Err(); err != nil {
		return total, err
	}
	return total, nil
}

// ScrapeSource reads one homepage and stores the new articles it links to.
func (s *Service) ScrapeSource(ctx context.Context, source db.SourceRecord, maxLinks int) (ScrapeResult, error) {
	log := s.logger.With().Int64("source_id", source.SourceID).Str("source", source.Name).Logger()

	links, err := s.homepageLinks(ctx, source.URL, maxLinks)
	if err != nil {
		log.Warn().Err(err).Msg("source scrape failed")
		if markErr := s.store.MarkSourceFailed(context.WithoutCancel(ctx), source.SourceID, err); markErr != nil {
			log.Error().Err(markErr).Msg("mark source failed")
		}
		return ScrapeResult{}, err
	}

	result := ScrapeResult{LinksSeen: len(links)}
	sourceID := source.SourceID
	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		outcome, err := s.scrapeArticle(ctx, &sourceID, link)
		switch {
		case err != nil:
			result.ArticleErrors++
			log.Warn().Err(err).Str("url", link).Msg("article scrape failed")
		case outcome == articleInserted:
			result.Inserted++
		case outcome == articleExisting:
			result.Existing++
		case outcome == articleRejected:
			result.Rejected++
		}
	}

	if err := s.store.MarkSourceScraped(context.WithoutCancel(ctx), source.SourceID, result.Inserted, globaltime.UTC()); err != nil {
		return result, err
	}
	log.Debug().
		Int("links", result.LinksSeen).
		Int("inserted", result.Inserted).
		Msg("source scraped")
	return result, nil
}

type articleOutcome int

const (
	articleInserted articleOutcome = iota
	articleExisting
	articleRejected
)

func (s *Service) homepageLinks(ctx context.Context, homepage string, maxLinks int) ([]string, error) {
	page, err := s.fetcher.Fetch(ctx, homepage)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse homepage %s: %w", homepage, err)
	}
	return scrape.DiscoverLinks(doc, page.URL, maxLinks), nil
}

func (s *Service) scrapeArticle(ctx context.Context, sourceID *int64, link string) (articleOutcome, error) {
	canonical, err := CanonicalURL(link)
	if err != nil {
		return articleRejected, nil
	}
	exists, err := s.store.ArticleExistsByURL(ctx, canonical)
	if err != nil {
		return 0, err
	}
	if exists {
		return articleExisting, nil
	}

	page, err := s.fetcher.Fetch(ctx, link)
	if err != nil {
		return 0, err
	}
	extracted, err := scrape.Extract(page)
	if err != nil {
		return 0, err
	}
	if scrape.IsJunkTitle(extracted.Title) {
		return articleRejected, nil
	}

	result, err := s.Insert(ctx, Article{
		SourceID:    sourceID,
		URL:         canonical,
		Title:       extracted.Title,
		Description: extracted.Description,
		Body:        extracted.Body,
		Boilerplate: extracted.Boilerplate,
		Category:    extracted.Category,
		Author:      extracted.Author,
		PublishedAt: extracted.PublishedAt,
	})
	if err != nil {
		return 0, err
	}
	if !result.Inserted {
		return articleExisting, nil
	}
	return articleInserted, nil
}
