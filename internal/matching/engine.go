// Package matching runs one match-and-notify tick: it crosses active keywords
// with recent articles, scores every (user, article) pair the ledger has not
// closed, and hands the best candidate per pair to the dispatcher.
package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/mediatrends/internal/config"
	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/dispatch"
	"horse.fit/mediatrends/internal/globaltime"
	"horse.fit/mediatrends/internal/keyword"
	"horse.fit/mediatrends/internal/ledger"
	"horse.fit/mediatrends/internal/logging"
	"horse.fit/mediatrends/internal/scoring"
	"horse.fit/mediatrends/internal/semantic"
	"horse.fit/mediatrends/internal/textscan"
)

const (
	defaultMaxArticles = 5000

	// A freshly added keyword is matched against a wider window than a
	// regular tick, with a small cap so a new subscription cannot flood.
	ImmediateLookback      = 7 * 24 * time.Hour
	ImmediateMaxCandidates = 20
)

// Store reads the candidate sets.
type Store interface {
	ListActiveKeywords(ctx context.Context, onlyIDs []int64) ([]db.KeywordRecord, error)
	ListRecentArticles(ctx context.Context, since time.Time, limit int) ([]db.ArticleRecord, error)
}

type Ledger interface {
	Has(ctx context.Context, userID, articleID int64) (bool, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, candidate dispatch.Candidate) (dispatch.Result, error)
}

// Options narrow a single tick. Zero values fall back to the engine config.
type Options struct {
	KeywordIDs    []int64
	Lookback      time.Duration
	MaxCandidates int
	MaxArticles   int
	// DryRun scores and reports candidates without dispatching them.
	DryRun bool
}

type TickStats struct {
	TickID            string               `json:"tick_id"`
	Keywords          int                  `json:"keywords"`
	Users             int                  `json:"users"`
	Articles          int                  `json:"articles"`
	ShortArticles     int                  `json:"short_articles"`
	PairsEvaluated    int                  `json:"pairs_evaluated"`
	AlreadyNotified   int                  `json:"already_notified"`
	Candidates        int                  `json:"candidates"`
	Deferred          int                  `json:"deferred"`
	Delivered         int                  `json:"delivered"`
	PermanentFailures int                  `json:"permanent_failures"`
	TransientFailures int                  `json:"transient_failures"`
	InFlight          int                  `json:"in_flight"`
	Errors            int                  `json:"errors"`
	Duration          time.Duration        `json:"duration"`
	Preview           []dispatch.Candidate `json:"-"`
}

type Engine struct {
	store      Store
	ledger     Ledger
	dispatcher Dispatcher
	scanner    *textscan.Scanner
	scorer     *scoring.Scorer
	similarity semantic.Provider
	cfg        config.MatchConfig
	logger     zerolog.Logger
}

// NewEngine wires the engine. similarity may be nil, in which case only
// lexical evidence is scored.
func NewEngine(
	store Store,
	l Ledger,
	dispatcher Dispatcher,
	similarity semantic.Provider,
	cfg config.MatchConfig,
	logger zerolog.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("match config: %w", err)
	}
	scorer, err := scoring.NewScorer(cfg.SemanticThreshold)
	if err != nil {
		return nil, err
	}
	if !cfg.SemanticEnabled {
		similarity = nil
	}
	return &Engine{
		store:      store,
		ledger:     l,
		dispatcher: dispatcher,
		scanner:    textscan.New(textscan.Options{MinSentenceChars: cfg.MinSentenceChars}),
		scorer:     scorer,
		similarity: similarity,
		cfg:        cfg,
		logger:     logging.Component(logger, "match"),
	}, nil
}

type userKeyword struct {
	record  db.KeywordRecord
	aliases keyword.AliasSet
}

// RunTick executes one tick. It fails only when the candidate sets cannot be
// read at all; every per-pair failure is logged, counted and left for the next
// tick, since a pair without a dedup record stays eligible.
func (e *Engine) RunTick(ctx context.Context, opts Options) (TickStats, error) {
	started := time.Now()
	stats := TickStats{TickID: uuid.NewString()}
	log := e.logger.With().Str("tick_id", stats.TickID).Logger()

	lookback := opts.Lookback
	if lookback <= 0 {
		lookback = e.cfg.LookbackWindow
	}
	maxCandidates := opts.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = e.cfg.MaxCandidatesPerTick
	}
	maxArticles := opts.MaxArticles
	if maxArticles <= 0 {
		maxArticles = e.cfg.MaxArticlesPerTick
	}
	if maxArticles <= 0 {
		maxArticles = defaultMaxArticles
	}

	records, err := e.store.ListActiveKeywords(ctx, opts.KeywordIDs)
	if err != nil {
		return stats, fmt.Errorf("load active keywords: %w", err)
	}
	byUser := e.groupKeywords(records, log)
	stats.Keywords = len(records)
	stats.Users = len(byUser)
	if len(byUser) == 0 {
		stats.Duration = time.Since(started)
		return stats, nil
	}

	articles, err := e.store.ListRecentArticles(ctx, globaltime.Cutoff(lookback), maxArticles)
	if err != nil {
		return stats, fmt.Errorf("load recent articles: %w", err)
	}
	if len(articles) >= maxArticles {
		log.Warn().
			Int("limit", maxArticles).
			Dur("lookback", lookback).
			Msg("article cap reached; older articles in the lookback window are not matched this tick")
	}
	articles, stats.ShortArticles = e.dropShortArticles(articles)
	stats.Articles = len(articles)

	candidates, err := e.evaluate(ctx, byUser, articles, &stats, log)
	if err != nil {
		return stats, err
	}

	rankCandidates(candidates)
	if len(candidates) > maxCandidates {
		stats.Deferred = len(candidates) - maxCandidates
		candidates = candidates[:maxCandidates]
	}
	stats.Candidates = len(candidates)

	if opts.DryRun {
		stats.Preview = candidates
	} else if err := e.dispatchAll(ctx, candidates, &stats, log); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(started)
	log.Info().
		Int("keywords", stats.Keywords).
		Int("articles", stats.Articles).
		Int("short_articles", stats.ShortArticles).
		Int("pairs", stats.PairsEvaluated).
		Int("candidates", stats.Candidates).
		Int("deferred", stats.Deferred).
		Int("delivered", stats.Delivered).
		Int("transient", stats.TransientFailures).
		Int("permanent", stats.PermanentFailures).
		Int("errors", stats.Errors).
		Dur("duration", stats.Duration).
		Msg("match tick finished")
	return stats, nil
}

// MatchKeyword runs the immediate tick for a newly added keyword.
func (e *Engine) MatchKeyword(ctx context.Context, keywordID int64) error {
	_, err := e.RunTick(ctx, Options{
		KeywordIDs:    []int64{keywordID},
		Lookback:      ImmediateLookback,
		MaxCandidates: ImmediateMaxCandidates,
	})
	return err
}

// dropShortArticles removes articles whose body is too short to carry a
// meaningful match, such as teaser pages and failed extractions.
func (e *Engine) dropShortArticles(articles []db.ArticleRecord) ([]db.ArticleRecord, int) {
	if e.cfg.MinArticleChars <= 0 {
		return articles, 0
	}
	kept := articles[:0:0]
	for _, article := range articles {
		if utf8.RuneCountInString(strings.TrimSpace(article.Body)) < e.cfg.MinArticleChars {
			continue
		}
		kept = append(kept, article)
	}
	return kept, len(articles) - len(kept)
}

func (e *Engine) groupKeywords(records []db.KeywordRecord, log zerolog.Logger) map[int64][]userKeyword {
	byUser := make(map[int64][]userKeyword)
	for _, record := range records {
		set, err := keyword.NewAliasSet(record.Canonical, record.Aliases...)
		if err != nil {
			log.Warn().Err(err).Int64("keyword_id", record.KeywordID).Msg("skip keyword with unusable alias set")
			continue
		}
		byUser[record.UserID] = append(byUser[record.UserID], userKeyword{record: record, aliases: set})
	}
	for userID := range byUser {
		sort.Slice(byUser[userID], func(i, j int) bool {
			return byUser[userID][i].record.KeywordID < byUser[userID][j].record.KeywordID
		})
	}
	return byUser
}

// evaluate scores every open (user, article) pair with bounded concurrency.
func (e *Engine) evaluate(
	ctx context.Context,
	byUser map[int64][]userKeyword,
	articles []db.ArticleRecord,
	stats *TickStats,
	log zerolog.Logger,
) ([]dispatch.Candidate, error) {
	var (
		mu         sync.Mutex
		candidates []dispatch.Candidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ConcurrencyLimit)

users:
	for userID, keywords := range byUser {
		for i := range articles {
			if gctx.Err() != nil {
				break users
			}
			userID, keywords, article := userID, keywords, articles[i]
			g.Go(func() error {
				candidate, found, notified, err := e.evaluatePair(gctx, userID, keywords, article, stats.TickID)

				mu.Lock()
				defer mu.Unlock()
				stats.PairsEvaluated++
				switch {
				case err != nil:
					stats.Errors++
					log.Warn().
						Err(err).
						Int64("user_id", userID).
						Int64("article_id", article.ArticleID).
						Msg("pair skipped; retried next tick")
				case notified:
					stats.AlreadyNotified++
				case found:
					candidates = append(candidates, candidate)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("match tick interrupted: %w", err)
	}
	return candidates, nil
}

// evaluatePair returns the best candidate for one user and article. A panic in
// scanning or scoring is turned into an error for this pair only.
func (e *Engine) evaluatePair(
	ctx context.Context,
	userID int64,
	keywords []userKeyword,
	article db.ArticleRecord,
	tickID string,
) (best dispatch.Candidate, found bool, notified bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluate pair panicked: %v", r)
			found, notified = false, false
		}
	}()

	has, err := e.ledger.Has(ctx, userID, article.ArticleID)
	if err != nil {
		return dispatch.Candidate{}, false, false, fmt.Errorf("check ledger: %w", err)
	}
	if has {
		return dispatch.Candidate{}, false, true, nil
	}

	text := textscan.Article{
		Title:       article.Title,
		Description: article.Description,
		Body:        article.Body,
		Boilerplate: article.Boilerplate,
	}

	var firstErr error
	for _, kw := range keywords {
		candidate, ok, scoreErr := e.scoreKeyword(ctx, kw, article, text)
		if scoreErr != nil {
			if firstErr == nil {
				firstErr = scoreErr
			}
			continue
		}
		if !ok {
			continue
		}
		if !found || candidate.Score.Value > best.Score.Value {
			best, found = candidate, true
		}
		if best.Score.Value >= scoring.HeadlineScore {
			break
		}
	}
	if found {
		best.TickID = tickID
		return best, true, false, nil
	}
	return dispatch.Candidate{}, false, false, firstErr
}

func (e *Engine) scoreKeyword(ctx context.Context, kw userKeyword, article db.ArticleRecord, text textscan.Article) (dispatch.Candidate, bool, error) {
	var evidence *textscan.Evidence
	if ev, ok := e.scanner.Scan(text, kw.aliases); ok {
		evidence = &ev
	}

	var similarity *float64
	if evidence == nil && e.similarity != nil {
		value, ok, err := e.similarity.Similarity(ctx, kw.record.KeywordID, article.ArticleID)
		if err != nil {
			return dispatch.Candidate{}, false, fmt.Errorf("semantic similarity keyword_id=%d: %w", kw.record.KeywordID, err)
		}
		if ok {
			similarity = &value
		}
	}

	score, ok := e.scorer.Score(evidence, similarity)
	if !ok {
		return dispatch.Candidate{}, false, nil
	}
	return dispatch.Candidate{
		UserID:    kw.record.UserID,
		KeywordID: kw.record.KeywordID,
		ArticleID: article.ArticleID,
		Keyword:   kw.aliases.Canonical(),
		Score:     score,
		Evidence:  evidence,
		Article: dispatch.ArticleRef{
			Title:       article.Title,
			URL:         article.URL,
			SourceName:  article.SourceName,
			Description: article.Description,
		},
	}, true, nil
}

// rankCandidates puts the strongest matches first so a capped tick sends the
// most relevant notifications and defers the rest.
func rankCandidates(candidates []dispatch.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score.Value != b.Score.Value {
			return a.Score.Value > b.Score.Value
		}
		if a.ArticleID != b.ArticleID {
			return a.ArticleID > b.ArticleID
		}
		return a.UserID < b.UserID
	})
}

func (e *Engine) dispatchAll(ctx context.Context, candidates []dispatch.Candidate, stats *TickStats, log zerolog.Logger) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ConcurrencyLimit)

	for _, candidate := range candidates {
		if gctx.Err() != nil {
			break
		}
		candidate := candidate
		g.Go(func() error {
			result, err := e.dispatcher.Dispatch(gctx, candidate)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Errors++
				log.Warn().
					Err(err).
					Int64("user_id", candidate.UserID).
					Int64("article_id", candidate.ArticleID).
					Msg("dispatch failed; retried next tick")
				return nil
			}
			switch {
			case result.Skipped == dispatch.SkipInFlight:
				stats.InFlight++
			case result.Skipped == dispatch.SkipAlreadyNotified:
				stats.AlreadyNotified++
			case result.Outcome == ledger.OutcomeDelivered:
				stats.Delivered++
			case result.Outcome == ledger.OutcomePermanentFailure:
				stats.PermanentFailures++
			case result.Outcome == ledger.OutcomeTransientFailure:
				stats.TransientFailures++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("match tick interrupted: %w", err)
	}
	return nil
}
