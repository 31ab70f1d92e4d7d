// Package ingest stores articles: pushed JSON payloads and pages collected
// by the scrape stage go through the same URL-unique insert.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/language"
	"horse.fit/mediatrends/internal/logging"
	"horse.fit/mediatrends/internal/schema"
)

const (
	maxTitleRunes       = 500
	maxDescriptionRunes = 1000
	detectSampleRunes   = 2000
	unknownLanguage     = "und"
)

// ErrInvalidArticle marks input problems: a payload that fails validation,
// an unusable URL or a missing title.
var ErrInvalidArticle = errors.New("invalid article")

type Store interface {
	InsertArticle(ctx context.Context, params db.InsertArticleParams) (int64, bool, error)
	ArticleExistsByURL(ctx context.Context, url string) (bool, error)
	SourceIDByURL(ctx context.Context, url string) (*int64, error)
	ListDueSources(ctx context.Context, now time.Time) ([]db.SourceRecord, error)
	MarkSourceScraped(ctx context.Context, sourceID int64, newArticles int, at time.Time) error
	MarkSourceFailed(ctx context.Context, sourceID int64, scrapeErr error) error
}

type LanguageDetector interface {
	DetectISO6391(text string) string
}

type Service struct {
	store     Store
	fetcher   Fetcher
	detector  LanguageDetector
	converter *md.Converter
	logger    zerolog.Logger
}

// Article is one article ready to be stored.
type Article struct {
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

type Result struct {
	ArticleID int64  `json:"article_id,omitempty"`
	URL       string `json:"url"`
	Inserted  bool   `json:"inserted"`
	Language  string `json:"language"`
}

// NewService wires ingestion. fetcher is only needed by the scrape stage and
// detector may be nil, in which case articles without a language are stored
// as "und".
func NewService(store Store, fetcher Fetcher, detector LanguageDetector, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		fetcher:   fetcher,
		detector:  detector,
		converter: md.NewConverter("", true, nil),
		logger:    logging.Component(logger, "ingest"),
	}
}

// Insert stores an article under its canonical URL. An article whose URL is
// already stored is left untouched and reported with Inserted=false.
func (s *Service) Insert(ctx context.Context, article Article) (Result, error) {
	if s == nil || s.store == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}

	canonical, err := CanonicalURL(article.URL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidArticle, err)
	}
	title := collapse(article.Title)
	if title == "" {
		return Result{}, fmt.Errorf("%w: %s has no title", ErrInvalidArticle, canonical)
	}
	body := strings.TrimSpace(article.Body)
	lang := s.resolveLanguage(article.Language, title, body)

	articleID, inserted, err := s.store.InsertArticle(ctx, db.InsertArticleParams{
		SourceID:    article.SourceID,
		URL:         canonical,
		Title:       clip(title, maxTitleRunes),
		Description: clip(collapse(article.Description), maxDescriptionRunes),
		Body:        body,
		Boilerplate: article.Boilerplate,
		Category:    article.Category,
		Author:      article.Author,
		Language:    lang,
		PublishedAt: article.PublishedAt,
	})
	if err != nil {
		return Result{}, err
	}

	s.logger.Debug().
		Str("url", canonical).
		Bool("inserted", inserted).
		Str("language", lang).
		Msg("article stored")
	return Result{ArticleID: articleID, URL: canonical, Inserted: inserted, Language: lang}, nil
}

// IngestPayload validates a JSON article payload and stores it. HTML bodies
// are converted to markdown so the matcher sees the same line structure as
// scraped pages.
func (s *Service) IngestPayload(ctx context.Context, raw json.RawMessage) (Result, error) {
	payload, err := schema.ValidateArticlePayload(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidArticle, err)
	}

	body := payload.Body
	if strings.TrimSpace(payload.BodyHTML) != "" {
		body, err = s.converter.ConvertString(payload.BodyHTML)
		if err != nil {
			return Result{}, fmt.Errorf("%w: convert body_html: %v", ErrInvalidArticle, err)
		}
	}

	var sourceID *int64
	if payload.SourceURL != "" {
		sourceID, err = s.store.SourceIDByURL(ctx, payload.SourceURL)
		if err != nil {
			return Result{}, err
		}
	}

	return s.Insert(ctx, Article{
		SourceID:    sourceID,
		URL:         payload.URL,
		Title:       payload.Title,
		Description: payload.Description,
		Body:        body,
		Boilerplate: payload.Boilerplate,
		Category:    payload.Category,
		Author:      payload.Author,
		Language:    payload.Language,
		PublishedAt: payload.PublishedTime(),
	})
}

func (s *Service) resolveLanguage(declared, title, body string) string {
	if code := language.NormalizeCode(declared); code != "" {
		return code
	}
	if s.detector == nil {
		return unknownLanguage
	}
	sample := title
	if body != "" {
		sample += "\n" + clip(body, detectSampleRunes)
	}
	if code := language.NormalizeCode(s.detector.DetectISO6391(sample)); code != "" {
		return code
	}
	return unknownLanguage
}

func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func clip(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:n]))
}
