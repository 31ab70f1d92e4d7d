package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/db"
	"horse.fit/mediatrends/internal/globaltime"
	"horse.fit/mediatrends/internal/scrape"
)

type stubStore struct {
	mu        sync.Mutex
	nextID    int64
	articles  map[string]db.InsertArticleParams
	sources   []db.SourceRecord
	sourceIDs map[string]int64
	scraped   map[int64]int
	failed    map[int64]string
}

func newStubStore() *stubStore {
	return &stubStore{
		articles:  map[string]db.InsertArticleParams{},
		sourceIDs: map[string]int64{},
		scraped:   map[int64]int{},
		failed:    map[int64]string{},
	}
}

func (s *stubStore) InsertArticle(_ context.Context, params db.InsertArticleParams) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[params.URL]; ok {
		return 0, false, nil
	}
	s.nextID++
	s.articles[params.URL] = params
	return s.nextID, true, nil
}

func (s *stubStore) ArticleExistsByURL(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.articles[url]
	return ok, nil
}

func (s *stubStore) SourceIDByURL(_ context.Context, url string) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sourceIDs[url]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (s *stubStore) ListDueSources(_ context.Context, _ time.Time) ([]db.SourceRecord, error) {
	return s.sources, nil
}

func (s *stubStore) MarkSourceScraped(_ context.Context, sourceID int64, newArticles int, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scraped[sourceID] = newArticles
	return nil
}

func (s *stubStore) MarkSourceFailed(_ context.Context, sourceID int64, scrapeErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[sourceID] = scrapeErr.Error()
	return nil
}

type stubFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL string) (scrape.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	body, ok := f.pages[rawURL]
	if !ok {
		return scrape.Page{}, fmt.Errorf("fetch %s status 404", rawURL)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return scrape.Page{}, err
	}
	return scrape.Page{URL: parsed, ContentType: "text/html; charset=utf-8", Body: []byte(body)}, nil
}

func (f *stubFetcher) count(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.fetched {
		if u == rawURL {
			n++
		}
	}
	return n
}

type fixedDetector string

func (d fixedDetector) DetectISO6391(string) string { return string(d) }

func TestInsertCanonicalizesAndDetectsLanguage(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	service := NewService(store, nil, fixedDetector("az"), zerolog.Nop())

	result, err := service.Insert(context.Background(), Article{
		URL:   "https://Example.az/news/1/?utm_source=x",
		Title: "  Şəki   şəhərində yeni park ",
		Body:  "Park açıldı.",
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !result.Inserted || result.URL != "https://example.az/news/1" || result.Language != "az" {
		t.Fatalf("unexpected result %+v", result)
	}
	stored := store.articles["https://example.az/news/1"]
	if stored.Title != "Şəki şəhərində yeni park" {
		t.Fatalf("title = %q", stored.Title)
	}

	again, err := service.Insert(context.Background(), Article{URL: "https://example.az/news/1#comments", Title: "Other"})
	if err != nil {
		t.Fatalf("Insert duplicate: %v", err)
	}
	if again.Inserted {
		t.Fatalf("duplicate url must not insert")
	}
	if store.articles["https://example.az/news/1"].Title != "Şəki şəhərində yeni park" {
		t.Fatalf("duplicate overwrote stored article")
	}
}

func TestInsertLanguageFallbacks(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	declared := NewService(store, nil, fixedDetector("az"), zerolog.Nop())
	result, err := declared.Insert(context.Background(), Article{URL: "https://example.az/1", Title: "Title", Language: "en-US"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if result.Language != "en" {
		t.Fatalf("declared language = %q", result.Language)
	}

	undetected := NewService(store, nil, fixedDetector(""), zerolog.Nop())
	result, err = undetected.Insert(context.Background(), Article{URL: "https://example.az/2", Title: "Title"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if result.Language != "und" {
		t.Fatalf("undetected language = %q", result.Language)
	}
}

func TestInsertRejectsMissingTitle(t *testing.T) {
	t.Parallel()

	service := NewService(newStubStore(), nil, nil, zerolog.Nop())
	if _, err := service.Insert(context.Background(), Article{URL: "https://example.az/1", Title: "   "}); err == nil {
		t.Fatalf("expected title error")
	}
}

func TestIngestPayloadConvertsHTMLAndResolvesSource(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	store.sourceIDs["https://example.az"] = 7
	service := NewService(store, nil, nil, zerolog.Nop())

	raw := json.RawMessage(`{
		"payload_version": "v1",
		"url": "https://example.az/news/42",
		"title": "SOCAR yeni yatağı açıqladı",
		"body_html": "<p>First <strong>paragraph</strong>.</p><p>Second paragraph.</p>",
		"source_url": "https://example.az",
		"language": "az",
		"published_at": "2026-10-18T09:30:00+04:00"
	}`)
	result, err := service.IngestPayload(context.Background(), raw)
	if err != nil {
		t.Fatalf("IngestPayload: %v", err)
	}
	if !result.Inserted {
		t.Fatalf("expected insert, got %+v", result)
	}

	stored := store.articles["https://example.az/news/42"]
	if stored.SourceID == nil || *stored.SourceID != 7 {
		t.Fatalf("source id = %v", stored.SourceID)
	}
	if !strings.Contains(stored.Body, "First **paragraph**.") || !strings.Contains(stored.Body, "Second paragraph.") {
		t.Fatalf("body was not converted to markdown: %q", stored.Body)
	}
	if strings.Contains(stored.Body, "<p>") {
		t.Fatalf("html left in body: %q", stored.Body)
	}
	if stored.PublishedAt == nil || stored.PublishedAt.Hour() != 5 {
		t.Fatalf("published at = %v", stored.PublishedAt)
	}
}

func TestIngestPayloadRejectsInvalid(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	service := NewService(store, nil, nil, zerolog.Nop())
	_, err := service.IngestPayload(context.Background(), json.RawMessage(`{"payload_version":"v1","url":"https://example.az/1"}`))
	if err == nil || !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected schema error, got %v", err)
	}
	if len(store.articles) != 0 {
		t.Fatalf("invalid payload was stored")
	}
}

const stubHomepage = `<html><body><main>
<a href="/news/2026/101.html">Park</a>
<a href="/news/2026/102.html">Festival</a>
<a href="/news/2026/103.html">Old</a>
<a href="/news/2026/104.html">Broken</a>
<a href="/uploads/2026/photo105">cover.webp</a>
</main></body></html>`

func articlePage(title, paragraph string) string {
	return `<html><head><title>` + title + `</title></head><body><article><h1>` + title + `</h1>
<p>` + paragraph + `</p>
<p>` + paragraph + ` Bu barədə yerli icra hakimiyyətindən məlumat verilib və sakinlər tədbirdə iştirak ediblər.</p>
</article></body></html>`
}

func TestScrapeDueStoresNewArticles(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	t.Cleanup(globaltime.ResetTime)

	store := newStubStore()
	store.sources = []db.SourceRecord{
		{SourceID: 1, Name: "Example", URL: "https://example.az/"},
		{SourceID: 2, Name: "Down", URL: "https://down.az/"},
	}
	store.articles["https://example.az/news/2026/103.html"] = db.InsertArticleParams{Title: "Old"}

	fetcher := &stubFetcher{pages: map[string]string{
		"https://example.az/": stubHomepage,
		"https://example.az/news/2026/101.html": articlePage("Şəki şəhərində yeni park açıldı",
			"Şəki şəhərində bu gün yeni park istifadəyə verildi və parkın ərazisi on hektardır."),
		"https://example.az/news/2026/102.html": articlePage("a3f9c1d2e4b5f6",
			"Bakıda beynəlxalq musiqi festivalı başladı və festival üç gün davam edəcək."),
	}}
	service := NewService(store, fetcher, fixedDetector("az"), zerolog.Nop())

	result, err := service.ScrapeDue(context.Background(), ScrapeOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("ScrapeDue: %v", err)
	}

	if result.Sources != 2 || result.FailedSources != 1 {
		t.Fatalf("unexpected source counts %+v", result)
	}
	if result.LinksSeen != 4 || result.Inserted != 1 || result.Existing != 1 || result.Rejected != 1 || result.ArticleErrors != 1 {
		t.Fatalf("unexpected article counts %+v", result)
	}

	stored, ok := store.articles["https://example.az/news/2026/101.html"]
	if !ok {
		t.Fatalf("new article not stored: %v", store.articles)
	}
	if stored.SourceID == nil || *stored.SourceID != 1 || stored.Language != "az" || stored.Category != "News" {
		t.Fatalf("unexpected stored article %+v", stored)
	}
	if fetcher.count("https://example.az/news/2026/103.html") != 0 {
		t.Fatalf("existing article was fetched again")
	}
	if store.scraped[1] != 1 {
		t.Fatalf("source 1 scraped count = %d", store.scraped[1])
	}
	if !strings.Contains(store.failed[2], "status 404") {
		t.Fatalf("source 2 failure = %q", store.failed[2])
	}
}

func TestScrapeDueRequiresFetcher(t *testing.T) {
	t.Parallel()

	service := NewService(newStubStore(), nil, nil, zerolog.Nop())
	if _, err := service.ScrapeDue(context.Background(), ScrapeOptions{}); err == nil {
		t.Fatalf("expected missing fetcher error")
	}
}

func TestScrapeSourceReportsHomepageFailure(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	service := NewService(store, &stubFetcher{pages: map[string]string{}}, nil, zerolog.Nop())
	_, err := service.ScrapeSource(context.Background(), db.SourceRecord{SourceID: 3, URL: "https://gone.az/"}, 5)
	if err == nil {
		t.Fatalf("expected homepage error")
	}
	if _, ok := store.failed[3]; !ok {
		t.Fatalf("source was not marked failed")
	}
}
