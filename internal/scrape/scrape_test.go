package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

const homepageHTML = `<html><body>
<nav><a href="/siyaset/">Siyasət</a><a href="/iqtisadiyyat/">İqtisadiyyat</a></nav>
<main>
  <a href="/news/2026/10/254198.html">Şəki şəhərində yeni park açıldı</a>
  <a href="https://www.example.az/news/254199">Bakıda festival</a>
  <a href="/news/254198.html#comments">duplicate with fragment</a>
  <a href="https://other.az/news/1234">foreign host</a>
  <a href="/uploads/2026/photo.jpg">photo</a>
  <a href="/news/55555">cover.webp</a>
  <a href="mailto:info@example.az">mail</a>
  <a href="/">home</a>
  <a href="/n1">short</a>
</main>
</body></html>`

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func TestDiscoverLinks(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("https://example.az/")
	links := DiscoverLinks(mustDoc(t, homepageHTML), base, 20)

	want := []string{
		"https://example.az/news/2026/10/254198.html",
		"https://www.example.az/news/254199",
		"https://example.az/news/254198.html",
	}
	if strings.Join(links, "\n") != strings.Join(want, "\n") {
		t.Fatalf("links mismatch\nwant: %v\ngot:  %v", want, links)
	}
}

func TestDiscoverLinksRespectsCap(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("https://example.az/")
	links := DiscoverLinks(mustDoc(t, homepageHTML), base, 1)
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %v", links)
	}
}

func TestBoilerplateMarkers(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><body>
<header><a href="/">Xəbərlər portalı - ana səhifə</a></header>
<article><header><h1>Azerbaijan signs new trade deal</h1></header><p>Body text here.</p></article>
<aside><ul><li><a href="/n/1">Son xəbər: Azərbaycan yeni saziş imzaladı</a></li></ul></aside>
<footer><p>© 2026 Example.az. Bütün hüquqlar qorunur.</p><p>short</p></footer>
</body></html>`)

	markers := BoilerplateMarkers(doc)
	joined := strings.Join(markers, "|")
	for _, want := range []string{
		"Xəbərlər portalı - ana səhifə",
		"Son xəbər: Azərbaycan yeni saziş imzaladı",
		"© 2026 Example.az. Bütün hüquqlar qorunur.",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("marker %q missing from %v", want, markers)
		}
	}
	if strings.Contains(joined, "Azerbaijan signs new trade deal") {
		t.Fatalf("article header must not become a marker: %v", markers)
	}
	if strings.Contains(joined, "short") {
		t.Fatalf("short lines must not become markers: %v", markers)
	}
}

func TestIsJunkTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		title string
		want  bool
	}{
		{"Şəki şəhərində yeni park açıldı", false},
		{"IMG_2024.jpg", true},
		{"cover.WEBP", true},
		{"a3f9c1d2e4b5", true},
		{"a3f9c1d2e4b5.html", true},
		{"2026 budget approved", false},
		{"  ", true},
	}
	for _, tc := range tests {
		if got := IsJunkTitle(tc.title); got != tc.want {
			t.Fatalf("IsJunkTitle(%q) = %v, want %v", tc.title, got, tc.want)
		}
	}
}

func TestCategoryFromURL(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://azernews.az/nation/254198.html":      "Nation",
		"https://apa.az/en/business-news/article-one": "Business News",
		"https://example.az/254198.html":              "",
		"https://example.az/":                         "",
		"https://example.az/az/12345":                 "",
	}
	for raw, want := range tests {
		u, _ := url.Parse(raw)
		if got := CategoryFromURL(u); got != want {
			t.Fatalf("CategoryFromURL(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestDescriptionFromBody(t *testing.T) {
	t.Parallel()

	body := "# Heading\n\n[Link line](https://x.az)\n\nShort.\n\n" +
		"The **ministry** announced a [new programme](https://x.az/p) for regional parks on Monday morning."
	got := DescriptionFromBody(body)
	want := "The ministry announced a new programme for regional parks on Monday morning."
	if got != want {
		t.Fatalf("DescriptionFromBody = %q, want %q", got, want)
	}
}

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	t.Parallel()

	input := "  First   paragraph \n\n Second\tparagraph \r\n\r\nThird line "
	got := CleanText(input)
	want := "First paragraph\n\nSecond paragraph\n\nThird line"
	if got != want {
		t.Fatalf("CleanText mismatch\nwant: %q\ngot:  %q", want, got)
	}
}

func TestClientFetchAndExtract(t *testing.T) {
	t.Parallel()

	const articleHTML = `<html><head>
<title>Şəki şəhərində yeni park açıldı</title>
<meta name="description" content="Azərbaycan və dünyada baş verən hadisələr haqqında operativ xəbərləri fasiləsiz çatdırır">
<meta property="article:published_time" content="2026-10-18T09:30:00+04:00">
</head><body>
<nav><a href="/">Ana səhifə və bütün xəbərlər</a></nav>
<article>
<h1>Şəki şəhərində yeni park açıldı</h1>
<p>Şəki şəhərində bu gün yeni park istifadəyə verildi. Parkın ərazisi on hektardır və burada uşaq meydançaları, velosiped yolları və kiçik göl var.</p>
<p>Açılış mərasimində yerli sakinlər və qonaqlar iştirak etdilər. Parkın tikintisi iki il davam edib və layihə tamamilə yerli büdcədən maliyyələşdirilib.</p>
</article>
</body></html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	t.Cleanup(server.Close)

	client := NewClient(FetchOptions{})
	page, err := client.Fetch(context.Background(), server.URL+"/cemiyyet/254198.html")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	article, err := Extract(page)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if article.Title != "Şəki şəhərində yeni park açıldı" {
		t.Fatalf("title = %q", article.Title)
	}
	if !strings.Contains(article.Body, "yeni park istifadəyə verildi") {
		t.Fatalf("body missing article text: %q", article.Body)
	}
	if strings.Contains(strings.ToLower(article.Description), "operativ xəbərləri") {
		t.Fatalf("site-wide description was kept: %q", article.Description)
	}
	if article.Category != "Cemiyyet" {
		t.Fatalf("category = %q", article.Category)
	}
	if article.PublishedAt == nil || article.PublishedAt.Hour() != 5 {
		t.Fatalf("published at = %v", article.PublishedAt)
	}
	if len(article.Boilerplate) != 1 || article.Boilerplate[0] != "Ana səhifə və bütün xəbərlər" {
		t.Fatalf("boilerplate = %v", article.Boilerplate)
	}
}

func TestClientFetchRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(server.Close)

	if _, err := NewClient(FetchOptions{}).Fetch(context.Background(), server.URL); err == nil || !strings.Contains(err.Error(), "status 410") {
		t.Fatalf("expected status error, got %v", err)
	}
}
