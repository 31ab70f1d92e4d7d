package scrape

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
)

const (
	maxTitleRunes       = 500
	maxDescriptionRunes = 1000
	maxAuthorRunes      = 200
	maxCategoryRunes    = 100
	minParagraphRunes   = 60
)

var (
	mediaFilenameTitle = regexp.MustCompile(`(?i)\.(webp|jpe?g|png|gif|svg|avif|mp4|pdf)$`)
	hashTitle          = regexp.MustCompile(`(?i)^[a-f0-9]{10,}(\.[a-z]{2,5})?$`)
	longDigitRun       = regexp.MustCompile(`\d{3,}`)
	markdownLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)

	// site-wide meta descriptions some outlets put on every page
	siteWideDescriptions = []string{
		"azərbaycan və dünyada baş verən hadisələr haqqında operativ xəbərləri fasiləsiz çatdırır",
		"xəbərlə bitmir, foto, video, peşəkar reportyor araşdırması",
		"müəllif layihələri və əyləncə",
		"dünya və yerli xəbərlərin tək ünvanı",
	}

	publishedMetaSelectors = []string{
		`meta[property="article:published_time"]`,
		`meta[name="pubdate"]`,
		`meta[name="publish-date"]`,
		`meta[itemprop="datePublished"]`,
		`time[datetime]`,
	}
)

// Article is one extracted news page.
type Article struct {
	URL         string
	Title       string
	Description string
	Body        string
	Boilerplate []string
	Category    string
	Author      string
	PublishedAt *time.Time
}

// Extract parses an article page. The body is the readability text of the
// main content; navigation and sidebar lines are returned separately as
// boilerplate markers.
func Extract(page Page) (Article, error) {
	if page.URL == nil {
		return Article{}, fmt.Errorf("page url is required")
	}

	if strings.HasPrefix(page.ContentType, "text/plain") {
		body := CleanText(string(page.Body))
		if body == "" {
			return Article{}, fmt.Errorf("page %s has no content", page.URL)
		}
		return Article{
			URL:   page.URL.String(),
			Title: firstLine(body),
			Body:  body,
		}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return Article{}, fmt.Errorf("parse html: %w", err)
	}

	parsed, err := readability.FromReader(bytes.NewReader(page.Body), page.URL)
	if err != nil {
		return Article{}, fmt.Errorf("readability parse: %w", err)
	}

	var rendered bytes.Buffer
	if err := parsed.RenderText(&rendered); err != nil {
		return Article{}, fmt.Errorf("render readability text: %w", err)
	}
	body := CleanText(rendered.String())
	if body == "" {
		body = CleanText(parsed.Excerpt())
	}

	title := CleanText(parsed.Title())
	if title == "" {
		title = CleanText(doc.Find("title").First().Text())
	}
	if title == "" {
		return Article{}, fmt.Errorf("page %s has no title", page.URL)
	}

	description := metaContent(doc, `meta[property="og:description"]`, `meta[name="description"]`)
	if description == "" {
		description = CleanText(parsed.Excerpt())
	}
	if isSiteWideDescription(description) || description == "" {
		description = DescriptionFromBody(body)
	}

	author := CleanText(parsed.Byline())
	if author == "" {
		author = metaContent(doc, `meta[name="author"]`, `meta[property="article:author"]`)
	}

	return Article{
		URL:         page.URL.String(),
		Title:       clipRunes(title, maxTitleRunes),
		Description: clipRunes(description, maxDescriptionRunes),
		Body:        body,
		Boilerplate: BoilerplateMarkers(doc),
		Category:    clipRunes(CategoryFromURL(page.URL), maxCategoryRunes),
		Author:      clipRunes(author, maxAuthorRunes),
		PublishedAt: publishedAt(doc),
	}, nil
}

// IsJunkTitle reports titles that are a media filename or a bare hash. Some
// homepages link straight to images, and readability falls back to the file
// name as the title.
func IsJunkTitle(title string) bool {
	title = strings.TrimSpace(title)
	return title == "" || mediaFilenameTitle.MatchString(title) || hashTitle.MatchString(title)
}

// CategoryFromURL reads the section from the first path segment, skipping
// language prefixes like /en/ and numeric ids.
func CategoryFromURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	var parts []string
	for _, part := range strings.Split(u.Path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	candidate := parts[0]
	if isDigits(candidate) || utf8.RuneCountInString(candidate) <= 2 {
		if len(parts) < 2 {
			return ""
		}
		candidate = parts[1]
	}
	if longDigitRun.MatchString(candidate) {
		return ""
	}
	candidate = strings.NewReplacer("-", " ", "_", " ").Replace(candidate)
	words := strings.Fields(candidate)
	for i, word := range words {
		runes := []rune(strings.ToLower(word))
		runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// DescriptionFromBody picks the first substantial paragraph of the body.
func DescriptionFromBody(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || utf8.RuneCountInString(line) <= minParagraphRunes {
			continue
		}
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") ||
			strings.HasPrefix(line, "!") || strings.HasPrefix(line, "*") ||
			strings.HasPrefix(line, "---") {
			continue
		}
		line = strings.ReplaceAll(line, "**", "")
		line = markdownLink.ReplaceAllString(line, "$1")
		return clipRunes(line, 500)
	}
	return ""
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

func isSiteWideDescription(description string) bool {
	lower := strings.ToLower(strings.TrimSpace(description))
	if lower == "" {
		return false
	}
	for _, phrase := range siteWideDescriptions {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		if value := CleanText(doc.Find(selector).First().AttrOr("content", "")); value != "" {
			return value
		}
	}
	return ""
}

func publishedAt(doc *goquery.Document) *time.Time {
	for _, selector := range publishedMetaSelectors {
		node := doc.Find(selector).First()
		raw := strings.TrimSpace(node.AttrOr("content", node.AttrOr("datetime", "")))
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				utc := ts.UTC()
				return &utc
			}
		}
	}
	return nil
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return clipRunes(strings.TrimSpace(text), maxTitleRunes)
}

func clipRunes(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return strings.TrimSpace(string([]rune(text)[:n]))
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
