package scrape

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	minMarkerRunes = 12
	maxMarkers     = 200
)

// chromeSelectors select page furniture that repeats on every page of a site.
var chromeSelectors = strings.Join([]string{
	"nav",
	"header",
	"footer",
	"aside",
	"[role=navigation]",
	"[role=banner]",
	"[role=contentinfo]",
	"[role=complementary]",
	".sidebar",
	".related",
	".breadcrumb",
	".menu",
}, ", ")

// BoilerplateMarkers collects the text lines of a page's navigation, header,
// footer and sidebars. The matcher drops article lines that start with one of
// them, so a keyword that only appears in a "latest news" box never counts as
// a body hit.
func BoilerplateMarkers(doc *goquery.Document) []string {
	if doc == nil {
		return nil
	}

	seen := map[string]struct{}{}
	markers := make([]string, 0, 32)
	doc.Find(chromeSelectors).Each(func(_ int, s *goquery.Selection) {
		if len(markers) >= maxMarkers || s.Closest("article").Length() > 0 {
			return
		}
		s.Find("a, li, p, h1, h2, h3, h4, span").Each(func(_ int, node *goquery.Selection) {
			if len(markers) >= maxMarkers {
				return
			}
			text := strings.Join(strings.Fields(node.Text()), " ")
			if utf8.RuneCountInString(text) < minMarkerRunes {
				return
			}
			key := strings.ToLower(text)
			if _, ok := seen[key]; ok {
				return
			}
			seen[key] = struct{}{}
			markers = append(markers, text)
		})
	})
	return markers
}
