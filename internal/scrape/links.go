package scrape

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMaxLinks caps how many articles one homepage visit may fetch.
const DefaultMaxLinks = 20

var (
	mediaLinkText = regexp.MustCompile(`(?i)\.(webp|jpe?g|png|gif|svg|avif|mp4|pdf)\b`)
	hasDigit      = regexp.MustCompile(`\d`)

	skippedExtensions = []string{
		".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp", ".avif", ".ico",
		".css", ".js", ".pdf", ".mp3", ".mp4", ".avi", ".mov", ".wmv",
		".zip", ".rar", ".exe", ".woff", ".woff2", ".ttf", ".eot",
	}
)

// DiscoverLinks returns article links found on a homepage, in document order.
// Only links on the homepage's own host (ignoring www.) whose path contains a
// digit are kept; section pages like /politics/ carry none, article pages
// almost always do.
func DiscoverLinks(doc *goquery.Document, base *url.URL, max int) []string {
	if doc == nil || base == nil {
		return nil
	}
	if max <= 0 {
		max = DefaultMaxLinks
	}
	baseHost := bareHost(base.Hostname())

	seen := map[string]struct{}{}
	links := make([]string, 0, max)
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if skipHref(href) || mediaLinkText.MatchString(a.Text()) {
			return true
		}

		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		link := base.ResolveReference(ref)
		if link.Scheme != "http" && link.Scheme != "https" {
			return true
		}
		if bareHost(link.Hostname()) != baseHost {
			return true
		}
		if link.Path == "" || link.Path == "/" || len(link.Path) < 5 || !hasDigit.MatchString(link.Path) {
			return true
		}

		link.Fragment = ""
		abs := link.String()
		if _, ok := seen[abs]; ok {
			return true
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
		return len(links) < max
	})
	return links
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "tel:") {
		return true
	}
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range skippedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func bareHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
