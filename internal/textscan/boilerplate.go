package textscan

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"horse.fit/mediatrends/internal/keyword"
)

// linkDominanceRatio is the share of a line a single markdown link may cover
// before the line counts as a navigation teaser.
const linkDominanceRatio = 0.7

var (
	linkHeadingPattern = regexp.MustCompile(`^#{1,6}\s*\[.+\]\(https?://.+\)`)
	markdownLinkRe     = regexp.MustCompile(`\[([^\]]+)\]\(https?://[^)]+\)`)
	sidebarLabelRe     = regexp.MustCompile(`^[A-ZÇĞİÖŞÜƏА-ЯЁ][a-zA-ZçğıöşüəÇĞİÖŞÜƏа-яА-ЯёЁ\-]+\s+\d{1,2}:\d{2}$`)

	footerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*ünvan\s*:`),
		regexp.MustCompile(`(?i)^\s*(tel|fax|telefon|e-?mail|əlaqə)\s*:`),
		regexp.MustCompile(`(?i)(?:©|\(c\)|copyright)`),
		regexp.MustCompile(`(?i)all\s+rights\s+reserved|bütün\s+hüquqlar`),
		regexp.MustCompile(`(?i)saytdakı\s+materiallardan`),
		regexp.MustCompile(`(?i)xəbərlərdən\s+istifadə\s+edərkən`),
		regexp.MustCompile(`(?i)istinad\s+mütləqdir`),
		regexp.MustCompile(`(?i)məlumat\s+üçün.*redaksiya`),
		regexp.MustCompile(`(?i)(powered|developed|designed)\s+by`),
		regexp.MustCompile(`(?i)bizi\s+(izləyin|sosial)`),
	}
)

// ContentLines splits body into trimmed lines and drops everything that is page
// chrome rather than article text: lines named by the extractor's boilerplate
// markers and lines that look like navigation, sidebars or footers.
func ContentLines(body string, markers []string) []string {
	folded := foldMarkers(markers)
	raw := strings.Split(body, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if matchesMarker(line, folded) || IsBoilerplateLine(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// IsBoilerplateLine reports whether a trimmed line is navigation, a related
// article teaser, a sidebar label or footer text.
func IsBoilerplateLine(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case '[', '!', '*':
		return true
	}
	if linkHeadingPattern.MatchString(line) {
		return true
	}
	if loc := markdownLinkRe.FindStringIndex(line); loc != nil {
		linkLen := utf8.RuneCountInString(line[loc[0]:loc[1]])
		if float64(linkLen) > linkDominanceRatio*float64(utf8.RuneCountInString(line)) {
			return true
		}
	}
	if sidebarLabelRe.MatchString(line) {
		return true
	}
	for _, pattern := range footerPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

func foldMarkers(markers []string) []string {
	out := make([]string, 0, len(markers))
	for _, marker := range markers {
		if folded := keyword.Fold(marker); folded != "" {
			out = append(out, folded)
		}
	}
	return out
}

// matchesMarker strips a line equal to a marker or starting with one.
func matchesMarker(line string, folded []string) bool {
	if len(folded) == 0 {
		return false
	}
	key := keyword.Fold(line)
	for _, marker := range folded {
		if strings.HasPrefix(key, marker) {
			return true
		}
	}
	return false
}
