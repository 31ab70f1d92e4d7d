// Package textscan finds whole-word keyword occurrences in article text.
//
// Matching works on NFC-normalized runes lowercased one at a time, so offsets
// never drift and letters outside ASCII count as word characters. A hit must
// sit between non-word runes or the edges of the text.
package textscan

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"horse.fit/mediatrends/internal/keyword"
)

// Tier ranks where a hit was found.
type Tier string

const (
	// TierHeadline covers the title and description.
	TierHeadline Tier = "A"
	// TierBody covers sentences of the cleaned body.
	TierBody Tier = "B"
)

type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldBody        Field = "body"
)

// DefaultSnippetRunes bounds the evidence text carried into notifications.
const DefaultSnippetRunes = 200

// Article is the text the scanner reads. Boilerplate holds extractor-provided
// markers for navigation, footer and related-article lines.
type Article struct {
	Title       string
	Description string
	Body        string
	Boilerplate []string
}

// Evidence describes the first hit. Snippet is the matching sentence for body
// hits and the matching field text for headline hits.
type Evidence struct {
	Tier    Tier   `json:"tier"`
	Field   Field  `json:"field"`
	Alias   string `json:"alias"`
	Snippet string `json:"snippet"`
}

type Options struct {
	// MinSentenceChars skips body sentences shorter than this many runes.
	MinSentenceChars int
	SnippetRunes     int
}

type Scanner struct {
	minSentence  int
	snippetRunes int
}

func New(opts Options) *Scanner {
	snippet := opts.SnippetRunes
	if snippet <= 0 {
		snippet = DefaultSnippetRunes
	}
	minSentence := opts.MinSentenceChars
	if minSentence < 0 {
		minSentence = 0
	}
	return &Scanner{minSentence: minSentence, snippetRunes: snippet}
}

// Scan tries the headline fields first and only then the body, sentence by
// sentence, returning the first sentence that contains any alias. Empty text
// or an empty alias set is simply no match.
func (s *Scanner) Scan(article Article, aliases keyword.AliasSet) (Evidence, bool) {
	needles := compileAliases(aliases)
	if len(needles) == 0 {
		return Evidence{}, false
	}

	headline := []struct {
		field Field
		text  string
	}{
		{FieldTitle, article.Title},
		{FieldDescription, article.Description},
	}
	for _, candidate := range headline {
		if alias, ok := findAny(candidate.text, needles); ok {
			return Evidence{
				Tier:    TierHeadline,
				Field:   candidate.field,
				Alias:   alias,
				Snippet: Clip(strings.TrimSpace(candidate.text), s.snippetRunes),
			}, true
		}
	}

	for _, line := range ContentLines(article.Body, article.Boilerplate) {
		for _, sentence := range SplitSentences(line) {
			if s.minSentence > 0 && len([]rune(sentence)) < s.minSentence {
				continue
			}
			if alias, ok := findAny(sentence, needles); ok {
				return Evidence{
					Tier:    TierBody,
					Field:   FieldBody,
					Alias:   alias,
					Snippet: Clip(sentence, s.snippetRunes),
				}, true
			}
		}
	}
	return Evidence{}, false
}

// ContainsWord reports whether term occurs in text as a whole word.
func ContainsWord(text, term string) bool {
	needle := []rune(keyword.Fold(term))
	if len(needle) == 0 {
		return false
	}
	return indexWord(normalize(text), needle) >= 0
}

type needle struct {
	alias string
	runes []rune
}

func compileAliases(aliases keyword.AliasSet) []needle {
	members := aliases.Aliases()
	out := make([]needle, 0, len(members))
	for _, alias := range members {
		runes := []rune(keyword.Fold(alias))
		if len(runes) == 0 {
			continue
		}
		out = append(out, needle{alias: alias, runes: runes})
	}
	return out
}

// findAny checks aliases in set order so the canonical form wins ties.
func findAny(text string, needles []needle) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	haystack := normalize(text)
	for _, n := range needles {
		if indexWord(haystack, n.runes) >= 0 {
			return n.alias, true
		}
	}
	return "", false
}

// normalize mirrors keyword.Fold on free text: NFC, per-rune lowercase and
// whitespace runs collapsed to one space.
func normalize(text string) []rune {
	composed := norm.NFC.String(text)
	out := make([]rune, 0, len(composed))
	space := false
	for _, r := range composed {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && len(out) > 0 {
			out = append(out, ' ')
		}
		space = false
		out = append(out, unicode.ToLower(r))
	}
	return out
}

func indexWord(haystack, needle []rune) int {
	n := len(needle)
	for i := 0; i+n <= len(haystack); i++ {
		if !equalRunes(haystack[i:i+n], needle) {
			continue
		}
		if i > 0 && isWordRune(haystack[i-1]) {
			continue
		}
		if end := i + n; end < len(haystack) && isWordRune(haystack[end]) {
			continue
		}
		return i
	}
	return -1
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}
