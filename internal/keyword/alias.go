package keyword

import (
	"errors"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyKeyword is returned when the canonical text is blank.
var ErrEmptyKeyword = errors.New("keyword is empty")

// AliasSet is a canonical keyword plus the surface forms that count as the same
// keyword. The canonical text is always a member.
type AliasSet struct {
	canonical string
	aliases   []string
}

// NewAliasSet builds a set from a canonical keyword and its variants. Blank
// variants and variants that fold to an existing member are dropped. The
// canonical form comes first, the rest are sorted.
func NewAliasSet(canonical string, aliases ...string) (AliasSet, error) {
	canonical = Clean(canonical)
	if canonical == "" {
		return AliasSet{}, ErrEmptyKeyword
	}

	seen := map[string]struct{}{Fold(canonical): {}}
	rest := make([]string, 0, len(aliases))
	for _, alias := range aliases {
		alias = Clean(alias)
		if alias == "" {
			continue
		}
		key := Fold(alias)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		rest = append(rest, alias)
	}
	sort.Strings(rest)

	return AliasSet{
		canonical: canonical,
		aliases:   append([]string{canonical}, rest...),
	}, nil
}

func (s AliasSet) Canonical() string {
	return s.canonical
}

// Aliases returns a copy of every member, canonical first.
func (s AliasSet) Aliases() []string {
	out := make([]string, len(s.aliases))
	copy(out, s.aliases)
	return out
}

func (s AliasSet) Len() int {
	return len(s.aliases)
}

func (s AliasSet) IsZero() bool {
	return s.canonical == ""
}

// Contains reports whether text folds to a member of the set.
func (s AliasSet) Contains(text string) bool {
	key := Fold(text)
	if key == "" {
		return false
	}
	for _, alias := range s.aliases {
		if Fold(alias) == key {
			return true
		}
	}
	return false
}

// Clean NFC-normalizes text and collapses runs of whitespace.
func Clean(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// Fold is the comparison key for aliases: cleaned and lowercased rune by rune.
// Diacritics are kept, so "şəki" and "seki" stay distinct.
func Fold(text string) string {
	return strings.ToLower(Clean(text))
}
