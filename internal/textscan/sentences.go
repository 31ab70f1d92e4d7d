package textscan

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitSentences breaks one line after '.', '!', '?' or '…' when whitespace
// follows. Abbreviations are not special-cased.
func SplitSentences(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	out := make([]string, 0, 4)
	start := 0
	for i, r := range line {
		if !isTerminator(r) {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next >= len(line) {
			break
		}
		following, _ := utf8.DecodeRuneInString(line[next:])
		if !unicode.IsSpace(following) {
			continue
		}
		if sentence := strings.TrimSpace(line[start:next]); sentence != "" {
			out = append(out, sentence)
		}
		start = next
	}
	if tail := strings.TrimSpace(line[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// Clip shortens text to at most n runes.
func Clip(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:n]))
}
