package telegram

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"horse.fit/mediatrends/internal/dispatch"
)

const (
	previewRunes  = 200
	evidenceRunes = 300
)

// FormatMessage renders the notification as Telegram HTML.
func FormatMessage(p dispatch.Payload) string {
	var b strings.Builder

	b.WriteString("🔔 <b>New Article Match!</b>\n\n")
	fmt.Fprintf(&b, "📰 <b>%s</b>\n\n", html.EscapeString(p.Title))
	fmt.Fprintf(&b, "🔑 Keyword: <b>%s</b>\n", html.EscapeString(p.Keyword))
	fmt.Fprintf(&b, "📊 Score: <b>%.0f%%</b>\n", p.Score*100)
	fmt.Fprintf(&b, "🏷 Match type: %s\n", matchType(p))
	if p.SourceName != "" {
		fmt.Fprintf(&b, "📅 Source: %s\n", html.EscapeString(p.SourceName))
	}
	b.WriteString("\n")

	if evidence := evidenceLine(p); evidence != "" {
		fmt.Fprintf(&b, "🔍 <b>Why this matched:</b>\n<i>%s</i>\n\n", html.EscapeString(clip(evidence, evidenceRunes)))
	}
	if preview := strings.TrimSpace(p.Description); preview != "" {
		fmt.Fprintf(&b, "📝 %s\n\n", html.EscapeString(clip(preview, previewRunes)))
	}
	fmt.Fprintf(&b, "🔗 <a href=\"%s\">Read full article</a>", html.EscapeString(p.URL))
	return b.String()
}

func matchType(p dispatch.Payload) string {
	if p.Kind == "semantic" {
		return "🔎 Semantic match"
	}
	if p.Field == "body" {
		return "✅ Text match (content)"
	}
	return "✅ Text match (" + p.Field + ")"
}

func evidenceLine(p dispatch.Payload) string {
	if p.Snippet == "" {
		return ""
	}
	if p.MatchedAlias == "" {
		return p.Snippet
	}
	label := "exact"
	if !strings.EqualFold(p.MatchedAlias, p.Keyword) {
		label = fmt.Sprintf("translation %q", p.MatchedAlias)
	}
	return fmt.Sprintf("Found %q (%s) in %s: %s", p.MatchedAlias, label, p.Field, p.Snippet)
}

func clip(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "…"
}
