package telegram

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"horse.fit/mediatrends/internal/db"
)

func escape(text string) string {
	return html.EscapeString(text)
}

func welcomeMessage(name string) string {
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👋 <b>Welcome to Media Trends Bot, %s!</b>\n\n", escape(name))
	b.WriteString("This bot tracks Azerbaijani news and notifies you when an article matches one of your keywords.\n\n")
	b.WriteString("<b>📋 Available Commands:</b>\n\n")
	b.WriteString(commandList())
	b.WriteString("\n<b>🚀 Quick Start:</b>\n")
	b.WriteString("1. Send /add_keyword YOUR_TOPIC to start tracking\n")
	b.WriteString("2. Get a notification when an article matches 🔔")
	return b.String()
}

func helpMessage() string {
	var b strings.Builder
	b.WriteString("📚 <b>Media Trends Bot - Help Guide</b>\n\n")
	b.WriteString(commandList())
	b.WriteString("\n<b>📖 How It Works:</b>\n\n")
	b.WriteString("Each keyword is translated into English, Azerbaijani, Turkish, Russian, Arabic, French and German, ")
	b.WriteString("and articles are matched on whole words in any of those languages. ")
	b.WriteString("/add_keyword Şəki matches articles about Şəki without false positives like 'şəkil' (picture).\n\n")
	b.WriteString("<b>💡 Tips:</b>\n")
	b.WriteString("• Prefer exact phrases, e.g. /add_keyword Baku city\n")
	b.WriteString("• Each article is sent to you at most once")
	return b.String()
}

func commandList() string {
	return "/add_keyword KEYWORD - Track a keyword\n" +
		"/remove_keyword KEYWORD - Stop tracking a keyword\n" +
		"/my_keywords - List your keywords\n" +
		"/latest_news - Matches sent in the last 24h\n" +
		"/help - Show the help guide\n"
}

func usageMessage(command string, examples ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ Please provide a keyword.\n\n<b>Usage:</b> /%s KEYWORD", command)
	if len(examples) > 0 {
		b.WriteString("\n\n<b>Examples:</b>")
		for _, example := range examples {
			fmt.Fprintf(&b, "\n• /%s %s", command, escape(example))
		}
	}
	return b.String()
}

func keywordAddedMessage(record db.KeywordRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ <b>Keyword Added!</b>\n\nKeyword: <b>%s</b>\n", escape(record.Canonical))
	if others := len(record.Aliases) - 1; others > 0 {
		fmt.Fprintf(&b, "🌐 Also matching %d translation(s): %s\n", others, escape(strings.Join(record.Aliases[1:], ", ")))
	}
	b.WriteString("\nView all: /my_keywords")
	return b.String()
}

func keywordListMessage(records []db.KeywordRecord) string {
	active := make([]db.KeywordRecord, 0, len(records))
	for _, record := range records {
		if record.Active {
			active = append(active, record)
		}
	}
	if len(active) == 0 {
		return "📋 <b>Your Keywords</b>\n\nYou haven't added any keywords yet.\n\n<b>Get started:</b>\n/add_keyword Şəki\n/add_keyword neft qiyməti"
	}
	sort.SliceStable(active, func(i, j int) bool {
		return strings.ToLower(active[i].Canonical) < strings.ToLower(active[j].Canonical)
	})

	var b strings.Builder
	b.WriteString("📋 <b>Your Keywords</b>\n\n")
	for i, record := range active {
		fmt.Fprintf(&b, "  %d. %s (🌐 %d langs)\n", i+1, escape(record.Canonical), len(record.Aliases))
	}
	fmt.Fprintf(&b, "\n<i>📊 Total: %d keyword(s)</i>", len(active))
	return b.String()
}

func latestNewsMessage(deliveries []db.DeliveryRecord) string {
	if len(deliveries) == 0 {
		return "📰 <b>Your Latest News</b>\n\nNo articles matched in the last 24 hours.\n\nCheck your keywords: /my_keywords"
	}
	var b strings.Builder
	b.WriteString("📰 <b>Your Latest News (last 24h)</b>\n")
	for i, d := range deliveries {
		kw := d.Keyword
		if kw == "" {
			kw = "—"
		}
		fmt.Fprintf(&b, "\n%d. <a href=\"%s\">%s</a>\n   🔑 %s | 📊 %.0f%%\n",
			i+1, escape(d.URL), escape(clip(d.Title, 80)), escape(kw), d.Score*100)
	}
	fmt.Fprintf(&b, "\n<i>Showing %d most recent matches</i>", len(deliveries))
	return b.String()
}
