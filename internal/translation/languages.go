package translation

import (
	"strings"

	"horse.fit/mediatrends/internal/language"
)

var languageNames = map[string]string{
	"ar": "Arabic",
	"az": "Azerbaijani",
	"de": "German",
	"en": "English",
	"es": "Spanish",
	"fa": "Persian",
	"fr": "French",
	"it": "Italian",
	"ka": "Georgian",
	"kk": "Kazakh",
	"ru": "Russian",
	"tr": "Turkish",
	"uk": "Ukrainian",
}

// LanguageName returns the English name of a language code, or the upper-cased
// code when it has no entry.
func LanguageName(code string) string {
	if name, ok := languageNames[languageCode(code)]; ok {
		return name
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

func languageCode(raw string) string {
	return language.NormalizeCode(raw)
}
