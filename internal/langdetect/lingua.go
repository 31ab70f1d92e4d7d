package langdetect

import (
	"strings"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minLetters is the shortest sample worth sending to the detector.
const minLetters = 6

// Detector wraps one lingua model set. Build it once at startup and share it;
// loading the models is the expensive part.
type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector over the given languages, or every language when none
// are given.
func New(languages ...lingua.Language) *Detector {
	var builder lingua.LanguageDetectorBuilder
	if len(languages) >= 2 {
		builder = lingua.NewLanguageDetectorBuilder().FromLanguages(languages...)
	} else {
		builder = lingua.NewLanguageDetectorBuilder().FromAllLanguages()
	}
	return &Detector{detector: builder.WithPreloadedLanguageModels().Build()}
}

// NewRegional covers the languages the monitored outlets publish in.
func NewRegional() *Detector {
	return New(
		lingua.Azerbaijani,
		lingua.English,
		lingua.Turkish,
		lingua.Russian,
		lingua.Arabic,
		lingua.French,
		lingua.German,
		lingua.Persian,
		lingua.Georgian,
		lingua.Kazakh,
		lingua.Ukrainian,
	)
}

// DetectISO6391 returns a lowercase ISO 639-1 code, or "" when the sample is too
// short or ambiguous.
func (d *Detector) DetectISO6391(text string) string {
	if d == nil || d.detector == nil {
		return ""
	}
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := d.detector.DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}
