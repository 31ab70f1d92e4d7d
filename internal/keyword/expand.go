package keyword

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/logging"
	"horse.fit/mediatrends/internal/translation"
)

// DefaultTargets are the languages aliases are generated in.
var DefaultTargets = []string{"en", "az", "tr", "ru", "ar", "fr", "de"}

const (
	defaultTranslateTimeout = 20 * time.Second
	maxAliasRunes           = 80
)

// LanguageDetector guesses the language of the canonical keyword.
type LanguageDetector interface {
	DetectISO6391(text string) string
}

type ExpanderOptions struct {
	Targets  []string
	Timeout  time.Duration
	Detector LanguageDetector
}

// Expander turns a canonical keyword into an AliasSet through a translation
// provider. It is called once when a keyword is created or explicitly
// refreshed, never during matching.
type Expander struct {
	provider translation.Provider
	targets  []string
	timeout  time.Duration
	detector LanguageDetector
	logger   zerolog.Logger
}

func NewExpander(provider translation.Provider, logger zerolog.Logger, opts ExpanderOptions) *Expander {
	targets := opts.Targets
	if len(targets) == 0 {
		targets = DefaultTargets
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTranslateTimeout
	}
	return &Expander{
		provider: provider,
		targets:  append([]string(nil), targets...),
		timeout:  timeout,
		detector: opts.Detector,
		logger:   logging.Component(logger, "alias_expander"),
	}
}

// Expand never fails on translator errors: a language that cannot be translated
// is skipped, and with no provider or no successful language the set holds the
// canonical text alone. Only a blank keyword is an error.
func (e *Expander) Expand(ctx context.Context, canonical string) (AliasSet, error) {
	canonical = Clean(canonical)
	if canonical == "" {
		return AliasSet{}, ErrEmptyKeyword
	}
	if e == nil || e.provider == nil {
		return NewAliasSet(canonical)
	}

	sourceLang := ""
	if e.detector != nil {
		sourceLang = e.detector.DetectISO6391(canonical)
	}

	aliases := make([]string, 0, len(e.targets))
	failed := 0
	for _, target := range e.targets {
		if err := ctx.Err(); err != nil {
			e.logger.Warn().Err(err).Str("keyword", canonical).Msg("alias expansion interrupted")
			break
		}
		if target == sourceLang {
			continue
		}

		alias, err := e.translate(ctx, canonical, sourceLang, target)
		if err != nil {
			failed++
			e.logger.Warn().
				Err(err).
				Str("keyword", canonical).
				Str("target_lang", target).
				Str("provider", e.provider.Name()).
				Msg("alias translation failed")
			continue
		}
		if alias == "" || Fold(alias) == Fold(canonical) {
			continue
		}
		aliases = append(aliases, alias)
	}

	set, err := NewAliasSet(canonical, aliases...)
	if err != nil {
		return AliasSet{}, err
	}
	e.logger.Info().
		Str("keyword", canonical).
		Str("source_lang", sourceLang).
		Int("aliases", set.Len()).
		Int("failed_languages", failed).
		Msg("keyword aliases expanded")
	return set, nil
}

func (e *Expander) translate(ctx context.Context, canonical, sourceLang, target string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	term, err := e.provider.TranslateTerm(callCtx, translation.TermRequest{
		Text: canonical,
		From: sourceLang,
		To:   target,
	})
	if err != nil {
		return "", err
	}
	return cleanTranslation(term.Text), nil
}

// cleanTranslation keeps only output that looks like a bare term. Models that
// answer with an explanation or several lines are ignored.
func cleanTranslation(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" || strings.ContainsAny(text, "\r\n") {
		return ""
	}
	text = strings.Trim(text, "\"'`«»“”„‘’")
	text = strings.TrimRight(text, ".;:")
	text = Clean(text)
	if text == "" || utf8.RuneCountInString(text) > maxAliasRunes {
		return ""
	}
	return text
}
