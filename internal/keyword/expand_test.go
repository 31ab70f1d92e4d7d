package keyword

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/mediatrends/internal/translation"
)

type stubTranslator struct {
	mu      sync.Mutex
	replies map[string]string
	fail    map[string]bool
	calls   []translation.TermRequest
	block   bool
}

func (s *stubTranslator) Name() string { return "stub" }

func (s *stubTranslator) TranslateTerm(ctx context.Context, req translation.TermRequest) (translation.Term, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return translation.Term{}, ctx.Err()
	}
	if s.fail[req.To] {
		return translation.Term{}, errors.New("translator unavailable")
	}
	return translation.Term{Text: s.replies[req.To], Lang: req.To}, nil
}

func (s *stubTranslator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixedDetector string

func (d fixedDetector) DetectISO6391(string) string { return string(d) }

func TestExpandCollectsTranslations(t *testing.T) {
	t.Parallel()

	provider := &stubTranslator{replies: map[string]string{
		"en": "Azerbaijan",
		"tr": "\"Azerbaycan\"",
		"ru": "Азербайджан",
		"ar": "أذربيجان",
		"fr": "Azerbaïdjan",
		"de": "Aserbaidschan",
	}}
	expander := NewExpander(provider, zerolog.Nop(), ExpanderOptions{Detector: fixedDetector("az")})

	set, err := expander.Expand(context.Background(), "Azərbaycan")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	for _, want := range []string{"Azərbaycan", "Azerbaijan", "Azerbaycan", "Азербайджан", "Aserbaidschan"} {
		if !set.Contains(want) {
			t.Fatalf("alias set %v missing %q", set.Aliases(), want)
		}
	}
	if set.Aliases()[0] != "Azərbaycan" {
		t.Fatalf("canonical must come first: %v", set.Aliases())
	}
	for _, call := range provider.calls {
		if call.To == "az" {
			t.Fatalf("source language should not be requested as a target")
		}
		if call.From != "az" {
			t.Fatalf("source lang = %q, want az", call.From)
		}
	}
}

func TestExpandSkipsFailedLanguages(t *testing.T) {
	t.Parallel()

	provider := &stubTranslator{
		replies: map[string]string{"en": "Sheki", "ru": "Шеки"},
		fail:    map[string]bool{"tr": true, "ar": true, "fr": true, "de": true, "az": true},
	}
	set, err := NewExpander(provider, zerolog.Nop(), ExpanderOptions{}).Expand(context.Background(), "Şəki")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got := strings.Join(set.Aliases(), "|"); got != "Şəki|Sheki|Шеки" {
		t.Fatalf("aliases = %q", got)
	}
}

func TestExpandFallsBackToCanonicalWhenEveryLanguageFails(t *testing.T) {
	t.Parallel()

	fail := map[string]bool{}
	for _, lang := range DefaultTargets {
		fail[lang] = true
	}
	set, err := NewExpander(&stubTranslator{fail: fail}, zerolog.Nop(), ExpanderOptions{}).Expand(context.Background(), "SOCAR")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if set.Len() != 1 || set.Canonical() != "SOCAR" {
		t.Fatalf("aliases = %v, want canonical only", set.Aliases())
	}
}

func TestExpandBoundsEachCallByTimeout(t *testing.T) {
	t.Parallel()

	provider := &stubTranslator{block: true}
	expander := NewExpander(provider, zerolog.Nop(), ExpanderOptions{Targets: []string{"en", "ru"}, Timeout: 10 * time.Millisecond})

	started := time.Now()
	set, err := expander.Expand(context.Background(), "Bakı")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("aliases = %v, want canonical only", set.Aliases())
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("expansion took %s, translator timeouts not applied", elapsed)
	}
}

func TestExpandWithoutProvider(t *testing.T) {
	t.Parallel()

	set, err := NewExpander(nil, zerolog.Nop(), ExpanderOptions{}).Expand(context.Background(), " Gəncə ")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if set.Canonical() != "Gəncə" || set.Len() != 1 {
		t.Fatalf("unexpected set %v", set.Aliases())
	}

	if _, err := NewExpander(nil, zerolog.Nop(), ExpanderOptions{}).Expand(context.Background(), "  "); !errors.Is(err, ErrEmptyKeyword) {
		t.Fatalf("err = %v, want ErrEmptyKeyword", err)
	}
}

func TestCleanTranslation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "  «Азербайджан» ", want: "Азербайджан"},
		{in: "Azerbaijan.", want: "Azerbaijan"},
		{in: "Azerbaijan\nNote: the country", want: ""},
		{in: "", want: ""},
		{in: strings.Repeat("a", maxAliasRunes+1), want: ""},
	}
	for _, tc := range cases {
		if got := cleanTranslation(tc.in); got != tc.want {
			t.Fatalf("cleanTranslation(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
