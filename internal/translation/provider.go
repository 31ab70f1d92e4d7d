package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Provider renders one keyword in another language.
type Provider interface {
	Name() string
	TranslateTerm(ctx context.Context, req TermRequest) (Term, error)
}

// TermRequest asks for Text in language To. From may be empty when the
// keyword's language could not be detected.
type TermRequest struct {
	Text string
	From string
	To   string
}

// Term is one provider rendering of a keyword.
type Term struct {
	Text     string
	Lang     string
	Provider string
	Took     time.Duration
}

func (r TermRequest) normalize() (TermRequest, error) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return TermRequest{}, errors.New("term text is required")
	}
	to := languageCode(r.To)
	if to == "" {
		return TermRequest{}, fmt.Errorf("target language %q is not a language code", r.To)
	}
	return TermRequest{Text: text, From: languageCode(r.From), To: to}, nil
}

const termSystemPrompt = `You translate news keywords for a multilingual news monitor.
Reply with exactly one line containing the keyword in the requested language.
Keep proper nouns in their established local spelling. Never add quotes, notes or alternatives.`

// termPrompt names both languages when the source is known. Keywords are names
// and short phrases, so the model is asked for the established spelling rather
// than a paraphrase.
func termPrompt(req TermRequest) string {
	target := LanguageName(req.To)
	if req.From != "" {
		return fmt.Sprintf("Translate this %s keyword into %s: %s", LanguageName(req.From), target, req.Text)
	}
	return fmt.Sprintf("Translate this keyword into %s: %s", target, req.Text)
}
