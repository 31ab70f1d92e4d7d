package langdetect

import (
	"testing"

	lingua "github.com/pemistahl/lingua-go"
)

func TestDetectISO6391(t *testing.T) {
	t.Parallel()

	detector := New(lingua.English, lingua.Russian)

	if got := detector.DetectISO6391("  "); got != "" {
		t.Fatalf("blank sample = %q, want empty", got)
	}
	if got := detector.DetectISO6391("Baku"); got != "" {
		t.Fatalf("short sample = %q, want empty", got)
	}
	if got := detector.DetectISO6391("Президент подписал новое торговое соглашение с соседними странами"); got != "ru" {
		t.Fatalf("russian sample = %q, want ru", got)
	}
	if got := detector.DetectISO6391("The president signed a new trade agreement with neighbouring countries"); got != "en" {
		t.Fatalf("english sample = %q, want en", got)
	}
}

func TestNilDetector(t *testing.T) {
	t.Parallel()

	var detector *Detector
	if got := detector.DetectISO6391("anything at all here"); got != "" {
		t.Fatalf("nil detector = %q", got)
	}
}
