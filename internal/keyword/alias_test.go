package keyword

import (
	"errors"
	"strings"
	"testing"
)

func TestNewAliasSetKeepsCanonicalFirst(t *testing.T) {
	t.Parallel()

	set, err := NewAliasSet("  Azərbaycan ", "Азербайджан", "Azerbaijan", "azərbaycan", "", "Azerbaycan", "AZERBAIJAN")
	if err != nil {
		t.Fatalf("NewAliasSet: %v", err)
	}
	got := strings.Join(set.Aliases(), "|")
	want := "Azərbaycan|Azerbaijan|Azerbaycan|Азербайджан"
	if got != want {
		t.Fatalf("aliases = %q, want %q", got, want)
	}
	if set.Canonical() != "Azərbaycan" {
		t.Fatalf("canonical = %q", set.Canonical())
	}
}

func TestNewAliasSetRejectsBlankCanonical(t *testing.T) {
	t.Parallel()

	if _, err := NewAliasSet(" \t ", "x"); !errors.Is(err, ErrEmptyKeyword) {
		t.Fatalf("err = %v, want ErrEmptyKeyword", err)
	}
}

func TestAliasSetContainsIsCaseInsensitiveButKeepsDiacritics(t *testing.T) {
	t.Parallel()

	set, err := NewAliasSet("Şəki")
	if err != nil {
		t.Fatalf("NewAliasSet: %v", err)
	}
	if !set.Contains("şəki") {
		t.Fatalf("expected lowercase form to be contained")
	}
	if set.Contains("seki") {
		t.Fatalf("diacritics must not be folded")
	}
	if set.Contains("") {
		t.Fatalf("blank text must not be contained")
	}
}

func TestAliasesReturnsCopy(t *testing.T) {
	t.Parallel()

	set, _ := NewAliasSet("Baku", "Bakı")
	aliases := set.Aliases()
	aliases[0] = "mutated"
	if set.Canonical() != "Baku" || set.Aliases()[0] != "Baku" {
		t.Fatalf("alias set was mutated through returned slice")
	}
}

func TestFoldNormalizesComposition(t *testing.T) {
	t.Parallel()

	decomposed := "s\u0327\u0259ki"
	if Fold(decomposed) != Fold("şəki") {
		t.Fatalf("NFD and NFC forms should fold to the same key")
	}
}
