package textscan

import (
	"reflect"
	"testing"
)

func TestIsBoilerplateLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		line string
		want bool
	}{
		{line: "[Siyasət](https://sia.az/az/politics)", want: true},
		{line: "![photo](https://cdn.example/a.jpg)", want: true},
		{line: "* Home", want: true},
		{line: "### [Azərbaycan və ABŞ danışıqları](https://sia.az/az/news/1)", want: true},
		{line: "Read: [Azərbaycan və ABŞ danışıqları bərpa olunur](https://sia.az/az/news/1)", want: true},
		{line: "Siyasət 21:07", want: true},
		{line: "Ünvan: Bakı, Nizami 10", want: true},
		{line: "Tel: +994 12 000 00 00", want: true},
		{line: "E-mail: info@example.az", want: true},
		{line: "Copyright 2024 Example", want: true},
		{line: "All rights reserved.", want: true},
		{line: "Xəbərlərdən istifadə edərkən istinad mütləqdir", want: true},
		{line: "Powered by WordPress", want: true},
		{line: "Bizi izləyin", want: true},
		{line: "The minister said talks (see [report](https://x.example/r)) would continue for several more weeks.", want: false},
		{line: "Prezident yeni fərman imzalayıb.", want: false},
		{line: "", want: false},
	}
	for _, tc := range cases {
		if got := IsBoilerplateLine(tc.line); got != tc.want {
			t.Fatalf("IsBoilerplateLine(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestContentLinesAppliesMarkers(t *testing.T) {
	t.Parallel()

	body := "  Main story text.  \n\nRelated articles\nRELATED ARTICLES: more\nSee also\nClosing line."
	got := ContentLines(body, []string{"related articles", " ", "see also"})
	want := []string{"Main story text.", "Closing line."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ContentLines = %#v, want %#v", got, want)
	}
}

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	cases := []struct {
		line string
		want []string
	}{
		{line: "One. Two! Three? Four… Five", want: []string{"One.", "Two!", "Three?", "Four…", "Five"}},
		{line: "Version 2.5 shipped.", want: []string{"Version 2.5 shipped."}},
		{line: "   ", want: nil},
		{line: "No terminator", want: []string{"No terminator"}},
	}
	for _, tc := range cases {
		if got := SplitSentences(tc.line); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("SplitSentences(%q) = %#v, want %#v", tc.line, got, tc.want)
		}
	}
}
