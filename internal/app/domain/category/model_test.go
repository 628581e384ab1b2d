package category

import (
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Idraulica":                "idraulica",
		"Elettricità & Domotica":   "elettricita-domotica",
		"  Caldaie / Scaldabagni ": "caldaie-scaldabagni",
		"Pronto intervento 24h":    "pronto-intervento-24h",
		"***":                      "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLess(t *testing.T) {
	now := time.Now()
	first := Category{DisplayOrder: 1, CreatedAt: now.Add(-time.Hour)}
	newer := Category{DisplayOrder: 2, CreatedAt: now}
	older := Category{DisplayOrder: 2, CreatedAt: now.Add(-time.Hour)}
	if !Less(first, newer) || !Less(newer, older) || Less(older, newer) {
		t.Fatalf("unexpected ordering")
	}
}
