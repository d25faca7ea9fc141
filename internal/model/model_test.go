package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFingerprintStable(t *testing.T) {
	a := Listing{Title: "Studio 18m²", URL: "https://site/r/42", PriceEUR: Price(420), ExternalID: "42"}
	b := Listing{Title: "Studio 18m²", URL: "https://site/r/42", PriceEUR: Price(420), ExternalID: "42"}

	if diff := cmp.Diff(a.Fingerprint(), b.Fingerprint()); diff != "" {
		t.Errorf("identical listings hash differently (-a +b):\n%s", diff)
	}
	if len(a.Fingerprint()) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a.Fingerprint()))
	}
}

func TestFingerprintNormalizesTitle(t *testing.T) {
	base := Listing{Title: "Studio 18m²", URL: "https://site/r/42"}

	tests := []struct {
		name  string
		title string
	}{
		{name: "upper case", title: "STUDIO 18M²"},
		{name: "surrounding whitespace", title: "  Studio 18m²  "},
		{name: "mixed", title: " studio 18M² "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			variant := base
			variant.Title = tt.title
			if variant.Fingerprint() != base.Fingerprint() {
				t.Errorf("title %q changed the fingerprint", tt.title)
			}
		})
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Listing{Title: "Studio", URL: "https://site/r/42", PriceEUR: Price(420), ExternalID: "42"}

	tests := []struct {
		name   string
		mutate func(l Listing) Listing
	}{
		{
			name:   "different title",
			mutate: func(l Listing) Listing { l.Title = "T1 bis"; return l },
		},
		{
			name:   "different url",
			mutate: func(l Listing) Listing { l.URL = "https://site/r/43"; return l },
		},
		{
			name:   "different price",
			mutate: func(l Listing) Listing { l.PriceEUR = Price(421); return l },
		},
		{
			name:   "absent price",
			mutate: func(l Listing) Listing { l.PriceEUR = nil; return l },
		},
		{
			name:   "different external id",
			mutate: func(l Listing) Listing { l.ExternalID = "43"; return l },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.mutate(base).Fingerprint() == base.Fingerprint() {
				t.Error("expected fingerprint to change")
			}
		})
	}
}

func TestFingerprintIgnoresNonIdentityFields(t *testing.T) {
	a := Listing{Title: "Studio", URL: "https://site/r/42"}
	b := a
	b.City = "Lyon"
	b.Residence = "Les Capucins"

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("city/residence should not participate in the fingerprint")
	}
}
