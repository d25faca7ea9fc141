package bot

import (
	"fmt"
	"strings"

	"crous_bot/internal/filter"
	"crous_bot/internal/model"
)

// FormatListing formats a listing as a Telegram notification message.
// Optional fields only appear when present.
func FormatListing(l model.Listing) string {
	var b strings.Builder
	b.WriteString("🏠 Nouveau logement CROUS détecté\n\n")
	fmt.Fprintf(&b, "Titre: %s", l.Title)
	if l.PriceEUR != nil {
		fmt.Fprintf(&b, "\nPrix: %d €", *l.PriceEUR)
	}
	if l.City != "" {
		fmt.Fprintf(&b, "\nVille: %s", l.City)
	}
	if l.Residence != "" {
		fmt.Fprintf(&b, "\nRésidence: %s", l.Residence)
	}
	fmt.Fprintf(&b, "\n\nVoir: %s", l.URL)
	return b.String()
}

// FormatFilters renders the effective filter configuration, marking values
// that come from a runtime override.
func FormatFilters(rules filter.Rules, ov overrideState) string {
	var b strings.Builder
	b.WriteString("Current filters:\n")

	if rules.MaxPriceEUR > 0 {
		fmt.Fprintf(&b, "Max price: <= %d €", rules.MaxPriceEUR)
	} else {
		b.WriteString("Max price: none")
	}
	if ov.maxPrice {
		b.WriteString(" (override)")
	}
	b.WriteString("\n")

	if len(rules.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s", strings.Join(rules.Keywords, ", "))
	} else {
		b.WriteString("Keywords: none")
	}
	if ov.keywords {
		b.WriteString(" (override)")
	}
	return b.String()
}
