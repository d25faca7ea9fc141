// Package model defines the domain types used across the application.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Listing represents one housing offer extracted from a search page.
// Optional text fields are empty strings; an absent price is a nil pointer.
// Listings are constructed fresh on every extraction pass and never mutated.
type Listing struct {
	Title      string
	URL        string
	PriceEUR   *int
	City       string
	Residence  string
	ExternalID string
}

// Fingerprint returns the stable identity hash used for deduplication.
// It covers external id, url, normalized title and price, so the same offer
// hashes identically across process restarts. Title casing and surrounding
// whitespace do not affect the result.
func (l Listing) Fingerprint() string {
	price := ""
	if l.PriceEUR != nil {
		price = strconv.Itoa(*l.PriceEUR)
	}
	base := strings.Join([]string{
		l.ExternalID,
		l.URL,
		strings.ToLower(strings.TrimSpace(l.Title)),
		price,
	}, "|")
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// Price wraps an int for the optional PriceEUR field.
func Price(v int) *int { return &v }
