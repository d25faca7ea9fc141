// Package filter implements the listing filter engine and its runtime
// overrides.
package filter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"crous_bot/internal/model"
	"crous_bot/internal/storage"
)

// Rules is a set of configured filtering rules. A zero MaxPriceEUR means no
// price rule; an empty Keywords set means no keyword rule.
type Rules struct {
	MaxPriceEUR int
	Keywords    []string
}

// MetaGetter reads persisted override values.
type MetaGetter interface {
	GetMeta(ctx context.Context, key string) (string, error)
}

// Apply returns the listings that pass every configured rule, preserving
// input order. Deduplication is not this engine's job.
func Apply(listings []model.Listing, rules Rules) []model.Listing {
	var passed []model.Listing
	for _, l := range listings {
		if Matches(l, rules) {
			passed = append(passed, l)
		}
	}
	return passed
}

// Matches reports whether a single listing passes all configured rules.
// A listing with an unknown price is never rejected by the price rule.
func Matches(l model.Listing, rules Rules) bool {
	if rules.MaxPriceEUR > 0 && l.PriceEUR != nil && *l.PriceEUR > rules.MaxPriceEUR {
		return false
	}

	if len(rules.Keywords) > 0 {
		haystack := strings.ToLower(l.Title + " " + l.City + " " + l.Residence + " " + l.URL)
		matched := false
		for _, kw := range rules.Keywords {
			if kw != "" && strings.Contains(haystack, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

// Resolve computes the effective rules: the static configuration with any
// non-empty persisted override replacing the corresponding static value
// entirely. An override that does not parse is ignored.
func Resolve(ctx context.Context, meta MetaGetter, static Rules) (Rules, error) {
	effective := Rules{
		MaxPriceEUR: static.MaxPriceEUR,
		Keywords:    NormalizeKeywords(strings.Join(static.Keywords, ",")),
	}

	raw, err := meta.GetMeta(ctx, storage.MetaMaxPriceOverride)
	if err != nil {
		return effective, fmt.Errorf("read max price override: %w", err)
	}
	if raw != "" {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			effective.MaxPriceEUR = v
		}
	}

	raw, err = meta.GetMeta(ctx, storage.MetaKeywordsOverride)
	if err != nil {
		return effective, fmt.Errorf("read keywords override: %w", err)
	}
	if raw != "" {
		effective.Keywords = NormalizeKeywords(raw)
	}

	return effective, nil
}

// NormalizeKeywords splits a comma separated keyword list, trimming,
// lowercasing and dropping duplicates while preserving first occurrence.
func NormalizeKeywords(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		kw := strings.ToLower(strings.TrimSpace(part))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}
