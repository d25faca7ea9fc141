// Package extract turns raw search-page HTML into normalized listings.
//
// Two strategies run in a fixed order: embedded ld+json metadata first, then
// a heuristic scan of card-like anchor elements when the page carries no
// usable metadata. Extraction never fails; malformed input degrades to
// absent fields or fewer records.
package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"

	"crous_bot/internal/model"
)

// noResultsPhrase marks an empty search result page. Its presence is a
// terminal case, not an extraction failure.
const noResultsPhrase = "aucun logement trouvé"

var (
	priceRe      = regexp.MustCompile(`(\d{2,4})\s*€`)
	externalIDRe = regexp.MustCompile(`\d{3,}`)
)

// graphKeys are the nesting keys followed when walking an ld+json graph.
var graphKeys = []string{"@graph", "itemListElement", "mainEntity", "items"}

// listingTypes are the ld+json @type values treated as housing offers.
var listingTypes = map[string]bool{
	"Offer":     true,
	"Product":   true,
	"Residence": true,
	"Apartment": true,
}

// Listings extracts listings from an HTML document, resolving relative links
// against baseURL. The result is deduplicated by fingerprint with the first
// occurrence winning and input order preserved.
func Listings(html, baseURL string) []model.Listing {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	if strings.Contains(strings.ToLower(normalizeSpace(doc.Text())), noResultsPhrase) {
		return nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}

	if found := fromMetadata(doc, base, baseURL); len(found) > 0 {
		return uniqueByFingerprint(found)
	}
	return uniqueByFingerprint(fromCards(doc, base, baseURL))
}

// fromMetadata collects listings from embedded ld+json blocks. Blocks that
// are not valid JSON are skipped.
func fromMetadata(doc *goquery.Document, base *url.URL, baseURL string) []model.Listing {
	var listings []model.Listing
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		payload := strings.TrimSpace(s.Text())
		if payload == "" || !gjson.Valid(payload) {
			return
		}
		walkNodes(gjson.Parse(payload), func(node gjson.Result) {
			if !listingTypes[node.Get("@type").String()] {
				return
			}

			name := node.Get("name")
			if name.Type != gjson.String {
				return
			}
			title := strings.TrimSpace(name.Str)
			if title == "" {
				return
			}

			listingURL := baseURL
			if raw := node.Get("url"); raw.Type == gjson.String && raw.Str != "" {
				listingURL = resolveURL(base, raw.Str)
			}

			var price *int
			if offers := node.Get("offers"); offers.IsObject() {
				price = coercePrice(offers.Get("price"))
			}

			listings = append(listings, model.Listing{
				Title:      title,
				URL:        listingURL,
				PriceEUR:   price,
				City:       cleanOptionalText(node.Get("addressLocality")),
				Residence:  cleanOptionalText(node.Get("brand")),
				ExternalID: cleanOptionalText(node.Get("identifier")),
			})
		})
	})
	return listings
}

// walkNodes visits every object in the metadata graph, descending into
// arrays and the known item-list nesting keys.
func walkNodes(node gjson.Result, visit func(gjson.Result)) {
	if node.IsArray() {
		node.ForEach(func(_, item gjson.Result) bool {
			walkNodes(item, visit)
			return true
		})
		return
	}
	if !node.IsObject() {
		return
	}
	visit(node)
	for _, key := range graphKeys {
		if nested := node.Get(key); nested.Exists() {
			walkNodes(nested, visit)
		}
	}
}

// fromCards scans anchors whose target looks like a listing page and
// reconstructs listings from the surrounding card markup.
func fromCards(doc *goquery.Document, base *url.URL, baseURL string) []model.Listing {
	var listings []model.Listing
	doc.Find("a[href]").Each(func(_ int, anchor *goquery.Selection) {
		href, _ := anchor.Attr("href")
		if href == "" {
			return
		}
		if !strings.Contains(href, "/logement/") && !strings.Contains(strings.ToLower(href), "residence") {
			return
		}

		listingURL := resolveURL(base, href)
		container := anchor.Closest("article, li, div")

		textBlock := normalizeSpace(anchor.Text())
		if container.Length() > 0 {
			textBlock = normalizeSpace(container.Text())
		}

		title := normalizeSpace(anchor.Text())
		if title == "" && container.Length() > 0 {
			title = normalizeSpace(container.Find("h2, h3, h4").First().Text())
		}
		if title == "" {
			return
		}

		listings = append(listings, model.Listing{
			Title:      title,
			URL:        listingURL,
			PriceEUR:   extractPrice(textBlock),
			ExternalID: extractExternalID(container, listingURL),
		})
	})
	return listings
}

// coercePrice turns a string/number price field into whole euros, absent on
// any parse failure.
func coercePrice(raw gjson.Result) *int {
	switch raw.Type {
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw.Str), 64)
		if err != nil {
			return nil
		}
		return model.Price(int(f))
	case gjson.Number:
		return model.Price(int(raw.Float()))
	default:
		return nil
	}
}

// cleanOptionalText implements the optional-field rule: objects contribute
// their trimmed name, strings are trimmed, anything else is absent.
func cleanOptionalText(v gjson.Result) string {
	switch {
	case v.IsObject():
		if name := v.Get("name"); name.Type == gjson.String {
			return strings.TrimSpace(name.Str)
		}
		return ""
	case v.Type == gjson.String:
		return strings.TrimSpace(v.Str)
	default:
		return ""
	}
}

func extractPrice(text string) *int {
	match := priceRe.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	v, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	return model.Price(v)
}

// extractExternalID prefers explicit id attributes on the card container and
// falls back to the first run of 3+ digits in the listing URL.
func extractExternalID(container *goquery.Selection, listingURL string) string {
	if container.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"data-id", "id", "data-logement-id"} {
		if v, ok := container.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return externalIDRe.FindString(listingURL)
}

func resolveURL(base *url.URL, raw string) string {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || base == nil {
		return raw
	}
	return base.ResolveReference(ref).String()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func uniqueByFingerprint(listings []model.Listing) []model.Listing {
	var out []model.Listing
	seen := make(map[string]bool, len(listings))
	for _, l := range listings {
		fp := l.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, l)
	}
	return out
}
