package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"pharmwatch/internal/domain"
	"pharmwatch/internal/parser"

	"github.com/PuerkitoBio/goquery"
)

// pharmacyItemSelectors is the ordered fallback list for locating offer
// list items; the first selector that yields any elements wins.
var pharmacyItemSelectors = []string{
	"li.MuiListItem-root",
	"li.offer",
	"li[class*='listItem']",
}

// shortExpiration flags a batch close to its expiration date when the page
// hints at it without giving a concrete date.
const shortExpiration = "krótki termin"

var expirationDateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// ExtractListings parses a loaded product offer page into pharmacy
// listings. Items yielding zero valid prices are dropped entirely, never
// emitted with a null price; that keeps the natural-key dedup clean.
func ExtractListings(html string) ([]domain.PharmacyListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var items *goquery.Selection
	for _, selector := range pharmacyItemSelectors {
		items = doc.Find(selector)
		if items.Length() > 0 {
			break
		}
	}
	if items == nil || items.Length() == 0 {
		return nil, nil
	}

	var listings []domain.PharmacyListing
	items.Each(func(_ int, item *goquery.Selection) {
		if listing, ok := extractListing(item); ok {
			listings = append(listings, listing)
		}
	})
	return listings, nil
}

func extractListing(item *goquery.Selection) (domain.PharmacyListing, bool) {
	var listing domain.PharmacyListing

	nameEl := item.Find(`a[href*='/apteki/']`).First()
	if nameEl.Length() == 0 {
		return listing, false
	}
	listing.PharmacyName = strings.TrimSpace(nameEl.Text())
	listing.PharmacyURL, _ = nameEl.Attr("href")

	listing.Address = extractAddress(item)
	if listing.Address != "" {
		listing.MapURL = "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(listing.Address)
	}

	offersBlock := item.Find(`div[class*='offers']`).First()
	if offersBlock.Length() == 0 {
		return listing, false
	}

	var (
		lastExpiration string
		expirationHint bool
	)

	offersBlock.Find("p").Each(func(_ int, line *goquery.Selection) {
		text := strings.TrimSpace(line.Text())
		lower := strings.ToLower(text)

		if m := expirationDateRe.FindString(text); m != "" {
			lastExpiration = m
		}

		priceText := priceSpanText(line)
		if priceText == "" {
			switch {
			case strings.Contains(lower, "sztuk"),
				strings.Contains(lower, "ostatnia"),
				strings.Contains(lower, "niepełne"):
				listing.Availability = text
			case strings.Contains(lower, "temu"):
				listing.UpdatedNote = text
			case strings.Contains(lower, "ważność"):
				expirationHint = true
			}
			return
		}

		price, unit := parser.ParsePriceUnit(priceText)
		if price.IsZero() {
			// Unparsable price text fails closed; the line is skipped.
			return
		}

		expiration := lastExpiration
		if expiration == "" && expirationHint {
			expiration = shortExpiration
		}

		listing.Offers = append(listing.Offers, domain.Offer{
			Price:      price,
			Unit:       unit,
			Expiration: expiration,
		})
		lastExpiration = ""
	})

	if len(listing.Offers) == 0 {
		return listing, false
	}
	return listing, true
}

// extractAddress returns the second paragraph of the item unless it looks
// like a distance annotation, which the page renders in the same slot.
func extractAddress(item *goquery.Selection) string {
	paragraphs := item.Find("p")
	if paragraphs.Length() < 2 {
		return ""
	}
	text := strings.TrimSpace(paragraphs.Eq(1).Text())
	if strings.Contains(strings.ToLower(text), "km") {
		return ""
	}
	return text
}

// priceSpanText finds the price marker span inside one offer line, empty
// when the line carries no price.
func priceSpanText(line *goquery.Selection) string {
	var priceText string
	line.Find("span").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		class, _ := span.Attr("class")
		if strings.Contains(class, "priceExp") {
			priceText = strings.TrimSpace(span.Text())
			return false
		}
		return true
	})
	return priceText
}
