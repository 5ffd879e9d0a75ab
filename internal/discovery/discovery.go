package discovery

import (
	"context"
	"strings"

	"pharmwatch/internal/browser"
	"pharmwatch/internal/domain"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// loadMoreMatchers are the expand controls tried in order on the category
// page. Kept as data so new markup variants are configuration changes.
var loadMoreMatchers = []browser.Matcher{
	{Selector: "button", Pattern: `Pokaż więcej`},
	{Selector: "button", Pattern: `Załaduj więcej`},
}

// maxExpandClicks bounds the load-more loop so a stuck UI cannot spin the
// crawler forever.
const maxExpandClicks = 100

// PageExpander loads a page and exhausts its expand controls, returning
// the rendered HTML.
type PageExpander interface {
	FetchAndExpand(ctx context.Context, url string, matchers []browser.Matcher, maxClicks int) (string, error)
}

// Discoverer enumerates the current product catalog from the listing page.
type Discoverer struct {
	session     PageExpander
	categoryURL string
	siteBaseURL string
	logger      *zap.Logger
}

// New creates a Discoverer bound to one browser session.
func New(session PageExpander, categoryURL, siteBaseURL string, logger *zap.Logger) *Discoverer {
	return &Discoverer{
		session:     session,
		categoryURL: categoryURL,
		siteBaseURL: siteBaseURL,
		logger:      logger,
	}
}

// Discover loads the category page, expands every "load more" control and
// returns the deduplicated product list. Zero links is not an error;
// callers must treat an empty result conservatively before deactivating
// anything.
func (d *Discoverer) Discover(ctx context.Context) ([]domain.DiscoveredProduct, error) {
	html, err := d.session.FetchAndExpand(ctx, d.categoryURL, loadMoreMatchers, maxExpandClicks)
	if err != nil {
		return nil, err
	}

	products, err := ParseCatalog(html, d.siteBaseURL)
	if err != nil {
		return nil, err
	}

	d.logger.Info("Discovery pass completed", zap.Int("products", len(products)))
	return products, nil
}

// ParseCatalog extracts every product link from the listing page HTML,
// deduplicating by slug. A listing may repeat a product across pagination
// states; the first occurrence wins.
func ParseCatalog(html, siteBaseURL string) ([]domain.DiscoveredProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var products []domain.DiscoveredProduct

	doc.Find(`a[href^='/produkty/']`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		slug := Slug(href)
		if slug == "" || seen[slug] {
			return
		}
		seen[slug] = true

		products = append(products, domain.DiscoveredProduct{
			Slug:    slug,
			Name:    strings.TrimSpace(sel.Text()),
			BaseURL: strings.TrimRight(siteBaseURL, "/") + "/produkty/" + slug,
		})
	})

	return products, nil
}
