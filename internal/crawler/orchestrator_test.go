package crawler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"pharmwatch/internal/browser"
	"pharmwatch/internal/config"
	"pharmwatch/internal/domain"
	"pharmwatch/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const offerPageHTML = `
<html><body><ul>
  <li class="MuiListItem-root">
    <div>
      <a href="/apteki/katowice/apteka-pod-orlem">Apteka Pod Orłem</a>
      <p>Apteka Pod Orłem</p>
      <p>ul. Warszawska 10, Katowice</p>
      <div class="jss-offers-2">
        <p>Dostępne 3 sztuki</p>
        <p><span class="priceExp-17">56,00 zł / g</span></p>
      </div>
    </div>
  </li>
</ul></body></html>`

const emptyPageHTML = `<html><body><p>Brak ofert w Twoim regionie</p></body></html>`

type stubDiscoverer struct {
	products []domain.DiscoveredProduct
	err      error
}

func (s *stubDiscoverer) Discover(context.Context) ([]domain.DiscoveredProduct, error) {
	return s.products, s.err
}

// stubFetcher serves canned HTML per URL substring and records visits. It
// is shared by every worker the factory hands out.
type stubFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	visited  []string
	startErr error
}

func (s *stubFetcher) Start() error { return s.startErr }
func (s *stubFetcher) Close() error { return nil }

func (s *stubFetcher) Fetch(_ context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited = append(s.visited, url)
	for key, html := range s.pages {
		if strings.Contains(url, key) {
			return html, nil
		}
	}
	return "", fmt.Errorf("no page for %s", url)
}

type memProductRepo struct {
	mu       sync.Mutex
	products map[string]*domain.Product
}

func newMemProductRepo() *memProductRepo {
	return &memProductRepo{products: make(map[string]*domain.Product)}
}

func (m *memProductRepo) Sync(_ context.Context, discovered []domain.DiscoveredProduct, seenAt time.Time) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.Product, 0, len(discovered))
	for _, d := range discovered {
		p, ok := m.products[d.Slug]
		if !ok {
			p = &domain.Product{ID: uuid.New(), Slug: d.Slug, FirstSeen: seenAt}
			m.products[d.Slug] = p
		}
		p.Name = d.Name
		p.Active = true
		p.LastSeen = seenAt
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *memProductRepo) Deactivate(_ context.Context, slugs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, slug := range slugs {
		if p, ok := m.products[slug]; ok && p.Active {
			p.Active = false
			n++
		}
	}
	return n, nil
}

func (m *memProductRepo) DeactivateMissing(_ context.Context, keepSlugs []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[string]bool, len(keepSlugs))
	for _, slug := range keepSlugs {
		keep[slug] = true
	}
	n := 0
	for slug, p := range m.products {
		if p.Active && !keep[slug] {
			p.Active = false
			n++
		}
	}
	return n, nil
}

func (m *memProductRepo) FindBySlug(_ context.Context, slug string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[slug]; ok {
		return p, nil
	}
	return nil, repository.ErrProductNotFound
}

func (m *memProductRepo) FindActive(context.Context) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Product
	for _, p := range m.products {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

type memOfferRepo struct {
	mu   sync.Mutex
	rows []*domain.PriceOffer
}

func (m *memOfferRepo) InsertOffers(_ context.Context, offers []*domain.PriceOffer) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, offer := range offers {
		dup := false
		for _, row := range m.rows {
			if row.ProductID == offer.ProductID &&
				row.PharmacyName == offer.PharmacyName &&
				row.Price.Equal(offer.Price) &&
				row.Unit == offer.Unit &&
				strValue(row.Expiration) == strValue(offer.Expiration) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		m.rows = append(m.rows, offer)
		inserted++
	}
	return inserted, nil
}

func (m *memOfferRepo) Trend(_ context.Context, productID uuid.UUID) ([]*domain.PriceOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.PriceOffer
	for _, row := range m.rows {
		if row.ProductID == productID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchedAt.Before(out[j].FetchedAt) })
	return out, nil
}

func (m *memOfferRepo) Cheapest(_ context.Context, productID uuid.UUID) (*domain.PriceOffer, error) {
	trend, _ := m.Trend(context.Background(), productID)
	if len(trend) == 0 {
		return nil, repository.ErrOfferNotFound
	}
	best := trend[0]
	for _, row := range trend[1:] {
		if row.Price.LessThan(best.Price) {
			best = row
		}
	}
	return best, nil
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func testCrawlerConfig() config.CrawlerConfig {
	return config.CrawlerConfig{
		SiteBaseURL:      "https://www.gdziepolek.pl",
		Region:           "w-slaskim",
		Workers:          2,
		MaxFetchAttempts: 2,
		MinDiscovered:    1,
		PolitenessMin:    time.Millisecond,
		PolitenessMax:    2 * time.Millisecond,
	}
}

func TestRunFullCrawl(t *testing.T) {
	productRepo := newMemProductRepo()
	offerRepo := &memOfferRepo{}

	// A product that already exists but has vanished from the listing.
	_, err := productRepo.Sync(context.Background(), []domain.DiscoveredProduct{
		{Slug: "999/delisted", Name: "Delisted"},
	}, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("seeding failed: %v", err)
	}

	disc := &stubDiscoverer{products: []domain.DiscoveredProduct{
		{Slug: "119768/pink-kush", Name: "Pink Kush", BaseURL: "https://www.gdziepolek.pl/produkty/119768/pink-kush"},
		{Slug: "121591/s-lab", Name: "S-Lab", BaseURL: "https://www.gdziepolek.pl/produkty/121591/s-lab"},
	}}

	fetcher := &stubFetcher{pages: map[string]string{
		"119768/pink-kush": offerPageHTML,
		"121591/s-lab":     emptyPageHTML,
	}}
	factory := func() (Fetcher, error) { return fetcher, nil }

	o := NewOrchestrator(testCrawlerConfig(), disc, productRepo, offerRepo, factory, NewLogNotifier(zap.NewNop()), zap.NewNop())

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Discovered != 2 || summary.Synced != 2 {
		t.Errorf("expected 2 discovered and synced, got %+v", summary)
	}
	if summary.Crawled != 2 {
		t.Errorf("expected 2 crawled products, got %d", summary.Crawled)
	}
	if summary.OffersInserted != 1 {
		t.Errorf("expected 1 inserted offer, got %d", summary.OffersInserted)
	}
	if summary.Deactivated != 2 {
		t.Errorf("expected the delisted and the zero-offer product to be deactivated, got %d", summary.Deactivated)
	}
	if summary.WorkerErrors != 0 {
		t.Errorf("expected no worker errors, got %d", summary.WorkerErrors)
	}
	if o.Phase() != PhaseDone {
		t.Errorf("expected phase done, got %s", o.Phase())
	}

	// The regional URL must carry the region and the stationary anchor.
	found := false
	for _, url := range fetcher.visited {
		if strings.Contains(url, "/apteki/w-slaskim") && strings.HasSuffix(url, "#stacjonarne") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected regional offer URLs, visited: %v", fetcher.visited)
	}

	delisted, err := productRepo.FindBySlug(context.Background(), "999/delisted")
	if err != nil {
		t.Fatalf("FindBySlug failed: %v", err)
	}
	if delisted.Active {
		t.Error("delisted product must be inactive after the run")
	}

	// The product whose offer page listed no pharmacies is gone from the
	// market and must be deactivated too.
	noOffers, err := productRepo.FindBySlug(context.Background(), "121591/s-lab")
	if err != nil {
		t.Fatalf("FindBySlug failed: %v", err)
	}
	if noOffers.Active {
		t.Error("product with an empty offer page must be inactive after the run")
	}

	crawled, err := productRepo.FindBySlug(context.Background(), "119768/pink-kush")
	if err != nil {
		t.Fatalf("FindBySlug failed: %v", err)
	}
	if !crawled.Active {
		t.Error("product with offers must stay active")
	}
	offers, err := offerRepo.Trend(context.Background(), crawled.ID)
	if err != nil {
		t.Fatalf("Trend failed: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("expected 1 stored offer, got %d", len(offers))
	}
	if offers[0].PharmacyName != "Apteka Pod Orłem" {
		t.Errorf("unexpected pharmacy %q", offers[0].PharmacyName)
	}
	if offers[0].Price.String() != "56" {
		t.Errorf("unexpected price %s", offers[0].Price)
	}
}

func TestRunSkipsDeactivationBelowSanityThreshold(t *testing.T) {
	productRepo := newMemProductRepo()
	offerRepo := &memOfferRepo{}

	_, err := productRepo.Sync(context.Background(), []domain.DiscoveredProduct{
		{Slug: "999/existing", Name: "Existing"},
	}, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("seeding failed: %v", err)
	}

	// A suspiciously small discovery, likely a broken listing page.
	disc := &stubDiscoverer{products: []domain.DiscoveredProduct{
		{Slug: "1/only-one", Name: "Only One", BaseURL: "https://www.gdziepolek.pl/produkty/1/only-one"},
	}}

	fetcher := &stubFetcher{pages: map[string]string{"only-one": offerPageHTML}}
	factory := func() (Fetcher, error) { return fetcher, nil }

	cfg := testCrawlerConfig()
	cfg.MinDiscovered = 3

	o := NewOrchestrator(cfg, disc, productRepo, offerRepo, factory, nil, zap.NewNop())
	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Deactivated != 0 {
		t.Errorf("deactivation must be skipped below the threshold, got %d", summary.Deactivated)
	}
	existing, err := productRepo.FindBySlug(context.Background(), "999/existing")
	if err != nil {
		t.Fatalf("FindBySlug failed: %v", err)
	}
	if !existing.Active {
		t.Error("existing product must stay active when discovery is not trusted")
	}
}

func TestRunKeepsUnreachableProductsActive(t *testing.T) {
	productRepo := newMemProductRepo()
	offerRepo := &memOfferRepo{}

	disc := &stubDiscoverer{products: []domain.DiscoveredProduct{
		{Slug: "119768/pink-kush", Name: "Pink Kush", BaseURL: "https://www.gdziepolek.pl/produkty/119768/pink-kush"},
		{Slug: "121591/s-lab", Name: "S-Lab", BaseURL: "https://www.gdziepolek.pl/produkty/121591/s-lab"},
	}}

	// Only one page resolves; the other product's fetch fails every attempt.
	fetcher := &stubFetcher{pages: map[string]string{
		"119768/pink-kush": offerPageHTML,
	}}
	factory := func() (Fetcher, error) { return fetcher, nil }

	o := NewOrchestrator(testCrawlerConfig(), disc, productRepo, offerRepo, factory, nil, zap.NewNop())
	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if summary.Deactivated != 0 {
		t.Errorf("a fetch failure is not evidence of absence, got %d deactivated", summary.Deactivated)
	}
	unreachable, err := productRepo.FindBySlug(context.Background(), "121591/s-lab")
	if err != nil {
		t.Fatalf("FindBySlug failed: %v", err)
	}
	if !unreachable.Active {
		t.Error("unreachable product must stay active")
	}
}

func TestRunSurvivesWorkerWithoutDriver(t *testing.T) {
	productRepo := newMemProductRepo()
	offerRepo := &memOfferRepo{}

	disc := &stubDiscoverer{products: []domain.DiscoveredProduct{
		{Slug: "119768/pink-kush", Name: "Pink Kush", BaseURL: "https://www.gdziepolek.pl/produkty/119768/pink-kush"},
		{Slug: "121591/s-lab", Name: "S-Lab", BaseURL: "https://www.gdziepolek.pl/produkty/121591/s-lab"},
	}}

	fetcher := &stubFetcher{startErr: browser.ErrNoDriver}
	factory := func() (Fetcher, error) { return fetcher, nil }

	o := NewOrchestrator(testCrawlerConfig(), disc, productRepo, offerRepo, factory, nil, zap.NewNop())
	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("a failed worker must not fail the run: %v", err)
	}

	if summary.WorkerErrors != 2 {
		t.Errorf("expected both workers to report the driver failure, got %d", summary.WorkerErrors)
	}
	if summary.OffersInserted != 0 {
		t.Errorf("expected no offers, got %d", summary.OffersInserted)
	}

	// Crawl failures are a zero signal: discovered products stay active.
	active, err := productRepo.FindActive(context.Background())
	if err != nil {
		t.Fatalf("FindActive failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected both products to remain active, got %d", len(active))
	}
}
