package crawler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"pharmwatch/internal/config"
	"pharmwatch/internal/discovery"
	"pharmwatch/internal/domain"
	"pharmwatch/internal/extractor"
	"pharmwatch/internal/parser"
	"pharmwatch/internal/repository"
	"pharmwatch/internal/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase tracks where a crawl run currently is.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDiscover
	PhaseSync
	PhaseCrawl
	PhaseDeactivate
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDiscover:
		return "discover"
	case PhaseSync:
		return "sync"
	case PhaseCrawl:
		return "crawl"
	case PhaseDeactivate:
		return "deactivate"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Fetcher is the per-worker page loader. Each worker owns exactly one and
// closes it when its product range is done.
type Fetcher interface {
	Start() error
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

// SessionFactory builds one Fetcher per crawl worker.
type SessionFactory func() (Fetcher, error)

// Discoverer enumerates the current catalog from the listing page.
type Discoverer interface {
	Discover(ctx context.Context) ([]domain.DiscoveredProduct, error)
}

// Summary is the outcome of one complete crawl run.
type Summary struct {
	Discovered       int
	Synced           int
	Crawled          int
	ListingsFound    int
	OffersInserted   int
	Deactivated      int
	WorkerErrors     int
	DiscoverDuration time.Duration
	CrawlDuration    time.Duration
	TotalDuration    time.Duration
}

// Orchestrator drives one crawl run end to end: discover the catalog, sync
// it into the store, crawl every product's regional offer page with a pool
// of browser workers, ingest the offers, and deactivate products that
// vanished from the listing or whose offer page showed nothing for sale.
type Orchestrator struct {
	cfg      config.CrawlerConfig
	disc     Discoverer
	products repository.ProductRepository
	offers   repository.PriceOfferRepository
	sessions SessionFactory
	notifier Notifier
	logger   *zap.Logger

	mu    sync.Mutex
	phase Phase
}

// NewOrchestrator wires a crawl run. The notifier may be nil.
func NewOrchestrator(
	cfg config.CrawlerConfig,
	disc Discoverer,
	products repository.ProductRepository,
	offers repository.PriceOfferRepository,
	sessions SessionFactory,
	notifier Notifier,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		disc:     disc,
		products: products,
		offers:   offers,
		sessions: sessions,
		notifier: notifier,
		logger:   logger,
		phase:    PhaseIdle,
	}
}

// Phase returns the current run phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	o.logger.Info("Crawl phase", zap.String("phase", p.String()))
}

// Run executes one crawl pass. A failed worker degrades the run to fewer
// observations; it never fails the run or triggers deactivation of the
// products it could not reach. Only positive evidence deactivates: absence
// from the listing, or an offer page that loaded with nothing for sale.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	started := time.Now().UTC()
	summary := &Summary{}

	o.setPhase(PhaseDiscover)
	discovered, err := o.disc.Discover(ctx)
	if err != nil {
		o.setPhase(PhaseIdle)
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	summary.Discovered = len(discovered)
	summary.DiscoverDuration = time.Since(started)

	o.setPhase(PhaseSync)
	products, err := o.products.Sync(ctx, discovered, started)
	if err != nil {
		o.setPhase(PhaseIdle)
		return nil, fmt.Errorf("product sync failed: %w", err)
	}
	summary.Synced = len(products)

	baseURLs := make(map[string]string, len(discovered))
	for _, d := range discovered {
		baseURLs[d.Slug] = d.BaseURL
	}

	o.setPhase(PhaseCrawl)
	crawlStarted := time.Now()
	collected, noOffers := o.crawl(ctx, products, baseURLs, started, summary)
	summary.CrawlDuration = time.Since(crawlStarted)

	o.setPhase(PhaseDeactivate)
	if summary.Discovered >= o.cfg.MinDiscovered {
		keep := make([]string, 0, len(discovered))
		for _, d := range discovered {
			keep = append(keep, d.Slug)
		}
		deactivated, err := o.products.DeactivateMissing(ctx, keep)
		if err != nil {
			o.setPhase(PhaseIdle)
			return nil, fmt.Errorf("deactivation failed: %w", err)
		}
		summary.Deactivated += deactivated
	} else {
		o.logger.Warn("Skipping deactivation, discovery below sanity threshold",
			zap.Int("discovered", summary.Discovered),
			zap.Int("min_discovered", o.cfg.MinDiscovered),
		)
	}

	// Products whose offer page loaded fine but listed nothing for sale are
	// confirmed gone from the market; fetch failures never land here.
	if len(noOffers) > 0 {
		deactivated, err := o.products.Deactivate(ctx, noOffers)
		if err != nil {
			o.setPhase(PhaseIdle)
			return nil, fmt.Errorf("zero-offer deactivation failed: %w", err)
		}
		summary.Deactivated += deactivated
	}

	o.logCheapest(collected, products)

	summary.TotalDuration = time.Since(started)
	o.setPhase(PhaseDone)

	if o.notifier != nil {
		o.notifier.CrawlCompleted(ctx, *summary)
	}
	return summary, nil
}

type workerResult struct {
	offers   []*domain.PriceOffer
	noOffers []string
	crawled  int
	inserted int
	err      error
}

func (o *Orchestrator) crawl(
	ctx context.Context,
	products []*domain.Product,
	baseURLs map[string]string,
	fetchedAt time.Time,
	summary *Summary,
) ([]*domain.PriceOffer, []string) {
	bounds := PartitionBounds(len(products), o.cfg.Workers)
	results := make(chan workerResult, len(bounds))

	var wg sync.WaitGroup
	for i, b := range bounds {
		wg.Add(1)
		go func(id int, chunk []*domain.Product) {
			defer wg.Done()
			results <- o.runWorker(ctx, id, chunk, baseURLs, fetchedAt)
		}(i, products[b[0]:b[1]])
	}
	wg.Wait()
	close(results)

	var (
		collected []*domain.PriceOffer
		noOffers  []string
	)
	for r := range results {
		if r.err != nil {
			summary.WorkerErrors++
			o.logger.Error("Crawl worker failed", zap.Error(r.err))
		}
		summary.Crawled += r.crawled
		summary.OffersInserted += r.inserted
		collected = append(collected, r.offers...)
		noOffers = append(noOffers, r.noOffers...)
	}
	summary.ListingsFound = len(collected)
	return collected, noOffers
}

// runWorker crawls one contiguous product range with its own browser
// session. A session that cannot start at all takes the whole range down;
// everything else degrades per product.
func (o *Orchestrator) runWorker(
	ctx context.Context,
	id int,
	chunk []*domain.Product,
	baseURLs map[string]string,
	fetchedAt time.Time,
) workerResult {
	logger := o.logger.With(zap.Int("worker", id))
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	session, err := o.sessions()
	if err != nil {
		return workerResult{err: fmt.Errorf("worker %d: %w", id, err)}
	}
	if err := session.Start(); err != nil {
		return workerResult{err: fmt.Errorf("worker %d: %w", id, err)}
	}
	defer session.Close()

	var result workerResult
	for i, product := range chunk {
		if ctx.Err() != nil {
			result.err = ctx.Err()
			return result
		}

		url := discovery.RegionalURL(baseURLs[product.Slug], o.cfg.Region, "")
		logger.Info("Crawling product",
			zap.String("slug", product.Slug),
			zap.String("url", url),
		)

		var html string
		err := retry.Do(ctx, logger, "fetch offer page", o.cfg.MaxFetchAttempts, func(ctx context.Context) error {
			var fetchErr error
			html, fetchErr = session.Fetch(ctx, url)
			return fetchErr
		})
		if err != nil {
			logger.Warn("Giving up on product",
				zap.String("slug", product.Slug),
				zap.Error(err),
			)
			continue
		}

		listings, err := extractor.ExtractListings(html)
		if err != nil {
			logger.Warn("Failed to extract listings",
				zap.String("slug", product.Slug),
				zap.Error(err),
			)
			continue
		}

		result.crawled++
		if len(listings) == 0 {
			// The page loaded and parsed but no pharmacy sells the product;
			// that is a positive signal, unlike a fetch failure above.
			result.noOffers = append(result.noOffers, product.Slug)
		} else {
			rows := offersFromListings(product.ID, listings, fetchedAt)
			inserted, err := o.offers.InsertOffers(ctx, rows)
			if err != nil {
				result.err = fmt.Errorf("worker %d: ingesting %q: %w", id, product.Slug, err)
				return result
			}
			result.inserted += inserted
			result.offers = append(result.offers, rows...)
		}

		if i < len(chunk)-1 {
			if err := o.politenessPause(ctx, rng); err != nil {
				result.err = err
				return result
			}
		}
	}
	return result
}

// politenessPause sleeps a random interval between product fetches so the
// pool does not hammer the site at machine speed.
func (o *Orchestrator) politenessPause(ctx context.Context, rng *rand.Rand) error {
	min, max := o.cfg.PolitenessMin, o.cfg.PolitenessMax
	if max <= min {
		max = min + time.Millisecond
	}
	delay := min + time.Duration(rng.Int63n(int64(max-min)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// offersFromListings flattens parsed listings into persistable rows, one
// row per offer, all stamped with the run's fetch time.
func offersFromListings(productID uuid.UUID, listings []domain.PharmacyListing, fetchedAt time.Time) []*domain.PriceOffer {
	var rows []*domain.PriceOffer
	for _, l := range listings {
		for _, offer := range l.Offers {
			rows = append(rows, &domain.PriceOffer{
				ProductID:    productID,
				PharmacyName: l.PharmacyName,
				Address:      l.Address,
				Price:        offer.Price,
				Unit:         offer.Unit,
				Expiration:   optional(offer.Expiration),
				FetchedAt:    fetchedAt,
				Availability: optional(l.Availability),
				UpdatedNote:  optional(l.UpdatedNote),
				MapURL:       optional(l.MapURL),
			})
		}
	}
	return rows
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// logCheapest reports the best per-gram price found for each product in
// this run, with its market band.
func (o *Orchestrator) logCheapest(collected []*domain.PriceOffer, products []*domain.Product) {
	slugs := make(map[uuid.UUID]string, len(products))
	for _, p := range products {
		slugs[p.ID] = p.Slug
	}

	cheapest := make(map[uuid.UUID]*domain.PriceOffer)
	for _, offer := range collected {
		perGram, _ := parser.PerUnit(offer.Price, offer.Unit)
		best, ok := cheapest[offer.ProductID]
		if !ok {
			cheapest[offer.ProductID] = offer
			continue
		}
		bestPerGram, _ := parser.PerUnit(best.Price, best.Unit)
		if perGram.LessThan(bestPerGram) {
			cheapest[offer.ProductID] = offer
		}
	}

	for productID, offer := range cheapest {
		perGram, unit := parser.PerUnit(offer.Price, offer.Unit)
		o.logger.Info("Cheapest offer",
			zap.String("slug", slugs[productID]),
			zap.String("pharmacy", offer.PharmacyName),
			zap.String("price", perGram.String()),
			zap.String("unit", unit),
			zap.String("band", string(parser.Classify(perGram))),
		)
	}
}
