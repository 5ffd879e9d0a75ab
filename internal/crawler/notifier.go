package crawler

import (
	"context"

	"go.uber.org/zap"
)

// Notifier receives the outcome of a finished crawl run. Implementations
// must not block the orchestrator for long; they run on the run's own
// goroutine after ingestion is committed.
type Notifier interface {
	CrawlCompleted(ctx context.Context, summary Summary)
}

// LogNotifier reports run outcomes to the structured log. It is the
// default sink when no external channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) CrawlCompleted(_ context.Context, s Summary) {
	n.logger.Info("Crawl run completed",
		zap.Int("discovered", s.Discovered),
		zap.Int("synced", s.Synced),
		zap.Int("crawled", s.Crawled),
		zap.Int("offers_found", s.ListingsFound),
		zap.Int("offers_inserted", s.OffersInserted),
		zap.Int("deactivated", s.Deactivated),
		zap.Int("worker_errors", s.WorkerErrors),
		zap.Duration("discover_duration", s.DiscoverDuration),
		zap.Duration("crawl_duration", s.CrawlDuration),
		zap.Duration("total_duration", s.TotalDuration),
	)
}
