package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"pharmwatch/internal/browser"
	"pharmwatch/internal/config"
	"pharmwatch/internal/crawler"
	"pharmwatch/internal/database"
	"pharmwatch/internal/discovery"
	"pharmwatch/internal/logger"
	"pharmwatch/internal/repository"

	"go.uber.org/zap"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting pharmacy price crawler",
		zap.String("env", cfg.App.Env),
		zap.String("region", cfg.Crawler.Region),
		zap.Int("workers", cfg.Crawler.Workers),
	)

	// One crawl pass per invocation; scheduling lives outside the binary.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	health := database.Health(ctx, db)
	log.Info("Database health check", zap.Any("health", health))

	// Run migrations
	if err := database.RunMigrations(db, "migrations", log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database migrations completed successfully")

	// The discovery pass gets its own session; crawl workers launch theirs
	// through the factory.
	discoverySession, err := browser.NewSession(cfg.Browser, cfg.Crawler.RestartEvery, log.Named("discovery"))
	if err != nil {
		log.Fatal("Failed to prepare discovery session", zap.Error(err))
	}
	if err := discoverySession.Start(); err != nil {
		log.Fatal("Failed to start discovery session", zap.Error(err))
	}
	defer discoverySession.Close()

	disc := discovery.New(discoverySession, cfg.Crawler.CategoryURL, cfg.Crawler.SiteBaseURL, log.Named("discovery"))

	sessions := func() (crawler.Fetcher, error) {
		return browser.NewSession(cfg.Browser, cfg.Crawler.RestartEvery, log.Named("worker"))
	}

	orchestrator := crawler.NewOrchestrator(
		cfg.Crawler,
		disc,
		repository.NewProductRepository(db),
		repository.NewPriceOfferRepository(db),
		sessions,
		crawler.NewLogNotifier(log),
		log.Named("crawler"),
	)

	summary, err := orchestrator.Run(ctx)
	if err != nil {
		log.Fatal("Crawl run failed", zap.Error(err))
	}

	log.Info("Crawl run finished",
		zap.Int("discovered", summary.Discovered),
		zap.Int("offers_inserted", summary.OffersInserted),
		zap.Duration("duration", summary.TotalDuration),
	)
}
