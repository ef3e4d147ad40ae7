// Package app initializes and holds the long-lived services the CLI
// commands run on, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/storepulse/appscraper/internal/api"
	gcsblob "github.com/storepulse/appscraper/internal/blobstore/gcs"
	memblob "github.com/storepulse/appscraper/internal/blobstore/memory"
	"github.com/storepulse/appscraper/internal/clock/system"
	"github.com/storepulse/appscraper/internal/config"
	"github.com/storepulse/appscraper/internal/digest"
	"github.com/storepulse/appscraper/internal/fetcher"
	"github.com/storepulse/appscraper/internal/logging"
	"github.com/storepulse/appscraper/internal/metrics"
	"github.com/storepulse/appscraper/internal/orchestrator"
	"github.com/storepulse/appscraper/internal/parser"
	memqueue "github.com/storepulse/appscraper/internal/queue/memory"
	psqueue "github.com/storepulse/appscraper/internal/queue/pubsub"
	"github.com/storepulse/appscraper/internal/scrape"
	"github.com/storepulse/appscraper/internal/scraper"
	"github.com/storepulse/appscraper/internal/store/postgres"
)

// App holds every shared service. It is built once in the root command's
// PersistentPreRunE and torn down after the subcommand returns.
type App struct {
	Config config.Config
	Logger *zap.Logger
	Store  *postgres.Store
	Queue  scrape.Queue
	Clock  scrape.Clock

	Categories *scraper.CategoryCrawler
	Details    *scraper.AppDetailsScraper
	Keywords   *scraper.KeywordScraper
	Reviews    *scraper.ReviewScraper
	Digest     *digest.Sender

	Orchestrator *orchestrator.Orchestrator
	API          *api.Server

	closers []func() error
}

// New builds the service graph from configuration, failing fast when any
// critical service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger, Clock: system.Clock{}}

	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, func() error { store.Close(); return nil })

	archive, err := a.buildArchive(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	fetch := fetcher.New(fetcher.Config{
		Delay:          cfg.Fetcher.FetchDelay(),
		MaxConcurrency: cfg.Fetcher.MaxConcurrency,
		MaxRetries:     cfg.Fetcher.MaxRetries,
		Timeout:        cfg.Fetcher.Timeout(),
		UserAgents:     fetcher.DefaultUserAgents,
		Archive:        archive,
		ArchivePrefix:  cfg.Archive.Prefix,
	}, logger)
	parse := parser.New()

	a.Categories = scraper.NewCategoryCrawler(fetch, parse, store, a.Clock, scraper.CategoryConfig{
		BaseURL:          cfg.Site.BaseURL,
		Seeds:            cfg.Site.CategorySeeds,
		MaxDepth:         cfg.Site.MaxDepth,
		FeaturedMaxDepth: cfg.Site.FeaturedMaxDepth,
	}, logger)
	a.Details = scraper.NewAppDetailsScraper(fetch, parse, store, a.Clock, scraper.AppDetailsConfig{
		BaseURL: cfg.Site.BaseURL,
	}, logger)
	a.Keywords = scraper.NewKeywordScraper(fetch, parse, store, a.Clock, scraper.KeywordConfig{
		BaseURL: cfg.Site.BaseURL,
	}, logger)
	a.Reviews = scraper.NewReviewScraper(fetch, parse, store, a.Clock, scraper.ReviewsConfig{
		BaseURL: cfg.Site.BaseURL,
	}, logger)
	a.Digest = digest.NewSender(store, digest.NewLogMailer(logger), a.Clock, digest.Config{
		FromAddress: cfg.Digest.FromAddress,
	}, logger)

	if err := a.buildQueue(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Orchestrator = orchestrator.New(orchestrator.Config{
		DispatchInterval: cfg.Worker.DispatchInterval(),
	}, a.Queue, store, a.Categories, a.Details, a.Keywords, a.Reviews, a.Digest, logger)
	a.API = api.NewServer(store, logger)

	logger.Info("application services initialized",
		zap.String("queue", cfg.Queue.Provider),
		zap.String("archive", cfg.Archive.Provider),
	)
	return a, nil
}

func (a *App) buildArchive(ctx context.Context) (scrape.BlobStore, error) {
	switch a.Config.Archive.Provider {
	case "none", "":
		return nil, nil
	case "memory":
		return memblob.NewStore(), nil
	case "gcs":
		store, err := gcsblob.NewStore(ctx, a.Config.Archive.Bucket)
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive provider %q", a.Config.Archive.Provider)
	}
}

func (a *App) buildQueue(ctx context.Context) error {
	switch a.Config.Queue.Provider {
	case "memory":
		q := memqueue.NewQueue(a.Config.Queue.Depth)
		a.Queue = q
		a.closers = append(a.closers, func() error { q.Close(); return nil })
	case "pubsub":
		q, err := psqueue.NewQueue(ctx, psqueue.Config{
			ProjectID:      a.Config.Queue.ProjectID,
			TopicID:        a.Config.Queue.TopicID,
			SubscriptionID: a.Config.Queue.SubscriptionID,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("init pubsub queue: %w", err)
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	default:
		return fmt.Errorf("unknown queue provider %q", a.Config.Queue.Provider)
	}
	return nil
}

// Close shuts services down in reverse initialization order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("service shutdown error", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
