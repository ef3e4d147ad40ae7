// Package orchestrator consumes scrape jobs from the queue one at a time,
// dispatches them to the right scraper, and enqueues the follow-up jobs each
// kind fans out into.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/storepulse/appscraper/internal/metrics"
	"github.com/storepulse/appscraper/internal/scrape"
	"github.com/storepulse/appscraper/internal/scraper"
)

type categoryRunner interface {
	Crawl(ctx context.Context, opts scraper.CrawlOptions) (*scraper.CrawlResult, error)
	ScrapeSingle(ctx context.Context, slug string, opts scraper.CrawlOptions) (*scraper.CrawlResult, error)
}

type detailsRunner interface {
	ScrapeSingle(ctx context.Context, slug, triggeredBy string) (*scraper.DetailsResult, error)
	ScrapeTracked(ctx context.Context, triggeredBy string) (*scraper.DetailsResult, error)
}

type keywordRunner interface {
	ScrapeOne(ctx context.Context, keyword, triggeredBy string) (*scraper.KeywordResult, error)
	ScrapeAll(ctx context.Context, triggeredBy string) (*scraper.KeywordResult, error)
	ScrapeSuggestions(ctx context.Context, triggeredBy string) (map[string][]string, error)
}

type reviewRunner interface {
	ScrapeSingle(ctx context.Context, slug, triggeredBy string) (*scraper.ReviewsResult, error)
	ScrapeTracked(ctx context.Context, triggeredBy string) (*scraper.ReviewsResult, error)
}

type digestRunner interface {
	Run(ctx context.Context, scope scrape.DigestScope, triggeredBy string) error
}

// Config tunes the orchestrator loop.
type Config struct {
	// DispatchInterval is the minimum spacing between job dispatches.
	DispatchInterval time.Duration
}

// Orchestrator is the single queue consumer. Jobs run strictly one at a
// time; concurrency control lives in the fetcher, not here.
type Orchestrator struct {
	queue      scrape.Queue
	store      scrape.Store
	categories categoryRunner
	details    detailsRunner
	keywords   keywordRunner
	reviews    reviewRunner
	digest     digestRunner
	throttle   *rate.Limiter
	logger     *zap.Logger
}

// New assembles an orchestrator from its collaborators.
func New(cfg Config, queue scrape.Queue, store scrape.Store, categories categoryRunner, details detailsRunner, keywords keywordRunner, reviews reviewRunner, digest digestRunner, logger *zap.Logger) *Orchestrator {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 5 * time.Second
	}
	return &Orchestrator{
		queue:      queue,
		store:      store,
		categories: categories,
		details:    details,
		keywords:   keywords,
		reviews:    reviews,
		digest:     digest,
		throttle:   rate.NewLimiter(rate.Every(cfg.DispatchInterval), 1),
		logger:     logger.Named("orchestrator"),
	}
}

// Run consumes jobs until the context is done. Job failures are logged and
// counted; only context cancellation stops the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started")
	for {
		job, err := o.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				o.logger.Info("orchestrator stopping", zap.Error(ctx.Err()))
				return ctx.Err()
			}
			o.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		if err := o.throttle.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		err = o.Handle(ctx, job)
		metrics.ObserveJob(string(job.Kind), err)
		if err != nil {
			o.logger.Error("job failed",
				zap.String("kind", string(job.Kind)),
				zap.String("slug", job.Slug),
				zap.String("keyword", job.Keyword),
				zap.String("triggered_by", job.TriggeredBy),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			continue
		}
		o.logger.Info("job done",
			zap.String("kind", string(job.Kind)),
			zap.String("slug", job.Slug),
			zap.String("keyword", job.Keyword),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// Handle dispatches one job and enqueues its cascade. Cascade enqueue
// failures never fail the parent job; the parent's work is already
// persisted.
func (o *Orchestrator) Handle(ctx context.Context, job scrape.Job) error {
	switch job.Kind {
	case scrape.JobCategory:
		return o.handleCategory(ctx, job)
	case scrape.JobAppDetails:
		return o.handleAppDetails(ctx, job)
	case scrape.JobKeywordSearch:
		return o.handleKeywordSearch(ctx, job)
	case scrape.JobKeywordSuggestions:
		_, err := o.keywords.ScrapeSuggestions(ctx, job.TriggeredBy)
		return err
	case scrape.JobReviews:
		return o.handleReviews(ctx, job)
	case scrape.JobDailyDigest:
		scope := scrape.DigestScope{UserID: job.UserID, AccountID: job.AccountID}
		return o.digest.Run(ctx, scope, job.TriggeredBy)
	case scrape.JobComputeReviewMetrics:
		return o.store.RefreshReviewMetrics(ctx, job.Slug)
	case scrape.JobComputeSimilarityScores:
		return o.store.RefreshSimilarityScores(ctx)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (o *Orchestrator) handleCategory(ctx context.Context, job scrape.Job) error {
	opts := scraper.CrawlOptions{Pages: job.Options.Pages, TriggeredBy: job.TriggeredBy}
	var (
		res *scraper.CrawlResult
		err error
	)
	if job.Slug != "" {
		res, err = o.categories.ScrapeSingle(ctx, job.Slug, opts)
	} else {
		res, err = o.categories.Crawl(ctx, opts)
	}
	if err != nil {
		return err
	}
	if job.Options.ScrapeAppDetails {
		for _, slug := range res.DiscoveredSlugs {
			o.enqueue(ctx, scrape.Job{
				Kind:        scrape.JobAppDetails,
				Slug:        slug,
				TriggeredBy: job.CascadeTrigger(),
				Options:     scrape.JobOptions{ScrapeReviews: job.Options.ScrapeReviews},
			})
		}
	}
	return nil
}

func (o *Orchestrator) handleAppDetails(ctx context.Context, job scrape.Job) error {
	var err error
	if job.Slug != "" {
		_, err = o.details.ScrapeSingle(ctx, job.Slug, job.TriggeredBy)
	} else {
		_, err = o.details.ScrapeTracked(ctx, job.TriggeredBy)
	}
	if err != nil {
		return err
	}
	if job.Options.ScrapeReviews {
		// Same scope as the parent: a slug-less job stays tracked-wide.
		o.enqueue(ctx, scrape.Job{
			Kind:        scrape.JobReviews,
			Slug:        job.Slug,
			TriggeredBy: job.CascadeTrigger(),
		})
	}
	// Similar-app sightings may have shifted; recompute regardless.
	o.enqueue(ctx, scrape.Job{
		Kind:        scrape.JobComputeSimilarityScores,
		TriggeredBy: job.CascadeTrigger(),
	})
	return nil
}

func (o *Orchestrator) handleKeywordSearch(ctx context.Context, job scrape.Job) error {
	var (
		res *scraper.KeywordResult
		err error
	)
	if job.Keyword != "" {
		res, err = o.keywords.ScrapeOne(ctx, job.Keyword, job.TriggeredBy)
	} else {
		res, err = o.keywords.ScrapeAll(ctx, job.TriggeredBy)
	}
	if err != nil {
		return err
	}
	if job.Options.ScrapeAppDetails {
		for _, slug := range res.DiscoveredSlugs {
			o.enqueue(ctx, scrape.Job{
				Kind:        scrape.JobAppDetails,
				Slug:        slug,
				TriggeredBy: job.CascadeTrigger(),
				Options:     scrape.JobOptions{ScrapeReviews: job.Options.ScrapeReviews},
			})
		}
	}
	o.enqueue(ctx, scrape.Job{
		Kind:        scrape.JobKeywordSuggestions,
		TriggeredBy: job.CascadeTrigger(),
	})
	o.enqueue(ctx, scrape.Job{
		Kind:        scrape.JobComputeSimilarityScores,
		TriggeredBy: job.CascadeTrigger(),
	})
	return nil
}

func (o *Orchestrator) handleReviews(ctx context.Context, job scrape.Job) error {
	var err error
	if job.Slug != "" {
		_, err = o.reviews.ScrapeSingle(ctx, job.Slug, job.TriggeredBy)
	} else {
		_, err = o.reviews.ScrapeTracked(ctx, job.TriggeredBy)
	}
	if err != nil {
		return err
	}
	o.enqueue(ctx, scrape.Job{
		Kind:        scrape.JobComputeReviewMetrics,
		Slug:        job.Slug,
		TriggeredBy: job.CascadeTrigger(),
	})
	return nil
}

func (o *Orchestrator) enqueue(ctx context.Context, job scrape.Job) {
	if err := o.queue.Enqueue(ctx, job); err != nil {
		o.logger.Error("cascade enqueue failed",
			zap.String("kind", string(job.Kind)),
			zap.String("slug", job.Slug),
			zap.Error(err),
		)
	}
}
