// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttemptsTotal *prometheus.CounterVec
	fetchRetriesTotal  prometheus.Counter
	itemsTotal         *prometheus.CounterVec
	runDurationSeconds *prometheus.HistogramVec
	jobsTotal          *prometheus.CounterVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appscraper_fetch_attempts_total",
				Help: "Total HTTP fetch attempts, labeled by outcome status code (0 = network error).",
			},
			[]string{"status"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "appscraper_fetch_retries_total",
				Help: "Total fetch attempts that were retries of a failed attempt.",
			},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appscraper_items_total",
				Help: "Items processed by scrapers, labeled by scraper type and result.",
			},
			[]string{"scraper", "result"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "appscraper_run_duration_seconds",
				Help:    "Duration of scrape runs, labeled by scraper type.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"scraper"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "appscraper_jobs_total",
				Help: "Jobs consumed from the queue, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		)
	})
}

// ObserveFetchAttempt records one fetch attempt outcome.
func ObserveFetchAttempt(statusCode int, retry bool) {
	if fetchAttemptsTotal == nil {
		return
	}
	fetchAttemptsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	if retry {
		fetchRetriesTotal.Inc()
	}
}

// ObserveItem records one scraped or failed item.
func ObserveItem(scraper string, failed bool) {
	if itemsTotal == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	itemsTotal.WithLabelValues(scraper, result).Inc()
}

// ObserveRun records a finished scrape run.
func ObserveRun(scraper string, d time.Duration) {
	if runDurationSeconds == nil {
		return
	}
	runDurationSeconds.WithLabelValues(scraper).Observe(d.Seconds())
}

// ObserveJob records a consumed queue job.
func ObserveJob(kind string, err error) {
	if jobsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	jobsTotal.WithLabelValues(kind, result).Inc()
}
