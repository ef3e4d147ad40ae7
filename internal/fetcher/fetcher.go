// Package fetcher implements the rate-limited HTTP fetch layer. Admission
// control (a process-wide minimum delay between request issuances plus an
// in-flight concurrency ceiling) sits in front of a Colly collector that
// performs the actual GET; failed attempts are retried with exponential
// backoff unless the response was a client error.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/storepulse/appscraper/internal/metrics"
	"github.com/storepulse/appscraper/internal/scrape"
)

// Config controls fetch pacing and retry behavior.
type Config struct {
	// Delay is the minimum spacing between any two outbound requests,
	// measured issuance-to-issuance and shared by all callers.
	Delay time.Duration
	// MaxConcurrency caps simultaneous in-flight requests.
	MaxConcurrency int
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// BackoffBase scales the 2^attempt retry backoff. Defaults to one
	// second, matching the scraped site's acceptable-use expectations.
	BackoffBase time.Duration
	// UserAgents is the rotation pool. Defaults to DefaultUserAgents.
	UserAgents []string
	// Archive, when set, receives every successfully fetched body.
	Archive       scrape.BlobStore
	ArchivePrefix string
}

// Client is a rate-limited fetcher implementing scrape.Fetcher.
type Client struct {
	cfg    Config
	gate   *rate.Limiter
	slots  chan struct{}
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	base := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	base.IgnoreRobotsTxt = true
	return &Client{
		cfg:    cfg,
		gate:   rate.NewLimiter(limit, 1),
		slots:  make(chan struct{}, cfg.MaxConcurrency),
		base:   base,
		logger: logger,
	}
}

// Fetch retrieves url, merging extra headers over the standard browser-like
// set. Network errors and 5xx responses are retried with 2^attempt backoff
// up to MaxRetries additional attempts; 4xx responses fail immediately.
func (c *Client) Fetch(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
			c.logger.Debug("retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
			)
		}

		body, err := c.attempt(ctx, url, headers, attempt > 0)
		if err == nil {
			c.archive(ctx, url, body)
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
		}

		var httpErr *scrape.HTTPError
		if errors.As(err, &httpErr) && httpErr.IsClientError() {
			return nil, err
		}
		lastErr = err
	}
	return nil, &scrape.FetchError{
		URL:      url,
		Attempts: c.cfg.MaxRetries + 1,
		Err:      lastErr,
	}
}

// attempt performs one admission-controlled GET: wait for an in-flight slot,
// then for the global pacing gate, then issue the request.
func (c *Client) attempt(ctx context.Context, url string, headers http.Header, isRetry bool) ([]byte, error) {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("awaiting fetch slot: %w", ctx.Err())
	}
	defer func() { <-c.slots }()

	if err := c.gate.Wait(ctx); err != nil {
		return nil, fmt.Errorf("awaiting fetch gate: %w", err)
	}

	var (
		body     []byte
		status   int
		fetchErr error
	)

	collector := c.base.Clone()
	collector.UserAgent = c.cfg.UserAgents[rand.IntN(len(c.cfg.UserAgents))]
	collector.SetRequestTimeout(c.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		applyHeaders(r, headers)
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			status = r.StatusCode
			fetchErr = &scrape.HTTPError{URL: url, StatusCode: r.StatusCode}
			return
		}
		fetchErr = err
	})

	if err := c.visit(ctx, collector, url, &fetchErr); err != nil {
		metrics.ObserveFetchAttempt(status, isRetry)
		return nil, err
	}
	metrics.ObserveFetchAttempt(status, isRetry)
	return body, nil
}

func (c *Client) visit(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
		return nil
	}
}

// backoff sleeps BackoffBase * 2^attempt before retry number attempt, so
// waits grow 2s, 4s, 8s with the default base.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	wait := c.cfg.BackoffBase << attempt
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (c *Client) archive(ctx context.Context, url string, body []byte) {
	if c.cfg.Archive == nil {
		return
	}
	sum := sha256.Sum256(body)
	path := hex.EncodeToString(sum[:]) + ".html"
	if c.cfg.ArchivePrefix != "" {
		path = c.cfg.ArchivePrefix + "/" + path
	}
	if _, err := c.cfg.Archive.PutObject(ctx, path, "text/html; charset=utf-8", body); err != nil {
		c.logger.Warn("archive page body failed", zap.String("url", url), zap.Error(err))
	}
}

func applyHeaders(r *colly.Request, extra http.Header) {
	r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	r.Headers.Set("Cache-Control", "no-cache")
	for key, values := range extra {
		for _, v := range values {
			r.Headers.Set(key, v)
		}
	}
}
