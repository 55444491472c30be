// Package scraper implements the catalog crawl: page-by-page traversal
// with principled termination, per-item fault recovery, and rate-limited
// detail fetching.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/avasiliev/bookcrawl/config"
	"github.com/avasiliev/bookcrawl/models"
	"github.com/avasiliev/bookcrawl/parser"
)

// pageState is the outcome of processing one catalog page. Each loop
// iteration reports exactly one of these instead of steering control
// flow through errors.
type pageState int

const (
	pageContinue pageState = iota
	pageStopNormal
	pageStopFatal
)

// Scraper drives the page loop over the numbered catalog. It holds no
// cursor between crawls; every Crawl starts from page 1.
type Scraper struct {
	cfg     *config.Config
	fetcher *Fetcher
	limiter Limiter
	base    *url.URL
	Metrics *Metrics
}

// NewScraper builds a scraper instance configured from cfg. The default
// rate-limit policy is a fixed delay of cfg.Delay after each detail
// fetch.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}

	return &Scraper{
		cfg:     cfg,
		fetcher: fetcher,
		limiter: FixedDelay(cfg.Delay),
		base:    base,
		Metrics: metrics,
	}, nil
}

// SetLimiter replaces the rate-limiting policy.
func (s *Scraper) SetLimiter(l Limiter) {
	if l != nil {
		s.limiter = l
	}
}

// WithTransport replaces the HTTP transport used for fetches.
func (s *Scraper) WithTransport(rt http.RoundTripper) {
	s.fetcher.WithTransport(rt)
}

// Crawl walks catalog pages starting at 1 and aggregates one Item per
// successfully processed detail page, in catalog traversal order. It
// terminates on the configured page bound, on the end-of-catalog signal
// (404 or an empty listing), or on a fatal listing fetch failure. Only
// the last case returns a non-nil error, always alongside the partial
// result accumulated so far. Per-item failures never end the crawl;
// they are recorded in the result's Failures list.
func (s *Scraper) Crawl(ctx context.Context) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.CrawlResult{StartTime: time.Now()}
	var fatal error

	for page := 1; ; page++ {
		if s.cfg.MaxPages >= 0 && page > s.cfg.MaxPages {
			slog.Debug("page bound reached", slog.Int("max_pages", s.cfg.MaxPages))
			break
		}

		state, err := s.processPage(ctx, page, result)
		if state == pageStopFatal {
			fatal = err
			break
		}
		if state == pageStopNormal {
			break
		}
	}

	result.EndTime = time.Now()
	return result, fatal
}

func (s *Scraper) processPage(ctx context.Context, page int, result *models.CrawlResult) (pageState, error) {
	pageURL := s.pageURL(page)
	slog.Debug("processing catalog page",
		slog.Int("page", page),
		slog.String("url", pageURL.String()),
	)

	body, status, err := s.fetchWithRetry(ctx, pageURL.String())
	switch status {
	case FetchNotFound:
		slog.Info("end of catalog reached", slog.Int("page", page))
		return pageStopNormal, nil
	case FetchTransportError:
		return pageStopFatal, &ListingError{Page: page, URL: pageURL.String(), Err: err}
	}

	refs, err := parser.ExtractRefs(body, pageURL)
	if err != nil {
		return pageStopFatal, &ListingError{Page: page, URL: pageURL.String(), Err: err}
	}
	if len(refs) == 0 {
		slog.Info("no items on page, stopping", slog.Int("page", page))
		return pageStopNormal, nil
	}

	for _, ref := range refs {
		s.processDetail(ctx, ref, result)
		if err := s.limiter.Wait(ctx); err != nil {
			return pageStopFatal, &ListingError{Page: page, URL: pageURL.String(), Err: fmt.Errorf("rate limit wait: %w", err)}
		}
	}

	result.PageCount++
	s.Metrics.IncPages()
	return pageContinue, nil
}

// processDetail fetches and extracts one detail page. Failures are
// absorbed into the result's failure list; a single bad item never
// aborts the page or the crawl.
func (s *Scraper) processDetail(ctx context.Context, detailURL string, result *models.CrawlResult) {
	body, status, err := s.fetchWithRetry(ctx, detailURL)
	if status != FetchOK {
		s.recordFailure(result, detailURL, models.FailureFetch, err)
		return
	}

	item, err := parser.ExtractItem(body, detailURL)
	if err != nil {
		s.recordFailure(result, detailURL, models.FailureExtract, err)
		return
	}
	if err := parser.ValidateItem(item); err != nil {
		s.recordFailure(result, detailURL, models.FailureExtract, err)
		return
	}

	result.Items = append(result.Items, item)
	s.Metrics.IncItems()
	slog.Debug("extracted item", slog.String("title", item.Title), slog.String("url", detailURL))
}

func (s *Scraper) recordFailure(result *models.CrawlResult, url string, kind models.FailureKind, err error) {
	cause := "unknown"
	if err != nil {
		cause = err.Error()
	}
	result.Failures = append(result.Failures, models.Failure{URL: url, Kind: kind, Cause: cause})
	slog.Error("skipping detail page",
		slog.String("url", url),
		slog.String("kind", string(kind)),
		slog.Any("error", err),
	)
}

// fetchWithRetry retries transport errors with exponential backoff up to
// cfg.MaxRetries extra attempts. A 404 is never retried.
func (s *Scraper) fetchWithRetry(ctx context.Context, url string) ([]byte, FetchStatus, error) {
	body, status, err := s.fetcher.Fetch(ctx, url)
	for attempt := 1; status == FetchTransportError && attempt <= s.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return body, status, err
		}
		delay := s.backoff(attempt)
		slog.Debug("retrying fetch",
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
		)
		s.Metrics.IncRetries()

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return body, status, err
		}
		body, status, err = s.fetcher.Fetch(ctx, url)
	}
	return body, status, err
}

func (s *Scraper) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := s.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := s.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

// pageURL resolves the numbered listing page against the catalog base.
func (s *Scraper) pageURL(page int) *url.URL {
	ref := &url.URL{Path: fmt.Sprintf("page-%d.html", page)}
	return s.base.ResolveReference(ref)
}
