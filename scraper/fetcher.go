package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/avasiliev/bookcrawl/config"
)

// FetchStatus classifies the outcome of one fetch.
type FetchStatus int

const (
	// FetchOK means a 2xx response with a body.
	FetchOK FetchStatus = iota
	// FetchNotFound means the resource does not exist (HTTP 404).
	FetchNotFound
	// FetchTransportError covers connection failures, timeouts, and any
	// other non-2xx status.
	FetchTransportError
)

// Fetcher performs single HTTP GETs with status classification. It keeps
// no crawl state between calls and applies no retry policy of its own;
// retries belong to the orchestrator.
type Fetcher struct {
	collector *colly.Collector
	metrics   *Metrics

	// mu serializes fetches; the colly handlers below write the capture
	// fields for the call currently holding the lock.
	mu         sync.Mutex
	body       []byte
	statusCode int
	err        error
}

// NewFetcher builds a fetcher restricted to the host of cfg.BaseURL.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	f := &Fetcher{collector: collector, metrics: metrics}

	collector.OnResponse(func(r *colly.Response) {
		f.body = r.Body
		f.statusCode = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			f.statusCode = r.StatusCode
		}
		f.err = err
	})

	return f, nil
}

// WithTransport replaces the underlying HTTP transport. Tests use this
// to install a mock transport.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

// Fetch performs one network round trip and classifies the outcome.
// The body is only meaningful for FetchOK.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, FetchStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, FetchTransportError, ErrConnection{Err: err}
	}

	f.body = nil
	f.statusCode = 0
	f.err = nil

	f.metrics.IncRequest("started")
	start := time.Now()
	visitErr := f.collector.Visit(rawURL)
	f.metrics.ObserveDuration(time.Since(start))

	switch {
	case f.statusCode >= 200 && f.statusCode < 300:
		return f.body, FetchOK, nil
	case f.statusCode == http.StatusNotFound:
		err := classifyError(f.err, f.statusCode)
		f.metrics.IncError(errorTypeLabel(err))
		return nil, FetchNotFound, err
	default:
		cause := f.err
		if cause == nil {
			cause = visitErr
		}
		err := classifyError(cause, f.statusCode)
		if err == nil {
			err = fmt.Errorf("no response for %s", rawURL)
		}
		f.metrics.IncError(errorTypeLabel(err))
		return nil, FetchTransportError, err
	}
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	return err
}
