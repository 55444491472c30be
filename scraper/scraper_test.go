package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/avasiliev/bookcrawl/config"
	"github.com/avasiliev/bookcrawl/models"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = "http://example.test/"
	cfg.MaxPages = -1
	cfg.Delay = 0
	cfg.MaxRetries = 0
	return cfg
}

func newTestScraper(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport) *Scraper {
	t.Helper()
	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	s.WithTransport(transport)
	return s
}

func TestCrawlStopsAtCatalogEnd(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page-1.html", htmlResponder(buildCatalogPage(1, 2, 3)))
	transport.RegisterResponder("GET", "http://example.test/page-2.html", htmlResponder(buildCatalogPage(4, 5, 6)))
	transport.RegisterResponder("GET", "http://example.test/page-3.html", httpmock.NewStringResponder(404, ""))
	registerDetails(transport, 1, 2, 3, 4, 5, 6)

	s := newTestScraper(t, testConfig(), transport)
	result, err := s.Crawl(context.Background())
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}

	want := []string{"Book 1", "Book 2", "Book 3", "Book 4", "Book 5", "Book 6"}
	got := titles(result)
	if len(got) != len(want) {
		t.Fatalf("items=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("items[%d]=%q, want %q (traversal order must match the catalog)", i, got[i], want[i])
		}
	}
	if result.PageCount != 2 {
		t.Fatalf("pages=%d, want 2", result.PageCount)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("failures=%v, want none", result.Failures)
	}
}

func TestCrawlEmptyListingStops(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page-1.html", htmlResponder(buildCatalogPage()))

	s := newTestScraper(t, testConfig(), transport)
	result, err := s.Crawl(context.Background())
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if len(result.Items) != 0 {
		t.Fatalf("items=%d, want 0", len(result.Items))
	}
	if result.PageCount != 0 {
		t.Fatalf("pages=%d, want 0", result.PageCount)
	}
}

func TestCrawlRespectsPageBound(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page-1.html", htmlResponder(buildCatalogPage(1, 2, 3)))
	registerDetails(transport, 1, 2, 3)

	cfg := testConfig()
	cfg.MaxPages = 1

	s := newTestScraper(t, cfg, transport)
	result, err := s.Crawl(context.Background())
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if len(result.Items) != 3 {
		t.Fatalf("items=%d, want 3", len(result.Items))
	}
}

func TestCrawlZeroPagesFetchesNothing(t *testing.T) {
	transport := httpmock.NewMockTransport()

	cfg := testConfig()
	cfg.MaxPages = 0

	s := newTestScraper(t, cfg, transport)
	result, err := s.Crawl(context.Background())
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}
	if len(result.Items) != 0 {
		t.Fatalf("items=%d, want 0", len(result.Items))
	}
	if got := transport.GetTotalCallCount(); got != 0 {
		t.Fatalf("requests=%d, want 0", got)
	}
}

func TestCrawlIdempotent(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page-1.html", htmlResponder(buildCatalogPage(1, 2, 3)))
	registerDetails(transport, 1, 2, 3)

	cfg := testConfig()
	cfg.MaxPages = 1

	s := newTestScraper(t, cfg, transport)
	first, err := s.Crawl(context.Background())
	if err != nil {
		t.Fatalf("first crawl: %v", err)
	}
	second, err := s.Crawl(context.Background())
	if err != nil {
		t.Fatalf("second crawl: %v", err)
	}

	firstTitles, secondTitles := titles(first), titles(second)
	if len(firstTitles) != len(secondTitles) {
		t.Fatalf("item counts differ: %d vs %d", len(firstTitles), len(secondTitles))
	}
	for i := range firstTitles {
		if firstTitles[i] != secondTitles[i] {
			t.Fatalf("items[%d] differ: %q vs %q", i, firstTitles[i], secondTitles[i])
		}
	}
}

func TestCrawlMorePagesYieldsAtLeastAsMany(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page-1.html", htmlResponder(buildCatalogPage(1, 2, 3)))
	transport.RegisterResponder("GET", "http://example.test/page-2.html", htmlResponder(buildCatalogPage(4, 5)))
	registerDetails(transport, 1, 2, 3, 4, 5)

	cfg := testConfig()
	cfg.MaxPages = 1
	onePage, err := newTestScraper(t, cfg, transport).Crawl(context.Background())
	if err != nil {
		t.Fatalf("one page crawl: %v", err)
	}

	cfg2 := testConfig()
	cfg2.MaxPages = 2
	twoPages, err := newTestScraper(t, cfg2, transport).Crawl(context.Background())
	if err != nil {
		t.Fatalf("two page crawl: %v", err)
	}

	if len(twoPages.Items) < len(onePage.Items) {
		t.Fatalf("two pages yielded %d items, one page %d", len(twoPages.Items), len(onePage.Items))
	}
}

func TestCrawlListingFailureReturnsPartialResult(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page-1.html", htmlResponder(buildCatalogPage(1, 2, 3)))
	transport.RegisterResponder("GET", "http://example.test/page-2.html", httpmock.NewErrorResponder(errors.New("connection refused")))
	registerDetails(transport, 1, 2, 3)

	s := newTestScraper(t, testConfig(), transport)
	result, err := s.Crawl(context.Background())
	if err == nil {
		t.Fatalf("expected fatal listing error")
	}

	var listingErr *ListingError
	if !errors.As(err, &listingErr) {
		t.Fatalf("error=%v, want *ListingError", err)
	}
	if listingErr.Page != 2 {
		t.Fatalf("failed page=%d, want 2", listingErr.Page)
	}
	if len(result.Items) != 3 {
		t.Fatalf("partial items=%d, want 3 (page 1 must be preserved)", len(result.Items))
	}
}

func TestCrawlDetailFetchFailureContinues(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page-1.html", htmlResponder(buildCatalogPage(1, 2, 3)))
	transport.RegisterResponder("GET", "http://example.test/page-2.html", httpmock.NewStringResponder(404, ""))
	registerDetails(transport, 1, 3)
	transport.RegisterResponder("GET", "http://example.test/book-2/index.html", httpmock.NewStringResponder(500, ""))

	s := newTestScraper(t, testConfig(), transport)
	result, err := s.Crawl(context.Background())
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}

	if len(result.Items) != 2 {
		t.Fatalf("items=%d, want 2", len(result.Items))
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures=%v, want 1", result.Failures)
	}
	failure := result.Failures[0]
	if failure.URL != "http://example.test/book-2/index.html" {
		t.Fatalf("failure url=%q", failure.URL)
	}
	if failure.Kind != models.FailureFetch {
		t.Fatalf("failure kind=%q, want %q", failure.Kind, models.FailureFetch)
	}
}

func TestCrawlDetailMissingTitleIsExtractFailure(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page-1.html", htmlResponder(buildCatalogPage(1, 2)))
	transport.RegisterResponder("GET", "http://example.test/page-2.html", httpmock.NewStringResponder(404, ""))
	registerDetails(transport, 1)
	transport.RegisterResponder("GET", "http://example.test/book-2/index.html",
		htmlResponder(`<html><body><p class="price_color">£10.00</p></body></html>`))

	s := newTestScraper(t, testConfig(), transport)
	result, err := s.Crawl(context.Background())
	if err != nil {
		t.Fatalf("crawl: %v", err)
	}

	if len(result.Items) != 1 {
		t.Fatalf("items=%d, want 1", len(result.Items))
	}
	if len(result.Failures) != 1 || result.Failures[0].Kind != models.FailureExtract {
		t.Fatalf("failures=%v, want one extract failure", result.Failures)
	}
}

func TestFetcherClassifiesStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   FetchStatus
	}{
		{status: 200, want: FetchOK},
		{status: 404, want: FetchNotFound},
		{status: 403, want: FetchTransportError},
		{status: 429, want: FetchTransportError},
		{status: 500, want: FetchTransportError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", "http://example.test/page-1.html",
				httpmock.NewStringResponder(tt.status, "<html></html>"))

			s := newTestScraper(t, testConfig(), transport)
			_, status, _ := s.fetcher.Fetch(context.Background(), "http://example.test/page-1.html")
			if status != tt.want {
				t.Fatalf("status=%v, want %v", status, tt.want)
			}
		})
	}
}

func TestFetchWithRetryRecovers(t *testing.T) {
	calls := 0
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page-1.html",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("connection reset")
			}
			resp := httpmock.NewStringResponse(200, "<html></html>")
			resp.Header.Set("Content-Type", "text/html")
			resp.Request = req
			return resp, nil
		})

	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = time.Millisecond

	s := newTestScraper(t, cfg, transport)
	_, status, err := s.fetchWithRetry(context.Background(), "http://example.test/page-1.html")
	if err != nil || status != FetchOK {
		t.Fatalf("status=%v err=%v, want recovered fetch", status, err)
	}
	if calls != 2 {
		t.Fatalf("calls=%d, want 2", calls)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestBackoffCapped(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond

	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	if delay := s.backoff(4); delay > cfg.RetryBackoffMax {
		t.Fatalf("delay %v exceeds max %v", delay, cfg.RetryBackoffMax)
	}
}

func titles(result *models.CrawlResult) []string {
	out := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		out = append(out, item.Title)
	}
	return out
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func buildCatalogPage(ids ...int) string {
	var builder strings.Builder
	builder.WriteString(`<html><body><section class="products">`)
	for _, id := range ids {
		fmt.Fprintf(&builder, `<article class="product_pod">`)
		fmt.Fprintf(&builder, `<h3><a href="book-%d/index.html" title="Book %d">Book %d</a></h3>`, id, id, id)
		fmt.Fprintf(&builder, `<p class="price_color">&pound;%d.00</p>`, id)
		builder.WriteString(`</article>`)
	}
	builder.WriteString(`</section></body></html>`)
	return builder.String()
}

func buildDetailPage(id int) string {
	return fmt.Sprintf(`<html><body>
<h1>Book %d</h1>
<p class="price_color">&pound;%d.00</p>
<p class="star-rating Two"></p>
<p class="instock availability">In stock</p>
<div id="product_description"><h2>Product Description</h2></div>
<p>Description of book %d.</p>
<table class="table table-striped"><tr><th>UPC</th><td>upc-%d</td></tr></table>
</body></html>`, id, id, id, id)
}

func registerDetails(transport *httpmock.MockTransport, ids ...int) {
	for _, id := range ids {
		transport.RegisterResponder("GET",
			fmt.Sprintf("http://example.test/book-%d/index.html", id),
			htmlResponder(buildDetailPage(id)))
	}
}
