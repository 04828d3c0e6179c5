package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	"harvest/internal/acquire"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Extractor turns a fetched page into items. It must be pure: no network
// access and no retained state.
type Extractor interface {
	Extract(body []byte, page *url.URL) ([]acquire.Item, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(body []byte, page *url.URL) ([]acquire.Item, error)

func (f ExtractorFunc) Extract(body []byte, page *url.URL) ([]acquire.Item, error) {
	return f(body, page)
}

// ExtractError wraps a failure inside the extractor. It is retryable: a
// document that cannot be parsed is most often a truncated transfer.
type ExtractError struct {
	URL string
	Err error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Options configures a Fetcher.
type Options struct {
	// Timeout bounds each request. Default: 10s
	Timeout time.Duration

	// Headers are sent with every request in addition to the defaults.
	Headers map[string]string

	// ProxyURL routes every request through a proxy when set.
	ProxyURL string

	// RequestsPerSecond caps the request rate across all workers sharing
	// this fetcher. Zero disables the cap.
	RequestsPerSecond float64

	// Pacer supplies the jitter slept before every attempt.
	Pacer *acquire.Pacer

	Logger *slog.Logger
}

// DefaultHeaders are sent with every request.
var DefaultHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
	"Referer":         "https://www.google.com/",
	"DNT":             "1",
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// Fetcher performs one paced GET of a target page and hands the body to an
// Extractor. It implements acquire.Work.
type Fetcher struct {
	http    *resty.Client
	pacer   *acquire.Pacer
	extract Extractor
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(extract Extractor, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Pacer == nil {
		opts.Pacer = acquire.NewPacer(0, 0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeaders(DefaultHeaders)
	client.SetHeaders(opts.Headers)
	// SetProxy needs the plain *http.Transport, so it goes before the
	// cloudflare wrapper.
	if opts.ProxyURL != "" {
		client.SetProxy(opts.ProxyURL)
	}
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	if opts.RequestsPerSecond > 0 {
		limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}

	return &Fetcher{
		http:    client,
		pacer:   opts.Pacer,
		extract: extract,
		logger:  opts.Logger,
	}
}

// Attempt waits a random delay, fetches the target and extracts its items.
// Transport failures and non-2xx statuses are returned as
// *acquire.TransportError; a page with nothing to extract is an Empty
// outcome, not an error.
func (f *Fetcher) Attempt(ctx context.Context, t acquire.Target) (acquire.Outcome, error) {
	pageURL, err := url.Parse(t.Locator)
	if err != nil {
		return acquire.Outcome{}, acquire.Fatal(fmt.Errorf("invalid target url %q: %w", t.Locator, err))
	}
	if pageURL.Host == "" {
		return acquire.Outcome{}, acquire.Fatal(fmt.Errorf("invalid target url %q: no host", t.Locator))
	}

	delay, err := f.pacer.Wait(ctx)
	if err != nil {
		return acquire.Outcome{}, &acquire.TransportError{Op: "pace", Err: err}
	}
	f.logger.DebugContext(ctx, "fetching page", "target", t.Locator, "index", t.Index, "delay", delay)

	resp, err := f.http.R().
		SetContext(ctx).
		SetHeader("User-Agent", userAgents[rand.IntN(len(userAgents))]).
		Get(t.Locator)
	if err != nil {
		return acquire.Outcome{}, &acquire.TransportError{Op: "get " + t.Locator, Err: err}
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return acquire.Outcome{}, &acquire.TransportError{
			Op:  "get " + t.Locator,
			Err: fmt.Errorf("unexpected status %s", resp.Status()),
		}
	}

	// Resolve links against the final URL after redirects.
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		pageURL = raw.Request.URL
	}

	items, err := f.extract.Extract(resp.Body(), pageURL)
	if err != nil {
		return acquire.Outcome{}, &ExtractError{URL: t.Locator, Err: err}
	}
	if len(items) == 0 {
		return acquire.Empty("no matching content on " + t.Locator), nil
	}
	for _, it := range items {
		f.logger.InfoContext(ctx, "found", "link", it.URL, "index", t.Index)
	}
	return acquire.Success(items...), nil
}
