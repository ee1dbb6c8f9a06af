// Package fetch retrieves listing pages from manga sites. Transient failures
// (timeouts, 5xx, rate limiting) are retried with exponential backoff;
// permanent failures (other 4xx, bad URLs, robots.txt refusals) are returned
// immediately. A failed fetch never returns a partial page.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"golang.org/x/time/rate"
)

// DefaultUserAgent looks like a desktop browser; several manga sites refuse
// obvious bots outright.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// maxBodyBytes caps a single listing page.
const maxBodyBytes = 16 << 20

// Page is a successfully fetched document.
type Page struct {
	URL         string // final URL after redirects
	StatusCode  int
	ContentType string
	Body        []byte
}

// Options configures a Client.
type Options struct {
	Timeout   time.Duration // per request
	Attempts  int           // total tries for transient failures
	Backoff   time.Duration // first retry delay, doubled each retry
	UserAgent string

	// RequestsPerSecond paces requests to each host. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	RespectRobots    bool
	CloudflareBypass bool

	// Transport overrides the base round tripper (tests use this).
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Timeout:           10 * time.Second,
		Attempts:          3,
		Backoff:           500 * time.Millisecond,
		UserAgent:         DefaultUserAgent,
		RequestsPerSecond: 1,
		Burst:             1,
		RespectRobots:     true,
	}
}

// Client fetches pages with retries, pacing and an optional robots.txt gate.
// It is safe for concurrent use by multiple site workers.
type Client struct {
	http    *http.Client
	opts    Options
	log     *slog.Logger
	robots  *robotsCache
	mu      sync.Mutex
	limiter map[string]*rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
	maxBody int64
}

// NewClient creates a fetch client.
func NewClient(opts Options) *Client {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	base := opts.Transport
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			ForceAttemptHTTP2:   true,
		}
	}
	if opts.CloudflareBypass {
		base = cloudflarebp.AddCloudFlareByPass(base)
	}

	httpClient := &http.Client{
		Timeout: opts.Timeout,
		Transport: userAgentTransport{
			base: base,
			ua:   opts.UserAgent,
		},
	}

	c := &Client{
		http:    httpClient,
		opts:    opts,
		log:     opts.Logger,
		limiter: make(map[string]*rate.Limiter),
		sleep:   sleepContext,
		maxBody: maxBodyBytes,
	}
	if opts.RespectRobots {
		c.robots = newRobotsCache(httpClient, opts.UserAgent)
	}

	return c
}

// Fetch retrieves rawURL, retrying transient failures. Any returned error is
// a *FetchError unless the context was cancelled between attempts.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, &FetchError{Kind: Permanent, URL: rawURL, Err: fmt.Errorf("invalid url: %q", rawURL)}
	}

	if c.robots != nil {
		ok, err := c.robots.allowed(ctx, target)
		if err != nil {
			return nil, &FetchError{Kind: Transient, URL: rawURL, Err: fmt.Errorf("%w: %w", ErrRobotsUnavailable, err)}
		}
		if !ok {
			return nil, &FetchError{Kind: Permanent, URL: rawURL, Err: ErrDisallowed}
		}
	}

	var lastErr *FetchError
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		if err := c.wait(ctx, target.Host); err != nil {
			return nil, &FetchError{Kind: Transient, URL: rawURL, Attempts: attempt - 1, Err: err}
		}

		page, fetchErr := c.fetchOnce(ctx, rawURL)
		if fetchErr == nil {
			return page, nil
		}

		fetchErr.Attempts = attempt
		lastErr = fetchErr

		if fetchErr.Kind == Permanent || attempt == c.opts.Attempts || ctx.Err() != nil {
			break
		}

		delay := c.opts.Backoff << (attempt - 1)
		c.log.Debug("retrying fetch",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("error", fetchErr.Err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			break
		}
	}

	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, rawURL string) (*Page, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: Permanent, URL: rawURL, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	c.log.Debug("fetching page", slog.String("url", rawURL))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: classifyNetworkError(err), URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{
			Kind:       classifyStatus(resp.StatusCode),
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP error: %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &FetchError{Kind: Transient, URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(body)) > c.maxBody {
		return nil, &FetchError{
			Kind:       Permanent,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.maxBody),
		}
	}

	return &Page{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// wait blocks until the host's limiter admits another request.
func (c *Client) wait(ctx context.Context, host string) error {
	if c.opts.RequestsPerSecond <= 0 {
		return ctx.Err()
	}

	c.mu.Lock()
	lim, ok := c.limiter[host]
	if !ok {
		burst := c.opts.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(c.opts.RequestsPerSecond), burst)
		c.limiter[host] = lim
	}
	c.mu.Unlock()

	return lim.Wait(ctx)
}

// classifyStatus decides whether an HTTP status is worth retrying.
func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return Transient
	default:
		return Permanent
	}
}

// classifyNetworkError decides whether a transport error is worth retrying.
// Unknown hosts and unsupported schemes will not fix themselves.
func classifyNetworkError(err error) Kind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return Permanent
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		if errors.Is(urlErr.Err, context.Canceled) || errors.Is(urlErr.Err, context.DeadlineExceeded) {
			return Transient
		}
		if _, ok := urlErr.Err.(*url.Error); ok {
			return Permanent
		}
	}

	return Transient
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}
