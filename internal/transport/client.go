// Package transport provides the pooled HTTP client shared by plugins and
// the direct-download path: per-plugin rate limiting, retries with
// exponential backoff on transient failures, and streamed-byte reads for
// downloads.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/animegrab/animegrab/internal/domain"
)

const (
	defaultUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// Client is a pooled HTTP client with a per-plugin rate limiter and retry
// policy. One Client is typically owned per plugin instance.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	retry   RetryConfig

	mu        sync.Mutex
	userAgent string
	referer   string
	origin    string
}

type Option func(*Client)

func WithReferer(referer string) Option {
	return func(c *Client) { c.referer = referer }
}

func WithOrigin(origin string) Option {
	return func(c *Client) { c.origin = origin }
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) { c.userAgent = userAgent }
}

// NewClient builds a client rate-limited to one request per rateLimitGap
// (0 disables limiting), with retries up to maxRetries using exponential
// backoff starting at baseDelay.
func NewClient(timeout time.Duration, rateLimitGap time.Duration, maxRetries int, baseDelay time.Duration, opts ...Option) *Client {
	var limiter *rate.Limiter
	if rateLimitGap > 0 {
		limiter = rate.NewLimiter(rate.Every(rateLimitGap), 1)
	}

	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		limiter:   limiter,
		retry:     DefaultRetryConfig(maxRetries+1, baseDelay),
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do issues a request honoring the rate limiter and retry policy. A 4xx
// response is returned as-is (not retried); transient failures and 5xx are
// retried up to the configured attempt budget.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string) (*http.Response, error) {
	var resp *http.Response
	err := RetryWithBackoff(ctx, c.retry, func(attempt int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return err
		}
		c.applyHeaders(req, headers)

		r, doErr := c.http.Do(req)
		if doErr != nil {
			return doErr
		}
		if IsRetryableStatus(r.StatusCode) {
			_ = r.Body.Close()
			return fmt.Errorf("server error: status %d", r.StatusCode)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, &domain.NetworkError{URL: url, Err: err}
	}
	if resp.StatusCode >= 400 {
		status := resp.StatusCode
		_ = resp.Body.Close()
		return nil, &domain.NetworkError{URL: url, StatusCode: status}
	}
	return resp, nil
}

func (c *Client) applyHeaders(req *http.Request, extra map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", defaultAcceptLanguage)
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
}

// GetText fetches url as text.
func (c *Client) GetText(ctx context.Context, url string, headers map[string]string) (string, error) {
	resp, err := c.Do(ctx, http.MethodGet, url, headers)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.NetworkError{URL: url, Err: err}
	}
	return string(body), nil
}

// Stream opens url and returns the response for the caller to read in
// chunks (used by the direct-download path). The caller must close the body.
func (c *Client) Stream(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, headers)
}

// Close releases the client's idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
