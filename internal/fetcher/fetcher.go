// Package fetcher downloads listing search pages with bounded retries and
// turns them into listings.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"crous_bot/internal/extract"
	"crous_bot/internal/model"
)

const maxBodyBytes = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestError marks a fetch that failed at the transport layer or ended on
// a terminal HTTP status after retries were exhausted.
type RequestError struct {
	URL        string
	StatusCode int // 0 for transport-level failures
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// retryableStatus is the status-code set retried at the transport layer.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client fetches search pages and extracts listings from them.
type Client struct {
	client      HTTPClient
	timeout     time.Duration
	maxRetries  uint64
	userAgent   string
	backoffBase time.Duration
}

// New creates a Client. maxRetries counts additional attempts after the
// first, so 0 means a single request.
func New(client HTTPClient, timeout time.Duration, maxRetries int, userAgent string) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		client:      client,
		timeout:     timeout,
		maxRetries:  uint64(maxRetries),
		userAgent:   userAgent,
		backoffBase: time.Second,
	}
}

// FetchListings downloads a search page and extracts its listings.
func (c *Client) FetchListings(ctx context.Context, searchURL string) ([]model.Listing, error) {
	body, err := c.FetchPage(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	return extract.Listings(body, searchURL), nil
}

// FetchPage downloads a URL, retrying transient failures with exponential
// backoff before giving up. Network errors and retryable statuses
// (429/500/502/503/504) are retried; any other non-2xx status is terminal.
func (c *Client) FetchPage(ctx context.Context, pageURL string) (string, error) {
	var body string
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := c.fetchOnce(ctx, pageURL)
		if err != nil {
			var reqErr *RequestError
			if errors.As(err, &reqErr) && (reqErr.StatusCode == 0 || retryableStatus[reqErr.StatusCode]) {
				return retry.RetryableError(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return "", err
	}
	return body, nil
}

func (c *Client) fetchOnce(ctx context.Context, pageURL string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.6")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &RequestError{URL: pageURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &RequestError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &RequestError{URL: pageURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return string(body), nil
}
