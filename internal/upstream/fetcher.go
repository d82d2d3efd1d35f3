// Package upstream fetches the fixed remote files the site proxies.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUpstream wraps every failure to obtain an upstream body.
var ErrUpstream = errors.New("upstream fetch failed")

// Fetcher retrieves the body at url. A nil error means the body, possibly
// empty, is valid.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// HTTPFetcher is the net/http backed Fetcher.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher returns a fetcher sending userAgent on every request. When
// client is nil a client with the given timeout is created.
func NewHTTPFetcher(client *http.Client, userAgent string, timeout time.Duration) *HTTPFetcher {
	if client == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

// Fetch issues a GET for url. Transport errors, timeouts and any final status
// outside 2xx are reported as ErrUpstream.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrUpstream, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: %s returned %s", ErrUpstream, url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}
	return body, nil
}
