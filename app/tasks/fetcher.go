package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxResponseSize = 10 << 20

var ErrResponseTooLarge = errors.New("response body too large")

// HTTPFetcher is the production Fetcher. Connection pooling is left to the
// supplied http.Client; no retries are made.
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	rateLimiter *HostRateLimiter
	maxBodySize int64
}

func NewHTTPFetcher(client *http.Client, userAgent string, rateLimiter *HostRateLimiter) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{
		client:      client,
		userAgent:   userAgent,
		rateLimiter: rateLimiter,
		maxBodySize: maxResponseSize,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (int, []byte, error) {
	if err := f.rateLimiter.WaitForHost(ctx, rawURL); err != nil {
		return 0, nil, fmt.Errorf("rate limiting failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > f.maxBodySize {
		return resp.StatusCode, nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, f.maxBodySize)
	}

	return resp.StatusCode, data, nil
}

// HostRateLimiter spaces out requests to the same host. A nil limiter never waits.
type HostRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	interval time.Duration
}

// NewHostRateLimiter returns nil when interval is not positive.
func NewHostRateLimiter(interval time.Duration) *HostRateLimiter {
	if interval <= 0 {
		return nil
	}
	return &HostRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

func (h *HostRateLimiter) WaitForHost(ctx context.Context, rawURL string) error {
	if h == nil {
		return nil
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return err
	}

	host := parsedURL.Host
	if host == "" {
		return &url.Error{Op: "parse", URL: rawURL, Err: errors.New("missing host in URL")}
	}

	return h.getLimiterForHost(host).Wait(ctx)
}

func (h *HostRateLimiter) getLimiterForHost(host string) *rate.Limiter {
	h.mu.RLock()
	limiter, exists := h.limiters[host]
	h.mu.RUnlock()

	if exists {
		return limiter
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if limiter, exists := h.limiters[host]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Every(h.interval), 1)
	h.limiters[host] = limiter
	return limiter
}
