package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/qcekey/iget/internal/model"
)

// Limiter enforces a minimum delay between requests sharing a key
// (normally the request host).
type Limiter struct {
	mu       sync.Mutex
	m        map[string]*rate.Limiter
	minDelay time.Duration
}

// NewLimiter creates a limiter that spaces requests to the same key at least
// minDelay apart. A non-positive minDelay disables limiting.
func NewLimiter(minDelay time.Duration) *Limiter {
	return &Limiter{
		m:        make(map[string]*rate.Limiter),
		minDelay: minDelay,
	}
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.m[key]; ok {
		return lim
	}
	limit := rate.Inf
	if l.minDelay > 0 {
		limit = rate.Every(l.minDelay)
	}
	lim := rate.NewLimiter(limit, 1)
	l.m[key] = lim
	return lim
}

// Wait blocks until a request for key may proceed or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if err := l.limiterFor(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", key, err)
	}
	return nil
}

var _ model.HTTPClient = (*Client)(nil)

// Client is a decorator that waits on the limiter before each request.
// Clients of one source should share a Limiter.
type Client struct {
	inner   model.HTTPClient
	limiter *Limiter
}

// NewClient wraps an HTTP client with per-host rate limiting.
func NewClient(inner model.HTTPClient, limiter *Limiter) *Client {
	return &Client{inner: inner, limiter: limiter}
}

// Do waits for the request host's turn, then delegates.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	key := req.URL.Host
	if key == "" {
		key = "_"
	}
	if err := c.limiter.Wait(req.Context(), key); err != nil {
		return nil, err
	}
	return c.inner.Do(req)
}
