package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/qcekey/iget/internal/model"
)

// Backoff is the "blocked until" state of one adapter. It grows exponentially
// with consecutive rate-limit signals, capped at the ceiling, and is cleared by
// the first successful fetch.
type Backoff struct {
	base    time.Duration
	ceiling time.Duration
	now     func() time.Time

	mu       sync.Mutex
	failures int
	until    time.Time
}

// NewBackoff creates an empty backoff state.
func NewBackoff(base, ceiling time.Duration) *Backoff {
	if base <= 0 {
		base = time.Minute
	}
	if ceiling < base {
		ceiling = base
	}
	return &Backoff{base: base, ceiling: ceiling, now: time.Now}
}

// BlockedUntil returns the end of the current backoff window, or the zero time.
func (b *Backoff) BlockedUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Before(b.until) {
		return b.until
	}
	return time.Time{}
}

// Fail records a rate-limit signal and returns the new end of the window.
// A Retry-After hint longer than the computed delay wins, still capped.
func (b *Backoff) Fail(retryAfter time.Duration) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	delay := b.base
	for i := 1; i < b.failures && delay < b.ceiling; i++ {
		delay *= 2
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	if delay > b.ceiling {
		delay = b.ceiling
	}
	b.until = b.now().Add(delay)
	return b.until
}

// Reset clears the state after a successful fetch.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.until = time.Time{}
}

// Failures returns the number of consecutive rate-limit signals.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

var _ model.Adapter = (*BackoffAdapter)(nil)

// BackoffAdapter is a decorator that skips the wrapped adapter while its
// backoff window is open and opens the window on rate-limit signals.
// The state lives as long as the decorator, so it spans cycles.
type BackoffAdapter struct {
	inner   model.Adapter
	backoff *Backoff
	logger  *slog.Logger
}

// NewBackoffAdapter wraps an adapter with persistent backoff.
func NewBackoffAdapter(inner model.Adapter, backoff *Backoff, logger *slog.Logger) *BackoffAdapter {
	return &BackoffAdapter{inner: inner, backoff: backoff, logger: logger}
}

func (a *BackoffAdapter) Name() string         { return a.inner.Name() }
func (a *BackoffAdapter) Source() model.Source { return a.inner.Source() }

// BlockedUntil exposes the backoff window for reporting.
func (a *BackoffAdapter) BlockedUntil() time.Time { return a.backoff.BlockedUntil() }

// Fetch delegates unless blocked. Postings collected before a rate-limit
// signal are returned along with the error.
func (a *BackoffAdapter) Fetch(ctx context.Context, window model.Window) ([]model.RawPosting, error) {
	if until := a.backoff.BlockedUntil(); !until.IsZero() {
		a.logger.Info("source in backoff, skipping", "source", a.Name(), "until", until)
		return nil, &model.RateLimitedError{Source: a.Name(), Until: until, Err: model.ErrBackoffActive}
	}

	postings, err := a.inner.Fetch(ctx, window)
	if err == nil {
		a.backoff.Reset()
		return postings, nil
	}

	var rlErr *model.RateLimitedError
	if errors.As(err, &rlErr) {
		until := a.backoff.Fail(rlErr.RetryAfter)
		a.logger.Warn("source rate limited, backing off",
			"source", a.Name(),
			"status", rlErr.StatusCode,
			"failures", a.backoff.Failures(),
			"until", until,
		)
		marked := *rlErr
		marked.Until = until
		return postings, &marked
	}
	return postings, err
}
