package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotAuthorized is returned by the channel-feed adapter when its session
	// has not completed authorization yet.
	ErrNotAuthorized = errors.New("channel session not authorized")

	// ErrBackoffActive is wrapped in a RateLimitedError when an adapter is
	// skipped because its backoff window has not elapsed.
	ErrBackoffActive = errors.New("backoff active")

	// ErrCycleTimeout is recorded for sources that did not finish before the
	// cycle deadline.
	ErrCycleTimeout = errors.New("cycle deadline exceeded")

	// ErrCycleInFlight is returned when a cycle is triggered while another runs.
	ErrCycleInFlight = errors.New("cycle already in flight")
)

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// ConfigError reports a missing or invalid parameter of an enabled source.
type ConfigError struct {
	Source string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s.%s: %s", e.Source, e.Field, e.Reason)
}

// SourceError is a network, protocol or response failure of one source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// RateLimitedError means the source asked us to slow down or blocked us
// (HTTP 429/403 or an anti-automation page).
type RateLimitedError struct {
	Source     string
	StatusCode int
	RetryAfter time.Duration // hint from the source, zero if absent
	Until      time.Time     // set once a backoff window has been computed
	Err        error
}

func (e *RateLimitedError) Error() string {
	msg := fmt.Sprintf("source %s rate limited", e.Source)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if !e.Until.IsZero() {
		msg += " until " + e.Until.Format(time.RFC3339)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// MalformedPostingError is a single posting that could not be normalized.
type MalformedPostingError struct {
	Source Source
	ID     string
	Reason string
}

func (e *MalformedPostingError) Error() string {
	return fmt.Sprintf("malformed %s posting %q: %s", e.Source, e.ID, e.Reason)
}

// AnalysisUnavailableError means the text analyzer could not produce a judgment.
type AnalysisUnavailableError struct {
	Err error
}

func (e *AnalysisUnavailableError) Error() string {
	return fmt.Sprintf("analysis unavailable: %v", e.Err)
}

func (e *AnalysisUnavailableError) Unwrap() error {
	return e.Err
}
