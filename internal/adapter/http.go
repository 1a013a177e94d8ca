package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/qcekey/iget/internal/model"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 8 << 20

// statusBlocked is LinkedIn's non-standard "request denied" status.
const statusBlocked = 999

// parseRetryAfter parses the Retry-After header value into a duration.
// Supports seconds format (e.g. "120"). Returns zero if absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// checkResponse maps a non-2xx response onto the error taxonomy: 429, 403
// and 999 are rate-limit or block signals, everything else is an HTTPError.
func checkResponse(source string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusForbidden, statusBlocked:
		return &model.RateLimitedError{
			Source:     source,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
		}
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &model.HTTPError{
		StatusCode: resp.StatusCode,
		RetryAfter: retryAfter,
		Err:        fmt.Errorf("unexpected status: %s", string(snippet)),
	}
}

// get performs a GET and returns the body of a 2xx response.
func get(ctx context.Context, client model.HTTPClient, source, url, userAgent, accept string) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(source, resp); err != nil {
		return nil, resp, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp, fmt.Errorf("read body of %s: %w", url, err)
	}
	return body, resp, nil
}

// sourceError wraps err in a SourceError unless it already carries a more
// specific classification.
func sourceError(source string, err error) error {
	if err == nil {
		return nil
	}
	var rlErr *model.RateLimitedError
	var cfgErr *model.ConfigError
	var srcErr *model.SourceError
	switch {
	case errors.As(err, &rlErr), errors.As(err, &cfgErr), errors.As(err, &srcErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &model.SourceError{Source: source, Err: err}
}
