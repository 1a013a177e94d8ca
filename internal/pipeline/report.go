package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/qcekey/iget/internal/model"
)

// Status is the outcome of one source in a cycle.
type Status string

const (
	StatusOK            Status = "ok"
	StatusFailed        Status = "failed"
	StatusRateLimited   Status = "rate_limited"
	StatusBackoff       Status = "backoff"
	StatusTimeout       Status = "timeout"
	StatusUnauthorized  Status = "unauthorized"
	StatusMisconfigured Status = "misconfigured"
)

// Classify maps an adapter error to a source status.
func Classify(err error) Status {
	var (
		cfgErr *model.ConfigError
		rlErr  *model.RateLimitedError
	)
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, model.ErrNotAuthorized):
		return StatusUnauthorized
	case errors.As(err, &cfgErr):
		return StatusMisconfigured
	case errors.Is(err, model.ErrBackoffActive):
		return StatusBackoff
	case errors.As(err, &rlErr):
		return StatusRateLimited
	case errors.Is(err, model.ErrCycleTimeout), errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	default:
		return StatusFailed
	}
}

// SourceReport holds the per-source counters of one cycle. Every fetched
// posting ends up in exactly one of Malformed, Stale, Duplicate, Filtered
// or Accepted.
type SourceReport struct {
	Name         string
	Source       model.Source
	Status       Status
	Err          error
	BlockedUntil time.Time // zero unless the adapter is backing off
	Fetched      int
	Normalized   int
	Malformed    int
	Stale        int
	Duplicate    int
	Filtered     int
	Accepted     int
	Duration     time.Duration
}

// CycleReport is the result of RunCycle.
type CycleReport struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	TimedOut   bool
	Sources    []SourceReport
	Emitted    []model.Screened
	EmitError  error
}

// Source returns the report of the named source, or nil.
func (r *CycleReport) Source(name string) *SourceReport {
	for i := range r.Sources {
		if r.Sources[i].Name == name {
			return &r.Sources[i]
		}
	}
	return nil
}

// Totals sums the counters over all sources.
func (r *CycleReport) Totals() SourceReport {
	var t SourceReport
	for _, s := range r.Sources {
		t.Fetched += s.Fetched
		t.Normalized += s.Normalized
		t.Malformed += s.Malformed
		t.Stale += s.Stale
		t.Duplicate += s.Duplicate
		t.Filtered += s.Filtered
		t.Accepted += s.Accepted
	}
	return t
}
