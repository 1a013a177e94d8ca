// Package pipeline runs aggregation cycles: fetch from every enabled source,
// normalize, deduplicate, filter and emit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/qcekey/iget/internal/dedup"
	"github.com/qcekey/iget/internal/filter"
	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/normalize"
)

// Source is one adapter as configured for the pipeline.
type Source struct {
	Adapter model.Adapter
	Enabled bool
	Timeout time.Duration // zero means bounded only by the cycle deadline
}

// Options holds the cycle-wide settings.
type Options struct {
	Window              model.Window
	Deadline            time.Duration // global fetch deadline, zero disables it
	Grace               time.Duration // how long to wait for adapters to return after the deadline
	Retention           time.Duration // fingerprint retention, zero or less disables eviction
	AnalysisConcurrency int
}

// blocker is implemented by adapters that keep backoff state across cycles.
type blocker interface {
	BlockedUntil() time.Time
}

// Pipeline owns the cycle. At most one cycle runs at a time.
type Pipeline struct {
	sources  []Source
	dedup    *dedup.Deduplicator
	chain    *filter.Chain
	notifier model.Notifier
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	running sync.Mutex
}

// New creates a pipeline. Sources are processed in the given order; that
// order decides which duplicate wins inside a cycle.
func New(sources []Source, d *dedup.Deduplicator, chain *filter.Chain, notifier model.Notifier, opts Options, logger *slog.Logger) *Pipeline {
	if opts.AnalysisConcurrency < 1 {
		opts.AnalysisConcurrency = 1
	}
	return &Pipeline{
		sources:  sources,
		dedup:    d,
		chain:    chain,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// fetchResult is what one adapter produced in a cycle.
type fetchResult struct {
	postings []model.RawPosting
	err      error
	duration time.Duration
	done     bool
}

// candidate is a normalized vacancy tagged with the index of its source report.
type candidate struct {
	source  int
	vacancy model.Vacancy
}

// RunCycle runs one aggregation cycle. A trigger while another cycle is in
// flight returns model.ErrCycleInFlight without doing anything. Source
// failures are recorded in the report; only fingerprint index failures and
// cancellation of ctx are returned as errors.
func (p *Pipeline) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !p.running.TryLock() {
		return nil, model.ErrCycleInFlight
	}
	defer p.running.Unlock()

	report := &CycleReport{ID: p.newID(), StartedAt: p.now()}
	logger := p.logger.With("cycle_id", report.ID)
	logger.Info("cycle started")

	if _, err := p.dedup.Evict(ctx, p.opts.Retention); err != nil {
		logger.Warn("fingerprint eviction failed", "error", err)
	}

	active := p.activeSources()
	results, timedOut := p.fetchAll(ctx, active, logger)
	report.TimedOut = timedOut
	if err := ctx.Err(); err != nil {
		report.FinishedAt = p.now()
		return report, fmt.Errorf("cycle %s: %w", report.ID, err)
	}

	report.Sources = make([]SourceReport, len(active))
	var batch []candidate
	for i, src := range active {
		res := results[i]
		sr := &report.Sources[i]
		sr.Name = src.Adapter.Name()
		sr.Source = src.Adapter.Source()
		sr.Err = res.err
		sr.Status = Classify(res.err)
		sr.Duration = res.duration
		sr.Fetched = len(res.postings)
		if b, ok := src.Adapter.(blocker); ok {
			sr.BlockedUntil = b.BlockedUntil()
		}
		p.logSource(logger, sr)

		batch = append(batch, p.normalize(logger, i, sr, res.postings, report.StartedAt)...)
	}

	vacancies := make([]model.Vacancy, len(batch))
	for i, c := range batch {
		vacancies[i] = c.vacancy
	}
	fresh, err := p.dedup.Apply(ctx, vacancies)
	if err != nil {
		report.FinishedAt = p.now()
		return report, fmt.Errorf("cycle %s: %w", report.ID, err)
	}

	var unique []candidate
	for i, c := range batch {
		if !fresh[i] {
			report.Sources[c.source].Duplicate++
			continue
		}
		unique = append(unique, c)
	}

	outcomes := p.screen(ctx, unique)
	for i, c := range unique {
		if !outcomes[i].Accepted {
			report.Sources[c.source].Filtered++
			continue
		}
		report.Sources[c.source].Accepted++
		report.Emitted = append(report.Emitted, model.Screened{
			Vacancy:     c.vacancy,
			Annotations: outcomes[i].Annotations,
		})
	}

	if len(report.Emitted) > 0 {
		if err := p.notifier.Notify(ctx, report.Emitted); err != nil {
			report.EmitError = err
			logger.Error("emit failed", "count", len(report.Emitted), "error", err)
		}
	}

	report.FinishedAt = p.now()
	totals := report.Totals()
	logger.Info("cycle complete",
		"sources", len(report.Sources),
		"fetched", totals.Fetched,
		"malformed", totals.Malformed,
		"stale", totals.Stale,
		"duplicate", totals.Duplicate,
		"filtered", totals.Filtered,
		"accepted", totals.Accepted,
		"timed_out", report.TimedOut,
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

// IndexStats reports the fingerprint index size and the age of its oldest entry.
func (p *Pipeline) IndexStats(ctx context.Context) (dedup.Stats, error) {
	return p.dedup.Stats(ctx)
}

func (p *Pipeline) activeSources() []Source {
	var active []Source
	for _, s := range p.sources {
		if s.Enabled {
			active = append(active, s)
		}
	}
	return active
}

// fetchAll invokes every adapter concurrently. It returns once all adapters
// have finished, or once the deadline plus grace period has elapsed; adapters
// still running at that point are reported with ErrCycleTimeout and whatever
// they return later is discarded.
func (p *Pipeline) fetchAll(ctx context.Context, sources []Source, logger *slog.Logger) ([]fetchResult, bool) {
	var (
		fetchCtx context.Context
		cancel   context.CancelFunc
	)
	if p.opts.Deadline > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, p.opts.Deadline)
	} else {
		fetchCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	start := time.Now()

	var (
		mu      sync.Mutex
		closed  bool
		results = make([]fetchResult, len(sources))
	)

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			sctx := fetchCtx
			if src.Timeout > 0 {
				var scancel context.CancelFunc
				sctx, scancel = context.WithTimeout(fetchCtx, src.Timeout)
				defer scancel()
			}

			postings, err := src.Adapter.Fetch(sctx, p.opts.Window)
			if err != nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", model.ErrCycleTimeout, err)
			}

			mu.Lock()
			defer mu.Unlock()
			if closed {
				logger.Warn("late adapter result discarded", "source", src.Adapter.Name(), "postings", len(postings))
				return nil
			}
			results[i] = fetchResult{postings: postings, err: err, duration: time.Since(start), done: true}
			return nil
		})
	}

	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	timedOut := false
	select {
	case <-finished:
	case <-fetchCtx.Done():
		if ctx.Err() == nil {
			timedOut = true
			logger.Warn("cycle deadline reached, waiting for adapters", "grace", p.opts.Grace.String())
		}
		grace := time.NewTimer(p.opts.Grace)
		select {
		case <-finished:
		case <-grace.C:
		}
		grace.Stop()
	}

	mu.Lock()
	defer mu.Unlock()
	closed = true
	for i := range results {
		if !results[i].done {
			results[i].err = &model.SourceError{Source: sources[i].Adapter.Name(), Err: model.ErrCycleTimeout}
			results[i].duration = time.Since(start)
		}
	}
	return results, timedOut
}

// normalize converts one source's postings, dropping malformed and stale ones.
func (p *Pipeline) normalize(logger *slog.Logger, idx int, sr *SourceReport, postings []model.RawPosting, now time.Time) []candidate {
	out := make([]candidate, 0, len(postings))
	for _, raw := range postings {
		v, err := normalize.Normalize(raw)
		if err != nil {
			sr.Malformed++
			logger.Warn("dropping malformed posting", "source", sr.Name, "error", err)
			continue
		}
		sr.Normalized++
		if !p.opts.Window.Contains(v.PostedAt, now) {
			sr.Stale++
			logger.Debug("dropping stale posting", "source", sr.Name, "id", v.ID, "posted_at", v.PostedAt)
			continue
		}
		out = append(out, candidate{source: idx, vacancy: v})
	}
	return out
}

// screen runs the filter chain over the batch with bounded concurrency. The
// outcome slice is in batch order.
func (p *Pipeline) screen(ctx context.Context, batch []candidate) []filter.Outcome {
	outcomes := make([]filter.Outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(p.opts.AnalysisConcurrency)
	for i, c := range batch {
		g.Go(func() error {
			outcomes[i] = p.chain.Run(ctx, c.vacancy)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Pipeline) logSource(logger *slog.Logger, sr *SourceReport) {
	attrs := []any{
		"source", sr.Name,
		"status", sr.Status,
		"fetched", sr.Fetched,
		"duration", sr.Duration.String(),
	}
	switch sr.Status {
	case StatusOK:
		logger.Info("source fetched", attrs...)
	case StatusBackoff:
		logger.Info("source skipped", append(attrs, "blocked_until", sr.BlockedUntil)...)
	case StatusRateLimited, StatusTimeout, StatusUnauthorized:
		logger.Warn("source degraded", append(attrs, "error", sr.Err)...)
	default:
		logger.Error("source failed", append(attrs, "error", sr.Err)...)
	}
}
