package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/qcekey/iget/internal/dedup"
	"github.com/qcekey/iget/internal/filter"
	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/retry"
	"github.com/qcekey/iget/internal/store"
)

// --- Fakes ---

// fakeAdapter returns canned postings. With wait set it blocks until ctx is
// done and then returns its postings together with ctx.Err(). With stuck set
// it ignores ctx entirely until release is closed.
type fakeAdapter struct {
	name     string
	source   model.Source
	postings []model.RawPosting
	err      error
	wait     bool
	stuck    bool
	started  chan struct{}
	release  chan struct{}
	calls    atomic.Int32
	startMu  sync.Once
}

func (a *fakeAdapter) Name() string         { return a.name }
func (a *fakeAdapter) Source() model.Source { return a.source }

func (a *fakeAdapter) Fetch(ctx context.Context, _ model.Window) ([]model.RawPosting, error) {
	a.calls.Add(1)
	if a.started != nil {
		a.startMu.Do(func() { close(a.started) })
	}
	switch {
	case a.stuck:
		<-a.release
		return a.postings, nil
	case a.wait:
		<-ctx.Done()
		return a.postings, ctx.Err()
	}
	return a.postings, a.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]model.Screened
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, batch []model.Screened) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, batch)
	return n.err
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, model.AnalysisRequest) (model.Judgment, error) {
	return model.Judgment{}, errors.New("connection refused")
}

type brokenIndex struct{ store.MemoryIndex }

func (*brokenIndex) Record(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("database is locked")
}

func (*brokenIndex) RecordBatch(context.Context, []string, time.Time) ([]bool, error) {
	return nil, errors.New("database is locked")
}

// downOnceIndex rejects the first batch write and works afterwards.
type downOnceIndex struct {
	*store.MemoryIndex
	failed bool
}

func (d *downOnceIndex) RecordBatch(ctx context.Context, fps []string, seenAt time.Time) ([]bool, error) {
	if !d.failed {
		d.failed = true
		return nil, errors.New("connection reset")
	}
	return d.MemoryIndex.RecordBatch(ctx, fps, seenAt)
}

// --- Helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fetchedAt = time.Now()

func raw(source model.Source, id, title, company, location string) model.RawPosting {
	posted := fetchedAt.Add(-time.Hour)
	return model.RawPosting{
		Source:      source,
		ID:          id,
		Title:       title,
		Company:     company,
		Location:    location,
		Description: title + " wanted.",
		URL:         "https://example.com/" + id,
		PostedAt:    &posted,
		FetchedAt:   fetchedAt,
	}
}

func enabled(adapters ...model.Adapter) []Source {
	out := make([]Source, len(adapters))
	for i, a := range adapters {
		out[i] = Source{Adapter: a, Enabled: true}
	}
	return out
}

func defaultOptions() Options {
	return Options{
		Window:              model.Window{Days: 7},
		Deadline:            5 * time.Second,
		Grace:               100 * time.Millisecond,
		AnalysisConcurrency: 2,
	}
}

func newTestPipeline(t *testing.T, sources []Source, n model.Notifier, opts Options, stages ...model.Stage) *Pipeline {
	t.Helper()
	d := dedup.New(store.NewMemoryIndex(), discardLogger())
	return New(sources, d, filter.NewChain(discardLogger(), stages...), n, opts, discardLogger())
}

func emittedTitles(r *CycleReport) []string {
	var titles []string
	for _, s := range r.Emitted {
		titles = append(titles, s.Vacancy.Title)
	}
	return titles
}

// --- Tests ---

func TestRunCycle_PartialSourceResilience(t *testing.T) {
	board := &fakeAdapter{name: "job_board", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
		raw(model.SourceJobBoard, "hh_2", "SRE", "Acme", "Moscow"),
	}}
	feed := &fakeAdapter{name: "channel_feed", source: model.SourceChannelFeed, postings: []model.RawPosting{
		raw(model.SourceChannelFeed, "golang_jobs_7", "Backend Engineer", "Globex", "Remote"),
	}}
	scrape := &fakeAdapter{name: "web_scrape", source: model.SourceWebScrape,
		err: &model.SourceError{Source: "web_scrape", Err: errors.New("connection reset")}}

	n := &recordingNotifier{}
	p := newTestPipeline(t, enabled(board, feed, scrape), n, defaultOptions())

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if diff := cmp.Diff([]string{"Go Developer", "SRE", "Backend Engineer"}, emittedTitles(report)); diff != "" {
		t.Errorf("emitted mismatch (-want +got):\n%s", diff)
	}
	if got := report.Source("web_scrape").Status; got != StatusFailed {
		t.Errorf("web_scrape status = %q, want %q", got, StatusFailed)
	}
	if got := report.Source("job_board"); got.Status != StatusOK || got.Accepted != 2 {
		t.Errorf("job_board report = %+v", got)
	}
	if len(n.batches) != 1 || len(n.batches[0]) != 3 {
		t.Errorf("notifier batches = %d, want one batch of 3", len(n.batches))
	}
	if report.ID == "" || report.FinishedAt.Before(report.StartedAt) {
		t.Errorf("bad report header: id=%q started=%v finished=%v", report.ID, report.StartedAt, report.FinishedAt)
	}
}

func TestRunCycle_CrossSourceDuplicate(t *testing.T) {
	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
		raw(model.SourceJobBoard, "hh_2", "Platform Engineer", "Acme", "Moscow"),
	}}
	// Same posting as a's first, syndicated with different id, source and punctuation.
	b := &fakeAdapter{name: "b", source: model.SourceChannelFeed, postings: []model.RawPosting{
		raw(model.SourceChannelFeed, "chan_99", "  go developer! ", "ACME", "moscow"),
	}}

	p := newTestPipeline(t, enabled(a, b), &recordingNotifier{}, defaultOptions())
	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if diff := cmp.Diff([]string{"Go Developer", "Platform Engineer"}, emittedTitles(report)); diff != "" {
		t.Errorf("emitted mismatch (-want +got):\n%s", diff)
	}
	if got := report.Source("b").Duplicate; got != 1 {
		t.Errorf("b duplicates = %d, want 1", got)
	}
	if got := report.Emitted[0].Vacancy.Source; got != model.SourceJobBoard {
		t.Errorf("first-seen source = %q, want job-board", got)
	}
}

func TestRunCycle_DedupAcrossCycles(t *testing.T) {
	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
	}}
	n := &recordingNotifier{}
	p := newTestPipeline(t, enabled(a), n, defaultOptions())

	first, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	second, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if len(first.Emitted) != 1 {
		t.Errorf("first cycle emitted %d, want 1", len(first.Emitted))
	}
	if len(second.Emitted) != 0 || second.Source("a").Duplicate != 1 {
		t.Errorf("second cycle emitted %d, duplicates %d; want 0 and 1", len(second.Emitted), second.Source("a").Duplicate)
	}
	if len(n.batches) != 1 {
		t.Errorf("empty batches must not reach the notifier, got %d calls", len(n.batches))
	}
	if first.ID == second.ID {
		t.Error("cycle IDs must differ")
	}
}

func TestRunCycle_CompanyChangeIsNotDuplicate(t *testing.T) {
	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
		raw(model.SourceJobBoard, "hh_2", "Go Developer", "Globex", "Moscow"),
	}}
	p := newTestPipeline(t, enabled(a), &recordingNotifier{}, defaultOptions())

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(report.Emitted) != 2 {
		t.Fatalf("emitted %d, want 2", len(report.Emitted))
	}
	if report.Emitted[0].Vacancy.Fingerprint == report.Emitted[1].Vacancy.Fingerprint {
		t.Error("fingerprints must differ when company differs")
	}
}

func TestRunCycle_WindowEnforcement(t *testing.T) {
	old := raw(model.SourceJobBoard, "hh_old", "Go Developer", "Acme", "Moscow")
	posted := fetchedAt.Add(-10 * 24 * time.Hour)
	old.PostedAt = &posted

	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, postings: []model.RawPosting{
		old,
		raw(model.SourceJobBoard, "hh_new", "SRE", "Acme", "Moscow"),
	}}
	p := newTestPipeline(t, enabled(a), &recordingNotifier{}, defaultOptions())

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if diff := cmp.Diff([]string{"SRE"}, emittedTitles(report)); diff != "" {
		t.Errorf("emitted mismatch (-want +got):\n%s", diff)
	}
	if got := report.Source("a"); got.Stale != 1 || got.Normalized != 2 {
		t.Errorf("stale/normalized = %d/%d, want 1/2", got.Stale, got.Normalized)
	}
}

func TestRunCycle_MalformedPostingDropped(t *testing.T) {
	bad := raw(model.SourceJobBoard, "", "No ID", "Acme", "Moscow")
	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, postings: []model.RawPosting{
		bad,
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
	}}
	p := newTestPipeline(t, enabled(a), &recordingNotifier{}, defaultOptions())

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	got := report.Source("a")
	if got.Malformed != 1 || got.Accepted != 1 || got.Fetched != 2 {
		t.Errorf("report = %+v", got)
	}
}

func TestRunCycle_AnalysisOutageFailsOpen(t *testing.T) {
	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
		raw(model.SourceJobBoard, "hh_2", "Java Developer", "Acme", "Moscow"),
	}}
	keyword, err := filter.NewKeywordStage("go", nil, nil)
	if err != nil {
		t.Fatalf("NewKeywordStage: %v", err)
	}
	analysis := filter.NewAnalysisStage(failingAnalyzer{}, "backend only", time.Second, discardLogger())

	p := newTestPipeline(t, enabled(a), &recordingNotifier{}, defaultOptions(), keyword, analysis)
	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if diff := cmp.Diff([]string{"Go Developer"}, emittedTitles(report)); diff != "" {
		t.Errorf("emitted mismatch (-want +got):\n%s", diff)
	}
	if got := report.Source("a").Filtered; got != 1 {
		t.Errorf("filtered = %d, want 1", got)
	}
	var failedOpen bool
	for _, ann := range report.Emitted[0].Annotations {
		if ann.Stage == "analysis" && ann.FailedOpen {
			failedOpen = true
		}
	}
	if !failedOpen {
		t.Errorf("expected a failed-open analysis annotation, got %+v", report.Emitted[0].Annotations)
	}
}

func TestRunCycle_DisabledSourceSkipped(t *testing.T) {
	on := &fakeAdapter{name: "on", source: model.SourceJobBoard}
	off := &fakeAdapter{name: "off", source: model.SourceWebScrape}
	sources := []Source{
		{Adapter: on, Enabled: true},
		{Adapter: off, Enabled: false},
	}
	p := newTestPipeline(t, sources, &recordingNotifier{}, defaultOptions())

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if off.calls.Load() != 0 {
		t.Error("disabled adapter was invoked")
	}
	if report.Source("off") != nil || len(report.Sources) != 1 {
		t.Errorf("disabled source must not be reported, got %+v", report.Sources)
	}
}

func TestRunCycle_DeadlineKeepsPartialResults(t *testing.T) {
	fast := &fakeAdapter{name: "fast", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
	}}
	// Honors cancellation and hands back what it had.
	slow := &fakeAdapter{name: "slow", source: model.SourceWebScrape, wait: true, postings: []model.RawPosting{
		raw(model.SourceWebScrape, "li_1", "SRE", "Globex", "Berlin"),
	}}
	// Ignores cancellation.
	stuck := &fakeAdapter{name: "stuck", source: model.SourceChannelFeed, stuck: true, release: make(chan struct{})}
	defer close(stuck.release)

	opts := defaultOptions()
	opts.Deadline = 50 * time.Millisecond
	opts.Grace = 50 * time.Millisecond
	p := newTestPipeline(t, enabled(fast, slow, stuck), &recordingNotifier{}, opts)

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if !report.TimedOut {
		t.Error("report should be marked timed out")
	}
	if diff := cmp.Diff([]string{"Go Developer", "SRE"}, emittedTitles(report)); diff != "" {
		t.Errorf("emitted mismatch (-want +got):\n%s", diff)
	}
	if got := report.Source("slow").Status; got != StatusTimeout {
		t.Errorf("slow status = %q, want timeout", got)
	}
	stuckReport := report.Source("stuck")
	if stuckReport.Status != StatusTimeout || !errors.Is(stuckReport.Err, model.ErrCycleTimeout) {
		t.Errorf("stuck report = %+v", stuckReport)
	}
}

func TestRunCycle_PerSourceTimeout(t *testing.T) {
	slow := &fakeAdapter{name: "slow", source: model.SourceWebScrape, wait: true}
	ok := &fakeAdapter{name: "ok", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
	}}
	sources := []Source{
		{Adapter: slow, Enabled: true, Timeout: 20 * time.Millisecond},
		{Adapter: ok, Enabled: true},
	}
	p := newTestPipeline(t, sources, &recordingNotifier{}, defaultOptions())

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if report.TimedOut {
		t.Error("a per-source timeout must not mark the cycle timed out")
	}
	if got := report.Source("slow").Status; got != StatusTimeout {
		t.Errorf("slow status = %q, want timeout", got)
	}
	if len(report.Emitted) != 1 {
		t.Errorf("emitted %d, want 1", len(report.Emitted))
	}
}

func TestRunCycle_SecondTriggerIsCoalesced(t *testing.T) {
	blocking := &fakeAdapter{name: "a", source: model.SourceJobBoard, stuck: true,
		started: make(chan struct{}), release: make(chan struct{})}
	p := newTestPipeline(t, enabled(blocking), &recordingNotifier{}, defaultOptions())

	done := make(chan error, 1)
	go func() {
		_, err := p.RunCycle(context.Background())
		done <- err
	}()
	<-blocking.started

	if _, err := p.RunCycle(context.Background()); !errors.Is(err, model.ErrCycleInFlight) {
		t.Errorf("concurrent RunCycle() error = %v, want ErrCycleInFlight", err)
	}

	close(blocking.release)
	if err := <-done; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if got := blocking.calls.Load(); got != 1 {
		t.Errorf("adapter called %d times, want 1", got)
	}
}

func TestRunCycle_RateLimitPersistsAcrossCycles(t *testing.T) {
	inner := &fakeAdapter{name: "web_scrape", source: model.SourceWebScrape,
		err: &model.RateLimitedError{Source: "web_scrape", StatusCode: 999}}
	wrapped := retry.NewBackoffAdapter(inner, retry.NewBackoff(time.Minute, time.Hour), discardLogger())
	p := newTestPipeline(t, enabled(wrapped), &recordingNotifier{}, defaultOptions())

	first, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if got := first.Source("web_scrape"); got.Status != StatusRateLimited || got.BlockedUntil.IsZero() {
		t.Errorf("first cycle report = %+v", got)
	}

	second, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if got := second.Source("web_scrape").Status; got != StatusBackoff {
		t.Errorf("second cycle status = %q, want backoff", got)
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("inner adapter called %d times, want 1", got)
	}
}

func TestRunCycle_IndexFailureIsFatal(t *testing.T) {
	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
	}}
	n := &recordingNotifier{}
	d := dedup.New(&brokenIndex{}, discardLogger())
	p := New(enabled(a), d, filter.NewChain(discardLogger()), n, defaultOptions(), discardLogger())

	if _, err := p.RunCycle(context.Background()); err == nil {
		t.Fatal("expected index failure to abort the cycle")
	}
	if len(n.batches) != 0 {
		t.Error("nothing may be emitted when dedup fails")
	}
}

func TestRunCycle_FailedCycleKeepsVacanciesForNextCycle(t *testing.T) {
	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
		raw(model.SourceJobBoard, "hh_2", "SRE", "Globex", "Berlin"),
	}}
	n := &recordingNotifier{}
	d := dedup.New(&downOnceIndex{MemoryIndex: store.NewMemoryIndex()}, discardLogger())
	p := New(enabled(a), d, filter.NewChain(discardLogger()), n, defaultOptions(), discardLogger())

	if _, err := p.RunCycle(context.Background()); err == nil {
		t.Fatal("expected the index outage to abort the first cycle")
	}
	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(report.Emitted) != 2 {
		t.Errorf("emitted %d vacancies after recovery, want 2", len(report.Emitted))
	}
}

func TestRunCycle_EmitErrorIsReported(t *testing.T) {
	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
	}}
	boom := errors.New("webhook down")
	p := newTestPipeline(t, enabled(a), &recordingNotifier{err: boom}, defaultOptions())

	report, err := p.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if !errors.Is(report.EmitError, boom) {
		t.Errorf("EmitError = %v, want %v", report.EmitError, boom)
	}
}

func TestRunCycle_CanceledContext(t *testing.T) {
	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, wait: true}
	p := newTestPipeline(t, enabled(a), &recordingNotifier{}, defaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.RunCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("RunCycle() error = %v, want context.Canceled", err)
	}
}

func TestIndexStats(t *testing.T) {
	a := &fakeAdapter{name: "a", source: model.SourceJobBoard, postings: []model.RawPosting{
		raw(model.SourceJobBoard, "hh_1", "Go Developer", "Acme", "Moscow"),
		raw(model.SourceJobBoard, "hh_2", "SRE", "Acme", "Moscow"),
	}}
	p := newTestPipeline(t, enabled(a), &recordingNotifier{}, defaultOptions())

	if _, err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	stats, err := p.IndexStats(context.Background())
	if err != nil {
		t.Fatalf("IndexStats() error = %v", err)
	}
	if stats.Size != 2 {
		t.Errorf("Size = %d, want 2", stats.Size)
	}
	if stats.OldestEntryAge < 0 || stats.OldestEntryAge > time.Minute {
		t.Errorf("OldestEntryAge = %v", stats.OldestEntryAge)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusOK},
		{"not authorized", &model.SourceError{Source: "channel_feed", Err: model.ErrNotAuthorized}, StatusUnauthorized},
		{"config", &model.ConfigError{Source: "job_board", Field: "query", Reason: "required"}, StatusMisconfigured},
		{"backoff", &model.RateLimitedError{Source: "x", Err: model.ErrBackoffActive}, StatusBackoff},
		{"rate limited", &model.RateLimitedError{Source: "x", StatusCode: 429}, StatusRateLimited},
		{"cycle timeout", &model.SourceError{Source: "x", Err: model.ErrCycleTimeout}, StatusTimeout},
		{"deadline", context.DeadlineExceeded, StatusTimeout},
		{"http", &model.SourceError{Source: "x", Err: &model.HTTPError{StatusCode: 502}}, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
