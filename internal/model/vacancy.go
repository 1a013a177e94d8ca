package model

import (
	"context"
	"net/http"
	"time"
)

// Source identifies which kind of feed a posting came from.
type Source string

const (
	SourceChannelFeed Source = "channel-feed"
	SourceJobBoard    Source = "job-board"
	SourceWebScrape   Source = "web-scrape"
)

// RawPosting is a posting as reported by a source, before normalization.
// It lives for a single cycle.
type RawPosting struct {
	Source      Source
	ID          string     // source-native key (message id, listing id)
	Title       string
	Company     string
	Location    string
	Description string
	URL         string
	PostedAt    *time.Time // nil when the source does not report it
	FetchedAt   time.Time  // our clock
}

// Vacancy is the canonical record every source normalizes into.
// It is never modified after normalization; enrichment goes into Annotation.
type Vacancy struct {
	ID          string
	Source      Source
	Title       string
	Company     string
	Location    string
	Description string
	URL         string
	PostedAt    time.Time
	Fingerprint string
}

// Annotation is the result attached to a vacancy by a filter stage.
type Annotation struct {
	Stage      string
	Accepted   bool
	Score      int
	Rationale  string
	FailedOpen bool // the stage could not decide and let the vacancy through
}

// Screened is a vacancy that passed the filter chain, plus whatever the
// stages had to say about it.
type Screened struct {
	Vacancy     Vacancy
	Annotations []Annotation
}

// Window bounds how far back a cycle looks, in days. Days <= 0 disables the bound.
type Window struct {
	Days int
}

// Cutoff returns the oldest acceptable posting time, or the zero time when unbounded.
func (w Window) Cutoff(now time.Time) time.Time {
	if w.Days <= 0 {
		return time.Time{}
	}
	return now.Add(-w.Duration())
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return time.Duration(w.Days) * 24 * time.Hour
}

// Contains reports whether t falls inside the window ending at now.
func (w Window) Contains(t, now time.Time) bool {
	if w.Days <= 0 {
		return true
	}
	return !t.Before(w.Cutoff(now))
}

// Adapter fetches raw postings from one external source. Source-specific
// parameters are bound at construction. On error an adapter may still return
// the postings it collected before failing; callers use them.
type Adapter interface {
	Name() string
	Source() Source
	Fetch(ctx context.Context, window Window) ([]RawPosting, error)
}

// IndexStats describes the fingerprint index.
type IndexStats struct {
	Size   int64
	Oldest time.Time // zero when the index is empty
}

// FingerprintIndex is the persistent set of fingerprints seen so far.
type FingerprintIndex interface {
	// Record inserts fingerprint with seenAt unless present. It reports
	// whether the fingerprint was new. Check and insert are atomic.
	Record(ctx context.Context, fingerprint string, seenAt time.Time) (bool, error)
	// RecordBatch records distinct fingerprints with seenAt and reports, per
	// fingerprint, whether it was new. On error none of them is recorded.
	RecordBatch(ctx context.Context, fingerprints []string, seenAt time.Time) ([]bool, error)
	Contains(ctx context.Context, fingerprint string) (bool, error)
	// Evict drops entries first seen before the given time.
	Evict(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) (IndexStats, error)
}

// Notifier receives the accepted batch of a cycle.
type Notifier interface {
	Notify(ctx context.Context, batch []Screened) error
}

// Verdict is a filter stage decision.
type Verdict struct {
	Accept     bool
	Annotation *Annotation // optional
}

// Stage is one step of the filter chain.
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, v Vacancy) Verdict
}

// AnalysisRequest is what the deep-analysis stage sends to the text analyzer.
type AnalysisRequest struct {
	Title       string
	Description string
	Context     string
}

// Judgment is the text analyzer's answer.
type Judgment struct {
	Accept    bool
	Score     int
	Rationale string
}

// TextAnalyzer judges whether a vacancy is worth keeping.
type TextAnalyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (Judgment, error)
}

// ChannelMessage is one post read from a messaging channel.
type ChannelMessage struct {
	ID       int64
	Channel  string // identifier the message was requested with
	Username string // public @username of the channel, empty if private
	Title    string // channel display title
	Text     string
	Date     time.Time
}

// ChannelSession is an authenticated handle on a messaging platform.
type ChannelSession interface {
	IsAuthorized(ctx context.Context) bool
	// History returns messages of channel posted at or after since, newest first,
	// at most limit of them.
	History(ctx context.Context, channel string, since time.Time, limit int) ([]ChannelMessage, error)
}

// HTTPClient is the part of *http.Client the adapters use.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
