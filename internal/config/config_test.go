package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/qcekey/iget/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
schedule:
  interval: 15m
cycle:
  lookback_days: 3
sources:
  job_board:
    enabled: true
    query: golang
    per_page: 100
  channel_feed:
    enabled: true
    session: rss
    channels: [golang_jobs, remote_it]
filters:
  keywords: "golang and backend, python"
  exclude: [senior]
notification:
  type: file
  file_path: out.jsonl
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Schedule.Interval != 15*time.Minute {
		t.Errorf("Interval = %v, want 15m", cfg.Schedule.Interval)
	}
	if !cfg.Schedule.RunOnStart {
		t.Error("RunOnStart should default to true")
	}
	if cfg.Cycle.LookbackDays != 3 {
		t.Errorf("LookbackDays = %d, want 3", cfg.Cycle.LookbackDays)
	}
	if cfg.Cycle.Retention != 72*time.Hour {
		t.Errorf("Retention = %v, want the lookback window", cfg.Cycle.Retention)
	}
	if cfg.Sources.JobBoard.PerPage != 100 || cfg.Sources.JobBoard.Area != "1" || cfg.Sources.JobBoard.MaxPages != 10 {
		t.Errorf("JobBoard = %+v", cfg.Sources.JobBoard)
	}
	if diff := cmp.Diff([]string{"golang_jobs", "remote_it"}, cfg.Sources.ChannelFeed.Channels); diff != "" {
		t.Errorf("Channels mismatch (-want +got):\n%s", diff)
	}
	if cfg.Sources.ChannelFeed.MinTextLength != 30 || cfg.Sources.ChannelFeed.HistoryLimit != 600 {
		t.Errorf("ChannelFeed = %+v", cfg.Sources.ChannelFeed)
	}
	if cfg.Filters.Keywords != "golang and backend, python" {
		t.Errorf("Keywords = %q", cfg.Filters.Keywords)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.LockFile != "iget.db.lock" {
		t.Errorf("Store = %+v", cfg.Store)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
sources:
  web_scrape:
    enabled: true
    query: go developer
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := CycleConfig{
		Deadline:            5 * time.Minute,
		Grace:               2 * time.Second,
		LookbackDays:        7,
		Retention:           7 * 24 * time.Hour,
		AnalysisConcurrency: 3,
	}
	if diff := cmp.Diff(want, cfg.Cycle); diff != "" {
		t.Errorf("Cycle mismatch (-want +got):\n%s", diff)
	}
	if cfg.Sources.WebScrape.BaseURL != "https://www.linkedin.com" || cfg.Sources.WebScrape.MaxPages != 4 {
		t.Errorf("WebScrape = %+v", cfg.Sources.WebScrape)
	}
	if cfg.Sources.WebScrape.Backoff != (BackoffConfig{Base: time.Minute, Ceiling: time.Hour}) {
		t.Errorf("Backoff = %+v", cfg.Sources.WebScrape.Backoff)
	}
	if cfg.Notification.Type != "log" {
		t.Errorf("Notification.Type = %q, want log", cfg.Notification.Type)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("IGET_TEST_KEY", "sk-test")
	cfg, err := Parse([]byte(`
sources:
  job_board: {enabled: true, query: go}
analysis:
  enabled: true
  model: gpt-4o-mini
  api_key: ${IGET_TEST_KEY}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Analysis.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.Analysis.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("Load: expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "schedule: [broken")); err == nil {
		t.Fatal("Load: expected error for invalid YAML")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no enabled source", `
sources:
  job_board: {enabled: false, query: go}
`},
		{"zero interval", `
schedule: {interval: 0s}
sources:
  job_board: {enabled: true}
`},
		{"bad duration", `
cycle: {deadline: soon}
sources:
  job_board: {enabled: true}
`},
		{"retention shorter than window", `
cycle: {lookback_days: 7, retention: 48h}
sources:
  job_board: {enabled: true}
`},
		{"unknown store driver", `
store: {driver: mongo}
sources:
  job_board: {enabled: true}
`},
		{"redis without url", `
store: {driver: redis}
sources:
  job_board: {enabled: true}
`},
		{"slack webhook on another host", `
notification: {type: slack, webhook_url: "https://example.com/hook"}
sources:
  job_board: {enabled: true}
`},
		{"multi with unknown target", `
notification: {type: multi, targets: [log, pager]}
sources:
  job_board: {enabled: true}
`},
		{"bad regex", `
filters: {regexes: ["(unclosed"]}
sources:
  job_board: {enabled: true}
`},
		{"analysis without model", `
analysis: {enabled: true}
sources:
  job_board: {enabled: true}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// An enabled source missing its own required fields loads fine: the adapter
// reports the ConfigError at fetch time so the other sources keep running.
func TestLoad_SourceFieldsValidatedLazily(t *testing.T) {
	cfg, err := Parse([]byte(`
sources:
  job_board: {enabled: true}
  web_scrape: {enabled: true, query: go}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var cfgErr *model.ConfigError
	if err := cfg.Sources.JobBoard.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != "query" {
		t.Errorf("JobBoard.Validate() = %v, want ConfigError on query", err)
	}
	if err := cfg.Sources.WebScrape.Validate(); err != nil {
		t.Errorf("WebScrape.Validate() = %v, want nil", err)
	}
}

func TestChannelFeedConfig_Validate(t *testing.T) {
	base := ChannelFeedConfig{Session: "bot", BotToken: "123:abc", Channels: []string{"jobs"}, HistoryLimit: 600}

	tests := []struct {
		name  string
		mut   func(c *ChannelFeedConfig)
		field string
	}{
		{"valid", func(c *ChannelFeedConfig) {}, ""},
		{"no channels", func(c *ChannelFeedConfig) { c.Channels = nil }, "channels"},
		{"bot without token", func(c *ChannelFeedConfig) { c.BotToken = "" }, "bot_token"},
		{"rss without url", func(c *ChannelFeedConfig) { c.Session = "rss"; c.RSSBaseURL = "" }, "rss_base_url"},
		{"unknown session", func(c *ChannelFeedConfig) { c.Session = "mtproto" }, "session"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mut(&c)
			err := c.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var cfgErr *model.ConfigError
			if !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Fatalf("got %v, want ConfigError on %s", err, tt.field)
			}
		})
	}
}
