package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qcekey/iget/internal/model"
)

// Config is the root configuration for iget.
type Config struct {
	Schedule     ScheduleConfig
	Cycle        CycleConfig
	Store        StoreConfig
	Sources      SourcesConfig
	Filters      FilterConfig
	Analysis     AnalysisConfig
	Notification NotificationConfig
}

// ScheduleConfig controls when cycles are triggered. Cron wins over Interval.
type ScheduleConfig struct {
	Interval   time.Duration
	Cron       string
	RunOnStart bool
}

// CycleConfig bounds a single aggregation cycle.
type CycleConfig struct {
	Deadline            time.Duration // global cycle deadline
	Grace               time.Duration // extra time to collect partial results after the deadline
	LookbackDays        int           // <= 0 disables the lookback window
	Retention           time.Duration // fingerprint index retention, 0 disables eviction
	AnalysisConcurrency int
}

// Window returns the lookback window of a cycle.
func (c CycleConfig) Window() model.Window {
	return model.Window{Days: c.LookbackDays}
}

// StoreConfig selects the fingerprint index backend.
type StoreConfig struct {
	Driver   string // sqlite, redis, postgres or memory
	Path     string // sqlite file
	URL      string // redis or postgres connection URL
	LockFile string
}

// BackoffConfig bounds the exponential backoff a source enters when rate limited.
type BackoffConfig struct {
	Base    time.Duration
	Ceiling time.Duration
}

// SourcesConfig groups the three source kinds.
type SourcesConfig struct {
	ChannelFeed ChannelFeedConfig
	JobBoard    JobBoardConfig
	WebScrape   WebScrapeConfig
}

// ChannelFeedConfig configures the messaging-channel source.
type ChannelFeedConfig struct {
	Enabled       bool
	Session       string // "bot" or "rss"
	BotToken      string
	RSSBaseURL    string
	Channels      []string
	HistoryLimit  int
	MinTextLength int
	Timeout       time.Duration
	MinDelay      time.Duration
	Backoff       BackoffConfig
}

// Validate checks the parameters the channel-feed adapter needs.
func (c ChannelFeedConfig) Validate() error {
	if len(c.Channels) == 0 {
		return &model.ConfigError{Source: "channel_feed", Field: "channels", Reason: "at least one channel is required"}
	}
	switch c.Session {
	case "bot":
		if c.BotToken == "" {
			return &model.ConfigError{Source: "channel_feed", Field: "bot_token", Reason: "required for the bot session"}
		}
	case "rss":
		if err := validateBaseURL("channel_feed", "rss_base_url", c.RSSBaseURL); err != nil {
			return err
		}
	default:
		return &model.ConfigError{Source: "channel_feed", Field: "session", Reason: fmt.Sprintf("unknown session %q (want bot or rss)", c.Session)}
	}
	if c.HistoryLimit <= 0 {
		return &model.ConfigError{Source: "channel_feed", Field: "history_limit", Reason: "must be positive"}
	}
	return nil
}

// JobBoardConfig configures the structured job-board API source.
type JobBoardConfig struct {
	Enabled           bool
	BaseURL           string
	Query             string
	Area              string
	PerPage           int
	MaxPages          int
	DetailConcurrency int
	UserAgent         string
	Timeout           time.Duration
	MinDelay          time.Duration
	Backoff           BackoffConfig
}

// Validate checks the parameters the job-board adapter needs.
func (c JobBoardConfig) Validate() error {
	if err := validateBaseURL("job_board", "base_url", c.BaseURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Query) == "" {
		return &model.ConfigError{Source: "job_board", Field: "query", Reason: "required"}
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		return &model.ConfigError{Source: "job_board", Field: "per_page", Reason: fmt.Sprintf("must be between 1 and 100, got %d", c.PerPage)}
	}
	if c.MaxPages < 1 {
		return &model.ConfigError{Source: "job_board", Field: "max_pages", Reason: "must be positive"}
	}
	if c.DetailConcurrency < 1 {
		return &model.ConfigError{Source: "job_board", Field: "detail_concurrency", Reason: "must be positive"}
	}
	return nil
}

// WebScrapeConfig configures the scraped professional-network search source.
type WebScrapeConfig struct {
	Enabled           bool
	BaseURL           string
	Query             string
	Location          string
	MaxPages          int
	FetchDetails      bool
	DetailConcurrency int
	UserAgent         string
	Timeout           time.Duration
	MinDelay          time.Duration
	Backoff           BackoffConfig
}

// Validate checks the parameters the web-scrape adapter needs.
func (c WebScrapeConfig) Validate() error {
	if err := validateBaseURL("web_scrape", "base_url", c.BaseURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Query) == "" {
		return &model.ConfigError{Source: "web_scrape", Field: "query", Reason: "required"}
	}
	if c.MaxPages < 1 {
		return &model.ConfigError{Source: "web_scrape", Field: "max_pages", Reason: "must be positive"}
	}
	if c.FetchDetails && c.DetailConcurrency < 1 {
		return &model.ConfigError{Source: "web_scrape", Field: "detail_concurrency", Reason: "must be positive"}
	}
	return nil
}

func validateBaseURL(source, field, raw string) error {
	if raw == "" {
		return &model.ConfigError{Source: source, Field: field, Reason: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &model.ConfigError{Source: source, Field: field, Reason: fmt.Sprintf("not an http(s) URL: %q", raw)}
	}
	return nil
}

// FilterConfig holds the keyword stage settings.
type FilterConfig struct {
	Keywords string   `yaml:"keywords"` // e.g. "golang and backend, python"
	Exclude  []string `yaml:"exclude"`
	Regexes  []string `yaml:"regexes"`
}

// AnalysisConfig controls the optional deep-analysis stage.
type AnalysisConfig struct {
	Enabled bool
	BaseURL string        // defaults to https://api.openai.com/v1
	Model   string        // e.g. "gpt-4o-mini"
	APIKey  string        // expanded from env var by Load, or read from the keyring
	Context string        // free-form candidate criteria passed to the model
	Timeout time.Duration // per-vacancy timeout
}

// NotificationConfig controls where accepted vacancies are emitted.
type NotificationConfig struct {
	Type           string   `yaml:"type"`        // log, slack, telegram, file or multi
	WebhookURL     string   `yaml:"webhook_url"` // required if slack is used
	TelegramChatID int64    `yaml:"telegram_chat_id"`
	BotToken       string   `yaml:"bot_token"`
	FilePath       string   `yaml:"file_path"`
	Targets        []string `yaml:"targets"` // sinks used by multi
}

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultJobBoardURL   = "https://api.hh.ru"
	defaultWebScrapeURL  = "https://www.linkedin.com"
	defaultRSSBaseURL    = "https://rsshub.app/telegram/channel"
	defaultUserAgent     = "iget/1.0 (vacancy aggregator)"
)

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	Schedule     rawScheduleConfig  `yaml:"schedule"`
	Cycle        rawCycleConfig     `yaml:"cycle"`
	Store        rawStoreConfig     `yaml:"store"`
	Sources      rawSourcesConfig   `yaml:"sources"`
	Filters      FilterConfig       `yaml:"filters"`
	Analysis     rawAnalysisConfig  `yaml:"analysis"`
	Notification NotificationConfig `yaml:"notification"`
}

type rawScheduleConfig struct {
	Interval   string `yaml:"interval"`
	Cron       string `yaml:"cron"`
	RunOnStart *bool  `yaml:"run_on_start"`
}

type rawCycleConfig struct {
	Deadline            string `yaml:"deadline"`
	Grace               string `yaml:"grace"`
	LookbackDays        *int   `yaml:"lookback_days"`
	Retention           string `yaml:"retention"`
	AnalysisConcurrency int    `yaml:"analysis_concurrency"`
}

type rawStoreConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	URL      string `yaml:"url"`
	LockFile string `yaml:"lock_file"`
}

type rawBackoffConfig struct {
	Base    string `yaml:"base"`
	Ceiling string `yaml:"ceiling"`
}

type rawSourcesConfig struct {
	ChannelFeed rawChannelFeedConfig `yaml:"channel_feed"`
	JobBoard    rawJobBoardConfig    `yaml:"job_board"`
	WebScrape   rawWebScrapeConfig   `yaml:"web_scrape"`
}

type rawChannelFeedConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Session       string           `yaml:"session"`
	BotToken      string           `yaml:"bot_token"`
	RSSBaseURL    string           `yaml:"rss_base_url"`
	Channels      []string         `yaml:"channels"`
	HistoryLimit  int              `yaml:"history_limit"`
	MinTextLength *int             `yaml:"min_text_length"`
	Timeout       string           `yaml:"timeout"`
	MinDelay      string           `yaml:"min_delay"`
	Backoff       rawBackoffConfig `yaml:"backoff"`
}

type rawJobBoardConfig struct {
	Enabled           bool             `yaml:"enabled"`
	BaseURL           string           `yaml:"base_url"`
	Query             string           `yaml:"query"`
	Area              string           `yaml:"area"`
	PerPage           int              `yaml:"per_page"`
	MaxPages          int              `yaml:"max_pages"`
	DetailConcurrency int              `yaml:"detail_concurrency"`
	UserAgent         string           `yaml:"user_agent"`
	Timeout           string           `yaml:"timeout"`
	MinDelay          string           `yaml:"min_delay"`
	Backoff           rawBackoffConfig `yaml:"backoff"`
}

type rawWebScrapeConfig struct {
	Enabled           bool             `yaml:"enabled"`
	BaseURL           string           `yaml:"base_url"`
	Query             string           `yaml:"query"`
	Location          string           `yaml:"location"`
	MaxPages          int              `yaml:"max_pages"`
	FetchDetails      bool             `yaml:"fetch_details"`
	DetailConcurrency int              `yaml:"detail_concurrency"`
	UserAgent         string           `yaml:"user_agent"`
	Timeout           string           `yaml:"timeout"`
	MinDelay          string           `yaml:"min_delay"`
	Backoff           rawBackoffConfig `yaml:"backoff"`
}

type rawAnalysisConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	Context string `yaml:"context"`
	Timeout string `yaml:"timeout"`
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
// Source-specific required fields are checked by each adapter, not here.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	p := &durationParser{}
	cfg := &Config{
		Schedule: ScheduleConfig{
			Interval:   p.parse("schedule.interval", raw.Schedule.Interval, 30*time.Minute),
			Cron:       strings.TrimSpace(raw.Schedule.Cron),
			RunOnStart: raw.Schedule.RunOnStart == nil || *raw.Schedule.RunOnStart,
		},
		Cycle: CycleConfig{
			Deadline:            p.parse("cycle.deadline", raw.Cycle.Deadline, 5*time.Minute),
			Grace:               p.parse("cycle.grace", raw.Cycle.Grace, 2*time.Second),
			LookbackDays:        7,
			AnalysisConcurrency: orDefault(raw.Cycle.AnalysisConcurrency, 3),
		},
		Store: StoreConfig{
			Driver:   orDefaultString(raw.Store.Driver, "sqlite"),
			Path:     orDefaultString(raw.Store.Path, "iget.db"),
			URL:      raw.Store.URL,
			LockFile: raw.Store.LockFile,
		},
		Filters: raw.Filters,
		Analysis: AnalysisConfig{
			Enabled: raw.Analysis.Enabled,
			BaseURL: orDefaultString(raw.Analysis.BaseURL, defaultOpenAIBaseURL),
			Model:   raw.Analysis.Model,
			APIKey:  raw.Analysis.APIKey,
			Context: strings.TrimSpace(raw.Analysis.Context),
			Timeout: p.parse("analysis.timeout", raw.Analysis.Timeout, 30*time.Second),
		},
		Notification: raw.Notification,
	}
	if raw.Cycle.LookbackDays != nil {
		cfg.Cycle.LookbackDays = *raw.Cycle.LookbackDays
	}
	if cfg.Store.LockFile == "" {
		cfg.Store.LockFile = cfg.Store.Path + ".lock"
	}
	if cfg.Notification.Type == "" {
		cfg.Notification.Type = "log"
	}

	// Retention defaults to the lookback window and never goes below a day.
	cfg.Cycle.Retention = p.parse("cycle.retention", raw.Cycle.Retention, cfg.Cycle.Window().Duration())
	if cfg.Cycle.Retention > 0 && cfg.Cycle.Retention < 24*time.Hour {
		cfg.Cycle.Retention = 24 * time.Hour
	}

	cf := raw.Sources.ChannelFeed
	minText := 30
	if cf.MinTextLength != nil {
		minText = *cf.MinTextLength
	}
	cfg.Sources.ChannelFeed = ChannelFeedConfig{
		Enabled:       cf.Enabled,
		Session:       orDefaultString(cf.Session, "bot"),
		BotToken:      cf.BotToken,
		RSSBaseURL:    orDefaultString(cf.RSSBaseURL, defaultRSSBaseURL),
		Channels:      cf.Channels,
		HistoryLimit:  orDefault(cf.HistoryLimit, 600),
		MinTextLength: minText,
		Timeout:       p.parse("sources.channel_feed.timeout", cf.Timeout, time.Minute),
		MinDelay:      p.parse("sources.channel_feed.min_delay", cf.MinDelay, time.Second),
		Backoff:       p.backoff("sources.channel_feed.backoff", cf.Backoff),
	}

	jb := raw.Sources.JobBoard
	cfg.Sources.JobBoard = JobBoardConfig{
		Enabled:           jb.Enabled,
		BaseURL:           strings.TrimRight(orDefaultString(jb.BaseURL, defaultJobBoardURL), "/"),
		Query:             jb.Query,
		Area:              orDefaultString(jb.Area, "1"),
		PerPage:           orDefault(jb.PerPage, 50),
		MaxPages:          orDefault(jb.MaxPages, 10),
		DetailConcurrency: orDefault(jb.DetailConcurrency, 4),
		UserAgent:         orDefaultString(jb.UserAgent, defaultUserAgent),
		Timeout:           p.parse("sources.job_board.timeout", jb.Timeout, 2*time.Minute),
		MinDelay:          p.parse("sources.job_board.min_delay", jb.MinDelay, 250*time.Millisecond),
		Backoff:           p.backoff("sources.job_board.backoff", jb.Backoff),
	}

	ws := raw.Sources.WebScrape
	cfg.Sources.WebScrape = WebScrapeConfig{
		Enabled:           ws.Enabled,
		BaseURL:           strings.TrimRight(orDefaultString(ws.BaseURL, defaultWebScrapeURL), "/"),
		Query:             ws.Query,
		Location:          ws.Location,
		MaxPages:          orDefault(ws.MaxPages, 4),
		FetchDetails:      ws.FetchDetails,
		DetailConcurrency: orDefault(ws.DetailConcurrency, 2),
		UserAgent:         orDefaultString(ws.UserAgent, "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"),
		Timeout:           p.parse("sources.web_scrape.timeout", ws.Timeout, 2*time.Minute),
		MinDelay:          p.parse("sources.web_scrape.min_delay", ws.MinDelay, 2*time.Second),
		Backoff:           p.backoff("sources.web_scrape.backoff", ws.Backoff),
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// durationParser keeps the first parse error so Parse reads top to bottom.
type durationParser struct {
	err error
}

func (p *durationParser) parse(field, value string, def time.Duration) time.Duration {
	if value == "" || p.err != nil {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.err = fmt.Errorf("parse %s %q: %w", field, value, err)
		return def
	}
	return d
}

func (p *durationParser) backoff(field string, raw rawBackoffConfig) BackoffConfig {
	return BackoffConfig{
		Base:    p.parse(field+".base", raw.Base, time.Minute),
		Ceiling: p.parse(field+".ceiling", raw.Ceiling, time.Hour),
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func validate(cfg *Config) error {
	if cfg.Schedule.Cron == "" && cfg.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be positive, got %v", cfg.Schedule.Interval)
	}
	if cfg.Cycle.Deadline <= 0 {
		return fmt.Errorf("cycle.deadline must be positive, got %v", cfg.Cycle.Deadline)
	}
	if cfg.Cycle.Grace < 0 {
		return fmt.Errorf("cycle.grace must not be negative, got %v", cfg.Cycle.Grace)
	}
	if cfg.Cycle.AnalysisConcurrency < 1 {
		return fmt.Errorf("cycle.analysis_concurrency must be positive, got %d", cfg.Cycle.AnalysisConcurrency)
	}
	if w := cfg.Cycle.Window().Duration(); cfg.Cycle.Retention > 0 && w > 0 && cfg.Cycle.Retention < w {
		return fmt.Errorf("cycle.retention (%v) must cover the lookback window (%v)", cfg.Cycle.Retention, w)
	}

	switch cfg.Store.Driver {
	case "sqlite", "memory":
	case "redis", "postgres":
		if cfg.Store.URL == "" {
			return fmt.Errorf("store.url is required when store.driver is %q", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be one of sqlite, redis, postgres, memory, got %q", cfg.Store.Driver)
	}

	s := cfg.Sources
	if !s.ChannelFeed.Enabled && !s.JobBoard.Enabled && !s.WebScrape.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}
	for name, b := range map[string]BackoffConfig{
		"channel_feed": s.ChannelFeed.Backoff,
		"job_board":    s.JobBoard.Backoff,
		"web_scrape":   s.WebScrape.Backoff,
	} {
		if b.Base <= 0 || b.Ceiling < b.Base {
			return fmt.Errorf("sources.%s.backoff: base must be positive and ceiling >= base", name)
		}
	}

	for _, expr := range cfg.Filters.Regexes {
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("filters.regexes: %q: %w", expr, err)
		}
	}

	if err := validateNotification(cfg.Notification.Type, cfg.Notification, 0); err != nil {
		return err
	}

	if cfg.Analysis.Enabled {
		if cfg.Analysis.BaseURL == "" {
			return fmt.Errorf("analysis.base_url is required when analysis.enabled is true")
		}
		if cfg.Analysis.Model == "" {
			return fmt.Errorf("analysis.model is required when analysis.enabled is true")
		}
	}

	return nil
}

func validateNotification(kind string, n NotificationConfig, depth int) error {
	switch kind {
	case "log":
	case "slack":
		// An empty webhook is looked up in the keychain at startup.
		if n.WebhookURL != "" && !strings.HasPrefix(n.WebhookURL, "https://hooks.slack.com/") {
			return fmt.Errorf("notification.webhook_url must start with https://hooks.slack.com/")
		}
	case "telegram":
		if n.TelegramChatID == 0 {
			return fmt.Errorf("notification.telegram_chat_id is required when type is \"telegram\"")
		}
	case "file":
		if n.FilePath == "" {
			return fmt.Errorf("notification.file_path is required when type is \"file\"")
		}
	case "multi":
		if depth > 0 {
			return fmt.Errorf("notification.targets: multi cannot be nested")
		}
		if len(n.Targets) == 0 {
			return fmt.Errorf("notification.targets is required when type is \"multi\"")
		}
		for _, t := range n.Targets {
			if err := validateNotification(t, n, depth+1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("notification.type %q is not supported", kind)
	}
	return nil
}
