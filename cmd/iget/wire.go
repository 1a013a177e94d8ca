package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/qcekey/iget/internal/adapter"
	"github.com/qcekey/iget/internal/ai"
	"github.com/qcekey/iget/internal/config"
	"github.com/qcekey/iget/internal/dedup"
	"github.com/qcekey/iget/internal/filter"
	"github.com/qcekey/iget/internal/model"
	"github.com/qcekey/iget/internal/notifier"
	"github.com/qcekey/iget/internal/pipeline"
	"github.com/qcekey/iget/internal/ratelimit"
	"github.com/qcekey/iget/internal/retry"
	"github.com/qcekey/iget/internal/secrets"
	"github.com/qcekey/iget/internal/session"
	"github.com/qcekey/iget/internal/store"
)

// index is a fingerprint index that owns a connection.
type index interface {
	model.FingerprintIndex
	Close() error
}

func openIndex(ctx context.Context, cfg config.StoreConfig) (index, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.NewSQLiteIndex(cfg.Path)
	case "redis":
		return store.NewRedisIndex(ctx, cfg.URL, store.DefaultRedisKey)
	case "postgres":
		return store.NewPostgresIndex(ctx, cfg.URL)
	case "memory":
		return store.NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// sourceClient returns an HTTP client paced by its own per-host limiter.
func sourceClient(minDelay time.Duration) model.HTTPClient {
	return ratelimit.NewClient(&http.Client{Timeout: 30 * time.Second}, ratelimit.NewLimiter(minDelay))
}

func buildChannelSession(cfg *config.ChannelFeedConfig, client model.HTTPClient, logger *slog.Logger) (model.ChannelSession, error) {
	switch cfg.Session {
	case "rss":
		return session.NewFeedSession(cfg.RSSBaseURL, client, logger), nil
	default:
		token, err := secrets.Resolve(cfg.BotToken, secrets.AccountBotToken)
		if err != nil {
			return nil, fmt.Errorf("channel feed bot token: %w", err)
		}
		// The adapter validates the resolved token.
		cfg.BotToken = token
		return session.NewBotSession(token, client, logger), nil
	}
}

// buildSources creates every adapter in declaration order, each wrapped in a
// persistent backoff. Disabled sources are kept so they show up in reports.
func buildSources(cfg *config.Config, logger *slog.Logger) ([]pipeline.Source, error) {
	var sources []pipeline.Source

	cf := cfg.Sources.ChannelFeed
	var feed model.Adapter
	if cf.Enabled {
		client := sourceClient(cf.MinDelay)
		sess, err := buildChannelSession(&cf, client, logger)
		if err != nil {
			return nil, err
		}
		feed = adapter.NewChannelFeedAdapter(cf, sess, logger)
	} else {
		feed = adapter.NewChannelFeedAdapter(cf, nil, logger)
	}
	sources = append(sources, pipeline.Source{
		Adapter: retry.NewBackoffAdapter(feed, retry.NewBackoff(cf.Backoff.Base, cf.Backoff.Ceiling), logger),
		Enabled: cf.Enabled,
		Timeout: cf.Timeout,
	})

	jb := cfg.Sources.JobBoard
	board := adapter.NewJobBoardAdapter(jb, sourceClient(jb.MinDelay), logger)
	sources = append(sources, pipeline.Source{
		Adapter: retry.NewBackoffAdapter(board, retry.NewBackoff(jb.Backoff.Base, jb.Backoff.Ceiling), logger),
		Enabled: jb.Enabled,
		Timeout: jb.Timeout,
	})

	ws := cfg.Sources.WebScrape
	scrape := adapter.NewWebScrapeAdapter(ws, sourceClient(ws.MinDelay), logger)
	sources = append(sources, pipeline.Source{
		Adapter: retry.NewBackoffAdapter(scrape, retry.NewBackoff(ws.Backoff.Base, ws.Backoff.Ceiling), logger),
		Enabled: ws.Enabled,
		Timeout: ws.Timeout,
	})

	for _, s := range sources {
		if s.Enabled {
			logger.Info("registered source", "name", s.Adapter.Name(), "timeout", s.Timeout.String())
		}
	}
	return sources, nil
}

// buildKeywordStage returns nil when no keyword rules are configured.
func buildKeywordStage(cfg *config.Config) (model.Stage, error) {
	kw, err := filter.NewKeywordStage(cfg.Filters.Keywords, cfg.Filters.Exclude, cfg.Filters.Regexes)
	if err != nil {
		return nil, fmt.Errorf("keyword filter: %w", err)
	}
	if kw.Empty() {
		return nil, nil
	}
	return kw, nil
}

// buildAnalysisStage returns nil when deep analysis is disabled.
func buildAnalysisStage(cfg *config.Config, logger *slog.Logger) (model.Stage, error) {
	if !cfg.Analysis.Enabled {
		return nil, nil
	}
	apiKey, err := secrets.Resolve(cfg.Analysis.APIKey, secrets.AccountAnalysisAPIKey)
	if err != nil {
		return nil, fmt.Errorf("analysis api key: %w", err)
	}
	if apiKey == "" {
		logger.Warn("analysis enabled without an api key, every vacancy will pass unchecked")
	}

	httpClient := &http.Client{Timeout: cfg.Analysis.Timeout + 5*time.Second}
	provider := ai.NewOpenAIProvider(cfg.Analysis.BaseURL, apiKey, cfg.Analysis.Model, httpClient)
	screener := ai.NewScreener(provider, ai.ScreeningTemplate, logger)
	logger.Info("deep analysis enabled", "model", cfg.Analysis.Model, "base_url", cfg.Analysis.BaseURL)
	return filter.NewAnalysisStage(screener, cfg.Analysis.Context, cfg.Analysis.Timeout, logger), nil
}

// buildChain assembles the keyword stage followed by the analysis stage.
func buildChain(cfg *config.Config, withAnalysis bool, logger *slog.Logger) (*filter.Chain, error) {
	var stages []model.Stage
	kw, err := buildKeywordStage(cfg)
	if err != nil {
		return nil, err
	}
	if kw != nil {
		stages = append(stages, kw)
	}
	if withAnalysis {
		an, err := buildAnalysisStage(cfg, logger)
		if err != nil {
			return nil, err
		}
		if an != nil {
			stages = append(stages, an)
		}
	}
	return filter.NewChain(logger, stages...), nil
}

func setupNotifier(cfg *config.Config, kind string, logger *slog.Logger) (model.Notifier, error) {
	n := cfg.Notification
	httpClient := &http.Client{Timeout: 30 * time.Second}

	switch kind {
	case "slack":
		webhook, err := secrets.Resolve(n.WebhookURL, secrets.AccountSlackWebhook)
		if err != nil {
			return nil, fmt.Errorf("slack webhook: %w", err)
		}
		if webhook == "" {
			return nil, fmt.Errorf("slack notifier: no webhook_url in config or keychain")
		}
		logger.Info("using slack notifier")
		return notifier.NewSlackNotifier(webhook, httpClient, logger), nil
	case "telegram":
		token, err := secrets.Resolve(n.BotToken, secrets.AccountBotToken)
		if err != nil {
			return nil, fmt.Errorf("telegram bot token: %w", err)
		}
		if token == "" {
			token = cfg.Sources.ChannelFeed.BotToken
		}
		if token == "" {
			return nil, fmt.Errorf("telegram notifier: no bot_token in config or keychain")
		}
		logger.Info("using telegram notifier", "chat_id", n.TelegramChatID)
		return notifier.NewTelegramNotifier(token, n.TelegramChatID, httpClient, logger)
	case "file":
		logger.Info("using file notifier", "path", n.FilePath)
		return notifier.NewFileNotifier(n.FilePath), nil
	case "multi":
		var sinks []model.Notifier
		for _, target := range n.Targets {
			sink, err := setupNotifier(cfg, target, logger)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, sink)
		}
		return notifier.NewMultiNotifier(sinks...), nil
	default:
		return notifier.NewLogNotifier(logger), nil
	}
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Window:              cfg.Cycle.Window(),
		Deadline:            cfg.Cycle.Deadline,
		Grace:               cfg.Cycle.Grace,
		Retention:           cfg.Cycle.Retention,
		AnalysisConcurrency: cfg.Cycle.AnalysisConcurrency,
	}
}

// buildPipeline wires sources, the filter chain and n around idx.
func buildPipeline(cfg *config.Config, idx model.FingerprintIndex, n model.Notifier, logger *slog.Logger) (*pipeline.Pipeline, error) {
	sources, err := buildSources(cfg, logger)
	if err != nil {
		return nil, err
	}
	chain, err := buildChain(cfg, true, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("filter chain", "stages", chain.Names())
	return pipeline.New(sources, dedup.New(idx, logger), chain, n, pipelineOptions(cfg), logger), nil
}
