// Package app assembles a Monitor and its collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/slack-go/slack"

	"github.com/agenthands/driftwatch/internal/config"
	"github.com/agenthands/driftwatch/internal/core"
	"github.com/agenthands/driftwatch/internal/core/analysis"
	"github.com/agenthands/driftwatch/internal/core/normalize"
	"github.com/agenthands/driftwatch/internal/llm"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/monitoring"
	"github.com/agenthands/driftwatch/internal/notify"
	"github.com/agenthands/driftwatch/internal/retry"
	"github.com/agenthands/driftwatch/internal/source"
	"github.com/agenthands/driftwatch/internal/source/notion"
	"github.com/agenthands/driftwatch/internal/source/slackchat"
	"github.com/agenthands/driftwatch/internal/store"
)

// Version is stamped into metrics; overridden at link time.
var Version = "dev"

type App struct {
	Monitor *core.Monitor
	Metrics *monitoring.MetricsCollector
	Store   store.Store

	closers []io.Closer
}

// SlackClient builds the slack-go client for cfg, honoring api_url for tests
// and proxies.
func SlackClient(cfg config.SlackConfig) *slack.Client {
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	return slack.New(cfg.BotToken, opts...)
}

// NotionClient builds the Notion REST client for cfg.
func NotionClient(cfg config.NotionConfig) *notion.Client {
	return notion.NewClient(cfg.BaseURL, cfg.APIKey, notion.WithTimeout(cfg.Timeout.Std()))
}

// Build wires every collaborator. cfg must already be validated.
func Build(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if cfg.Notion.APIKey == "" {
		return nil, errors.New("NOTION_API_KEY is not set")
	}
	if cfg.Slack.BotToken == "" {
		return nil, errors.New("SLACK_BOT_TOKEN is not set")
	}
	loc, err := time.LoadLocation(cfg.Analysis.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone: %w", err)
	}

	a := &App{Metrics: monitoring.NewMetricsCollector("driftwatch", Version)}

	llmClient, err := llm.NewClient(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	if c, ok := llmClient.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	findings, err := store.New(ctx, cfg.Store, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open finding store: %w", err)
	}
	a.Store = findings
	a.closers = append(a.closers, findings)

	slackClient := SlackClient(cfg.Slack)
	docs := notion.NewFetcher(NotionClient(cfg.Notion), retry.New("notion", cfg.Retry.Notion.Policy(), logger), logger)
	chat := slackchat.NewFetcher(slackClient, retry.New("slack", cfg.Retry.Slack.Policy(), logger), logger, cfg.Slack.PageSize)

	sources := source.New(docs, chat, cfg.Slack.Lookback.Std(), source.Limits{
		Documents: int64(cfg.Concurrency.Notion),
		Channels:  int64(cfg.Concurrency.Slack),
	})
	analyzer := analysis.NewAnalyzer(llmClient, retry.New("llm", cfg.Retry.LLM.Policy(), logger), analysis.Config{
		Prompt:         cfg.Analysis.Prompts.Conflicts,
		MinConfidence:  cfg.Analysis.MinConfidence,
		MaxPromptChars: cfg.Analysis.MaxPromptChars,
	}, logger)
	dispatcher := notify.NewDispatcher(
		notify.NewSlackSender(slackClient),
		retry.New("notify", cfg.Retry.Notify.Policy(), logger),
		logger,
	)

	catalog := core.FileCatalog(cfg.Path)
	if cfg.Path == "" {
		c, err := config.BuildCatalog(cfg.Jobs, cfg.Identities)
		if err != nil {
			a.Close()
			return nil, err
		}
		catalog = core.StaticCatalog(c)
	}

	a.Monitor = core.NewMonitor(catalog, sources, normalize.New(loc), analyzer, findings, dispatcher, core.Options{
		JobConcurrency:    cfg.Concurrency.Jobs,
		LLMConcurrency:    cfg.Concurrency.LLM,
		NotifyConcurrency: cfg.Concurrency.Notify,
		RunTimeout:        cfg.Schedule.RunTimeout.Std(),
		OwnerProperty:     cfg.Notion.OwnerProperty,
		WorkspaceURL:      cfg.Slack.WorkspaceURL,
	}, logger)
	a.Monitor.Recorder = a.Metrics
	return a, nil
}

// Close releases the store and backend clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
