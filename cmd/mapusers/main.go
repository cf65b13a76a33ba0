// Command mapusers builds the [[identities]] table by joining Slack members
// and Notion users, and prints it as TOML for pasting into the config.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/agenthands/driftwatch/internal/app"
	"github.com/agenthands/driftwatch/internal/config"
	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/identity"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/retry"
	"github.com/agenthands/driftwatch/internal/source/notion"
	"github.com/agenthands/driftwatch/internal/source/slackchat"
)

type identitiesFile struct {
	Identities []model.IdentityRecord `toml:"identities"`
}

func main() {
	out := flag.String("out", "", "write TOML here instead of stdout")
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("DRIFTWATCH_ENV"))
	logger.SetOutput(os.Stderr)
	config.LoadEnv(logger)

	cfg := config.Defaults()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load configuration")
		}
		cfg = *loaded
	}
	cfg.ApplyEnv()
	if cfg.Slack.BotToken == "" || cfg.Notion.APIKey == "" {
		logger.Fatal("SLACK_BOT_TOKEN and NOTION_API_KEY are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	chat := slackchat.NewFetcher(app.SlackClient(cfg.Slack), retry.New("slack", cfg.Retry.Slack.Policy(), logger), logger, cfg.Slack.PageSize)
	members, err := chat.ListUsers(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to list Slack users")
	}
	docs := notion.NewFetcher(app.NotionClient(cfg.Notion), retry.New("notion", cfg.Retry.Notion.Policy(), logger), logger)
	people, err := docs.ListUsers(ctx)
	if err != nil {
		logger.WithError(err).Fatal("Failed to list Notion users")
	}

	accounts := make([]identity.ChatAccount, 0, len(members))
	for _, m := range members {
		name := m.RealName
		if name == "" {
			name = m.DisplayName
		}
		if name == "" {
			name = m.Name
		}
		accounts = append(accounts, identity.ChatAccount{ID: m.ID, Name: name, Email: m.Email})
	}

	records, report := identity.Join(accounts, people)
	logger.WithFields(logging.Fields{
		"slack_users":  len(members),
		"notion_users": len(people),
		"by_email":     report.ByEmail,
		"by_name":      report.ByName,
		"slack_only":   report.ChatOnly,
	}).Info("Identity mapping built")
	for _, name := range report.DocOnly {
		logger.WithField("name", name).Warn("Notion user has no Slack match")
	}
	for _, name := range report.Ambiguous {
		logger.WithField("name", name).Warn("Name matches several users; map by hand")
	}

	data, err := toml.Marshal(identitiesFile{Identities: records})
	if err != nil {
		logger.WithError(err).Fatal("Failed to encode identities")
	}
	if *out == "" {
		fmt.Print(string(data))
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logger.WithError(err).Fatal("Failed to write identities")
	}
}
