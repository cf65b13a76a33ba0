package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // analysis.time_zone must resolve on minimal images

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/agenthands/driftwatch/internal/retry"
)

type LLMConfig struct {
	Provider  string `toml:"provider" validate:"oneof=claude openai gemini ollama"`
	Model     string `toml:"model" validate:"required"`
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	MaxTokens int    `toml:"max_tokens" validate:"gte=0"`
}

type NotionConfig struct {
	APIKey        string   `toml:"api_key"`
	BaseURL       string   `toml:"base_url"`
	OwnerProperty string   `toml:"owner_property"`
	Timeout       Duration `toml:"timeout"`
}

type SlackConfig struct {
	BotToken     string   `toml:"bot_token"`
	APIURL       string   `toml:"api_url"`
	WorkspaceURL string   `toml:"workspace_url"`
	Lookback     Duration `toml:"lookback"`
	PageSize     int      `toml:"page_size" validate:"gte=0,lte=1000"`
}

type StoreConfig struct {
	Backend   string `toml:"backend" validate:"oneof=memory redis memgraph"`
	RedisURL  string `toml:"redis_url"`
	KeyPrefix string `toml:"key_prefix"`
	GraphURI  string `toml:"graph_uri"`
	GraphUser string `toml:"graph_user"`
	GraphPass string `toml:"graph_password"`
}

type AnalysisPrompts struct {
	Conflicts string `toml:"conflicts"`
}

type AnalysisConfig struct {
	MinConfidence  float64         `toml:"min_confidence" validate:"gte=0,lte=1"`
	MaxPromptChars int             `toml:"max_prompt_chars" validate:"gte=0"`
	TimeZone       string          `toml:"time_zone"`
	Prompts        AnalysisPrompts `toml:"prompts"`
}

type RetrySettings struct {
	MaxAttempts int      `toml:"max_attempts" validate:"gte=0"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
}

// Policy converts the settings into a retry.Config, filling gaps from the
// package defaults.
func (r RetrySettings) Policy() retry.Config {
	cfg := retry.DefaultConfig()
	if r.MaxAttempts > 0 {
		cfg.MaxAttempts = r.MaxAttempts
	}
	if r.BaseDelay > 0 {
		cfg.BaseDelay = r.BaseDelay.Std()
	}
	if r.MaxDelay > 0 {
		cfg.MaxDelay = r.MaxDelay.Std()
	}
	return cfg
}

type RetryConfig struct {
	Notion RetrySettings `toml:"notion"`
	Slack  RetrySettings `toml:"slack"`
	LLM    RetrySettings `toml:"llm"`
	Notify RetrySettings `toml:"notify"`
}

type ConcurrencyConfig struct {
	Jobs   int `toml:"jobs" validate:"gte=0"`
	Notion int `toml:"notion" validate:"gte=0"`
	Slack  int `toml:"slack" validate:"gte=0"`
	LLM    int `toml:"llm" validate:"gte=0"`
	Notify int `toml:"notify" validate:"gte=0"`
}

type ScheduleConfig struct {
	Interval   Duration `toml:"interval"`
	RunOnStart bool     `toml:"run_on_start"`
	RunTimeout Duration `toml:"run_timeout"`
}

type ServerConfig struct {
	Port string `toml:"port"`
	Env  string `toml:"env"`
}

type Config struct {
	LLM         LLMConfig         `toml:"llm"`
	Notion      NotionConfig      `toml:"notion"`
	Slack       SlackConfig       `toml:"slack"`
	Store       StoreConfig       `toml:"store"`
	Analysis    AnalysisConfig    `toml:"analysis"`
	Retry       RetryConfig       `toml:"retry"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
	Schedule    ScheduleConfig    `toml:"schedule"`
	Server      ServerConfig      `toml:"server"`

	// Jobs and Identities are the catalog; see LoadCatalog.
	Jobs       []JobConfig      `toml:"jobs"`
	Identities []IdentityConfig `toml:"identities"`

	// Path is where the config was read from, for catalog reloads.
	Path string `toml:"-"`
}

// Defaults returns a configuration with every optional setting filled in.
func Defaults() Config {
	return Config{
		LLM: LLMConfig{
			Provider:  "claude",
			Model:     "claude-3-5-sonnet-latest",
			MaxTokens: 4000,
		},
		Notion: NotionConfig{
			BaseURL:       "https://api.notion.com",
			OwnerProperty: "Owner",
			Timeout:       Duration(30 * time.Second),
		},
		Slack: SlackConfig{
			Lookback: Duration(7 * 24 * time.Hour),
			PageSize: 200,
		},
		Store: StoreConfig{
			Backend:   "memory",
			KeyPrefix: "driftwatch",
		},
		Analysis: AnalysisConfig{
			MinConfidence:  0.7,
			MaxPromptChars: 120000,
			TimeZone:       "America/Los_Angeles",
		},
		Concurrency: ConcurrencyConfig{
			Jobs:   2,
			Notion: 2,
			Slack:  2,
			LLM:    1,
			Notify: 2,
		},
		Schedule: ScheduleConfig{
			RunTimeout: Duration(15 * time.Minute),
		},
		Server: ServerConfig{
			Port: "8080",
			Env:  "development",
		},
	}
}

// Load reads a TOML config on top of Defaults. It does not apply environment
// overrides or validate; see ApplyEnv and Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Defaults()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	cfg.Path = path

	return &cfg, nil
}

// ApplyEnv overrides settings from the environment. Secrets are expected to
// arrive this way rather than through the file.
func (c *Config) ApplyEnv() {
	c.LLM.Provider = GetEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = GetEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.APIKey = GetEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = GetEnv("LLM_BASE_URL", c.LLM.BaseURL)

	c.Notion.APIKey = GetEnv("NOTION_API_KEY", c.Notion.APIKey)
	c.Slack.BotToken = GetEnv("SLACK_BOT_TOKEN", c.Slack.BotToken)

	c.Store.RedisURL = GetEnv("REDIS_URL", c.Store.RedisURL)
	c.Store.GraphURI = GetEnv("MEMGRAPH_URI", c.Store.GraphURI)
	c.Store.GraphUser = GetEnv("MEMGRAPH_USER", c.Store.GraphUser)
	c.Store.GraphPass = GetEnv("MEMGRAPH_PASSWORD", c.Store.GraphPass)
	c.Store.Backend = GetEnv("STORE_BACKEND", c.Store.Backend)

	c.Server.Port = GetEnv("PORT", c.Server.Port)
	c.Server.Env = GetEnv("DRIFTWATCH_ENV", c.Server.Env)
}

var validate = validator.New()

// Validate checks settings and the catalog. Errors name the offending field
// so a bad deployment fails at start instead of mid-run.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Store.Backend {
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("invalid config: store.redis_url is required for the redis backend")
		}
	case "memgraph":
		if c.Store.GraphURI == "" {
			return fmt.Errorf("invalid config: store.graph_uri is required for the memgraph backend")
		}
	}
	if _, err := time.LoadLocation(c.Analysis.TimeZone); err != nil {
		return fmt.Errorf("invalid config: analysis.time_zone: %w", err)
	}
	if _, err := BuildCatalog(c.Jobs, c.Identities); err != nil {
		return err
	}
	return nil
}
