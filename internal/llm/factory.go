package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/driftwatch/internal/config"
	"github.com/agenthands/driftwatch/internal/logging"
)

const defaultMaxTokens = 4000

func NewClient(ctx context.Context, cfg config.LLMConfig, logger logging.Logger) (LLMClient, error) {
	provider := strings.ToLower(cfg.Provider)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	switch provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, maxTokens), nil

	case "gemini":
		client, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, maxTokens)
		if err != nil {
			return nil, err
		}
		return client, nil

	case "claude":
		return NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL, maxTokens), nil

	case "ollama":
		// Ollama speaks the OpenAI chat API under /v1
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		if logger != nil {
			logger.WithField("base_url", baseURL).Info("Initializing Ollama via OpenAI-compatible API")
		}

		// API key is ignored by Ollama but required by the client config
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		return NewOpenAIClient(apiKey, cfg.Model, baseURL, maxTokens), nil

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}
