package api

import (
	"context"
	"fmt"

	"cheonkimoon/internal/config"
	"cheonkimoon/internal/provider"
	"cheonkimoon/internal/provider/anthropic"
	"cheonkimoon/internal/provider/gemini"
	"cheonkimoon/internal/provider/openai"
)

// NewProvider builds the upstream LLM client selected in cfg.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewAnthropicProvider(cfg.BaseURL, cfg.APIKey), nil
	case config.ProviderGemini:
		return gemini.NewGeminiProvider(ctx, cfg.BaseURL, cfg.APIKey)
	case config.ProviderOpenAI:
		return openai.NewOpenAIProvider(cfg.BaseURL, cfg.APIKey), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}
