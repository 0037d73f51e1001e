// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
)

// NewClient is a factory function that creates a single LLMClient from one
// model configuration.
func NewClient(cfg config.ModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case "", "gemini":
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [gemini]", cfg.Provider)
	}
}

// NewRouterFromConfig wires the configured fast and powerful models into one
// tier-routing client. When both tiers name the same model a single client is
// shared between them.
func NewRouterFromConfig(cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fastCfg, ok := cfg.Models[cfg.DefaultFastModel]
	if !ok {
		return nil, fmt.Errorf("llm.models has no entry for fast model %q", cfg.DefaultFastModel)
	}
	powerfulCfg, ok := cfg.Models[cfg.DefaultPowerfulModel]
	if !ok {
		return nil, fmt.Errorf("llm.models has no entry for powerful model %q", cfg.DefaultPowerfulModel)
	}

	fastClient, err := NewClient(fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building fast tier client: %w", err)
	}

	powerfulClient := fastClient
	if cfg.DefaultPowerfulModel != cfg.DefaultFastModel {
		powerfulClient, err = NewClient(powerfulCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("building powerful tier client: %w", err)
		}
	}

	return NewLLMRouter(logger, fastClient, powerfulClient)
}
