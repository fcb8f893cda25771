// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/config"
)

// NewReasoner is a factory function that creates the configured reasoning client.
// When a fallback model is set the primary is wrapped in a FallbackRouter.
func NewReasoner(ctx context.Context, cfg config.LLMModelConfig, viewport agent.Bounds, logger *zap.Logger) (agent.Reasoner, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		primary, err := NewGeminiClient(ctx, cfg, viewport, logger)
		if err != nil {
			return nil, err
		}
		if cfg.FallbackModel == "" || cfg.FallbackModel == cfg.Model {
			return primary, nil
		}

		fbCfg := cfg
		fbCfg.Model = cfg.FallbackModel
		fallback, err := NewGeminiClient(ctx, fbCfg, viewport, logger)
		if err != nil {
			return nil, fmt.Errorf("fallback model: %w", err)
		}
		return NewFallbackRouter(logger, primary, fallback)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
