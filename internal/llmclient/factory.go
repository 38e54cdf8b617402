// File: internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// New builds the configured provider stack: one client per model tier
// behind a rate-limited router. Provider "none" yields a nil client, which
// disables LLM mode everywhere downstream.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderGemini:
		fast, err := NewGemini(ctx, cfg, cfg.FastModel, logger)
		if err != nil {
			return nil, fmt.Errorf("fast tier: %w", err)
		}
		powerful, err := NewGemini(ctx, cfg, cfg.PowerfulModel, logger)
		if err != nil {
			return nil, fmt.Errorf("powerful tier: %w", err)
		}
		return NewRouter(cfg, fast, powerful, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q, supported: [%s]", cfg.Provider, config.ProviderGemini)
	}
}
