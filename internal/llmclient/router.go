// File: internal/llmclient/router.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// Router implements schemas.LLMClient and dispatches each request to the
// client matching its tier. A shared limiter throttles the combined
// request rate across both tiers.
type Router struct {
	logger  *zap.Logger
	limiter *rate.Limiter
	clients map[schemas.ModelTier]schemas.LLMClient
}

var _ schemas.LLMClient = (*Router)(nil)

// NewRouter creates a router over the fast and powerful tier clients.
func NewRouter(cfg config.LLMConfig, fast, powerful schemas.LLMClient, logger *zap.Logger) (*Router, error) {
	if fast == nil || powerful == nil {
		return nil, fmt.Errorf("both fast and powerful tier clients must be provided")
	}

	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Router{
		logger:  logger.Named("llmclient.router"),
		limiter: rate.NewLimiter(limit, burst),
		clients: map[schemas.ModelTier]schemas.LLMClient{
			schemas.TierFast:     fast,
			schemas.TierPowerful: powerful,
		},
	}, nil
}

// Generate selects the client for the request's tier, waiting for rate
// limiter headroom first. An unspecified tier routes to the powerful model.
func (r *Router) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	tier := req.Tier
	if tier == "" {
		tier = schemas.TierPowerful
	}
	client, ok := r.clients[tier]
	if !ok {
		return "", fmt.Errorf("no llm client configured for tier %q", tier)
	}

	r.logger.Debug("Routing generation request.", zap.String("tier", string(tier)))
	return client.Generate(ctx, req)
}
