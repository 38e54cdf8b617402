// File: internal/llmclient/gemini.go

// Package llmclient provides concrete LLM providers behind the
// schemas.LLMClient interface, plus a tier router with request rate
// limiting. All LLM use in the system is optional; the factory returns a
// nil client when no provider is configured.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// defaultTemperature keeps generations near-deterministic; planning wants
// reproducible structure, not creativity.
const defaultTemperature float32 = 0.2

// Gemini generates content through the Gemini API for a single model.
type Gemini struct {
	model  string
	client *genai.Client
	logger *zap.Logger
}

var _ schemas.LLMClient = (*Gemini)(nil)

// NewGemini initializes a client bound to one model name.
func NewGemini(ctx context.Context, cfg config.LLMConfig, model string, logger *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		model:  model,
		client: client,
		logger: logger.Named("llmclient.gemini"),
	}, nil
}

// Generate implements schemas.LLMClient with retries on transient API and
// network failures.
func (g *Gemini) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(defaultTemperature),
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.JSONMode {
		genCfg.ResponseMIMEType = "application/json"
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.UserPrompt), genCfg)
		if err != nil {
			return g.classify(err)
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini returned no candidates"))
		}

		out := resp.Text()
		if out == "" {
			reason := resp.Candidates[0].FinishReason
			if reason == genai.FinishReasonSafety || reason == genai.FinishReasonBlocklist {
				return backoff.Permanent(fmt.Errorf("gemini blocked the request (reason: %s)", reason))
			}
			return fmt.Errorf("gemini returned empty content (reason: %s)", reason)
		}

		if usage := resp.UsageMetadata; usage != nil {
			g.logger.Debug("Generation complete.",
				zap.String("model", g.model),
				zap.Duration("duration", time.Since(start)),
				zap.Int32("prompt_tokens", usage.PromptTokenCount),
				zap.Int32("completion_tokens", usage.CandidatesTokenCount),
				zap.Int32("total_tokens", usage.TotalTokenCount))
		}
		text = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

// classify maps an API error onto retry behavior: rate limits and server
// faults are transient, everything else is permanent.
func (g *Gemini) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			g.logger.Warn("Transient API error, retrying.",
				zap.Int("status", apiErr.Code), zap.Error(err))
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	g.logger.Warn("Network error during generation, retrying.", zap.Error(err))
	return err
}
