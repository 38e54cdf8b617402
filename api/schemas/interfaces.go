// File: api/schemas/interfaces.go
package schemas

import "context"

// ModelTier selects between the fast and powerful model routes.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationRequest is a structured prompt for an LLM provider.
type GenerationRequest struct {
	SystemPrompt string    `json:"system_prompt,omitempty"`
	UserPrompt   string    `json:"user_prompt"`
	Tier         ModelTier `json:"tier,omitempty"`
	JSONMode     bool      `json:"json_mode,omitempty"`
}

// LLMClient is the narrow capability the core operates against. All LLM use
// is optional; a nil client disables LLM mode everywhere.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Understanding is the result of intent classification.
type Understanding struct {
	TaskKind   TaskKind          `json:"task_kind"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
}
