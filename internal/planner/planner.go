// File: internal/planner/planner.go

// Package planner converts user utterances plus perception snapshots into
// validated, dependency-ordered action plans.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/learning"
)

// Planner is safe for concurrent use; all mutable state lives in the
// learning store behind its own synchronization.
type Planner struct {
	cfg    config.PlannerConfig
	reader schemas.LearningReader
	llm    schemas.LLMClient
	logger *zap.Logger
}

// New builds a planner. reader may be nil (no priors); llm may be nil
// (heuristic-only mode).
func New(cfg config.PlannerConfig, reader schemas.LearningReader, llm schemas.LLMClient, logger *zap.Logger) *Planner {
	return &Planner{cfg: cfg, reader: reader, llm: llm, logger: logger.Named("planner")}
}

// Understand classifies an utterance. LLM mode, when attached and enabled,
// is consulted first; its failures fall back to the pattern table.
func (p *Planner) Understand(ctx context.Context, utterance string) schemas.Understanding {
	if p.cfg.UseLLM && p.llm != nil {
		if u, err := p.llmUnderstand(ctx, utterance); err == nil {
			return *u
		} else {
			p.logger.Warn("LLM intent classification failed; using pattern table.", zap.Error(err))
		}
	}
	return p.classify(utterance)
}

// Plan produces a validated ActionPlan for the utterance against the given
// snapshot. Low-confidence understandings yield a single clarification
// step rather than a speculative plan.
func (p *Planner) Plan(ctx context.Context, utterance string, snap *schemas.PerceptionSnapshot) (*schemas.ActionPlan, error) {
	if p.cfg.UseLLM && p.llm != nil {
		if plan, err := p.llmPlan(ctx, utterance, snap); err == nil {
			return plan, nil
		} else {
			p.logger.Warn("LLM planning failed; using heuristic synthesis.", zap.Error(err))
		}
	}
	return p.heuristicPlan(utterance, snap)
}

func (p *Planner) heuristicPlan(utterance string, snap *schemas.PerceptionSnapshot) (*schemas.ActionPlan, error) {
	u := p.classify(utterance)

	plan := &schemas.ActionPlan{
		ID:        uuid.NewString(),
		Utterance: utterance,
		TaskKind:  u.TaskKind,
		Version:   1,
		OnError:   schemas.PolicyStopOnFirstFailure,
	}

	if u.Confidence < p.cfg.ConfidenceThreshold || u.TaskKind == schemas.TaskUnknown {
		plan.TaskKind = schemas.TaskUnknown
		plan.Steps = []schemas.ActionStep{{
			ID:         "step-1",
			Kind:       schemas.ActionAskClarification,
			Critical:   true,
			Confidence: u.Confidence,
			Params: schemas.StepParams{Clarify: &schemas.ClarifyParams{
				Question: fmt.Sprintf("I am not sure what %q asks for. Could you rephrase it as a concrete browser task?", utterance),
			}},
		}}
		plan.Confidence = u.Confidence
		plan.EstimatedDuration = 0
		return plan, nil
	}

	b := &builder{}
	p.synthesize(b, snap, u, utterance)
	plan.Steps = b.steps
	p.finalize(plan)

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("synthesized an invalid plan: %w", err)
	}
	p.logger.Debug("Plan synthesized.",
		zap.String("task_kind", string(plan.TaskKind)),
		zap.Int("steps", len(plan.Steps)),
		zap.Float64("confidence", plan.Confidence))
	return plan, nil
}

// finalize computes plan-level confidence and duration from the steps.
// Overall confidence is the minimum over step confidences.
func (p *Planner) finalize(plan *schemas.ActionPlan) {
	confidence := 1.0
	var estimate time.Duration
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Confidence < confidence {
			confidence = step.Confidence
		}
		estimate += p.estimateStep(step)
	}
	if len(plan.Steps) == 0 {
		confidence = 0
	}
	plan.Confidence = confidence
	plan.EstimatedDuration = estimate
}

// estimateStep prefers the learned rolling mean duration once the pattern
// has enough attempts behind it.
func (p *Planner) estimateStep(step *schemas.ActionStep) time.Duration {
	base := kindEstimates[step.Kind]
	if p.reader == nil || len(step.Keywords) == 0 {
		return base
	}
	sig := learning.PhraseSignature(step.Keywords)
	if prior, ok := p.reader.Prior(sig, step.Kind); ok &&
		int(prior.Attempts) >= p.cfg.MinAttemptsForPrior && prior.MeanDurationMs > 0 {
		return time.Duration(prior.MeanDurationMs) * time.Millisecond
	}
	return base
}

// blendConfidence folds learning-store history into a step's base
// confidence: base*0.7 + history*0.3 once at least MinAttemptsForPrior
// similar attempts exist, base alone otherwise.
func (p *Planner) blendConfidence(base float64, signature uint64, kind schemas.ActionKind) float64 {
	if p.reader == nil {
		return base
	}
	prior, ok := p.reader.Prior(signature, kind)
	if !ok || int(prior.Attempts) < p.cfg.MinAttemptsForPrior {
		return base
	}
	return clamp(base*(1-p.cfg.HistoryWeight) + prior.SuccessRate*p.cfg.HistoryWeight)
}

func stepSignatureFor(el *schemas.PerceivedElement) uint64 {
	return learning.ElementSignature(el.Role, el.Attributes)
}
