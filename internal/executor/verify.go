// File: internal/executor/verify.go
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// checkCondition evaluates the step's post-condition against a fresh
// Lightning snapshot. Steps without a post-condition pass trivially. When
// the condition references the step's planned locator but the fallback
// chain acted through a different one, the effective locator is
// substituted so the predicate inspects the element that was actually
// touched.
func (r *run) checkCondition(ctx context.Context, step *schemas.ActionStep, effective string) bool {
	if step.PostCondition == nil {
		return true
	}
	cond := *step.PostCondition
	if cond.Locator != "" && cond.Locator == step.Locator && effective != "" && effective != step.Locator {
		cond.Locator = effective
	}

	prev := r.lastSnap
	next, err := r.ex.engine.Perceive(ctx, r.sessionID, r.adapter, schemas.DepthLightning)
	if err != nil {
		// A snapshot failure is not evidence the action failed; pass
		// optimistically and let the next step's resolution catch drift.
		r.logger.Warn("Post-condition snapshot failed; skipping verification.",
			zap.String("step_id", step.ID), zap.Error(err))
		return true
	}
	// The verification snapshot is the freshest view of the page; later
	// freshness-window checks should reuse it, not its predecessor.
	r.lastSnap, r.lastSnapAt = next, time.Now()

	ok := r.evaluate(cond, prev, next)
	if !ok {
		r.logger.Debug("Post-condition not satisfied.",
			zap.String("step_id", step.ID),
			zap.String("kind", string(cond.Kind)),
			zap.String("locator", cond.Locator))
	}
	return ok
}

// evaluate applies a post-condition, consulting the run's record of
// accepted input values when the serialized page cannot answer.
func (r *run) evaluate(cond schemas.PostCondition, prev, next *schemas.PerceptionSnapshot) bool {
	if cond.Kind == schemas.CondInputValueIs {
		if el := next.FindElement(cond.Locator); el != nil {
			if el.Attributes["value"] == cond.Value {
				return true
			}
		}
		return r.typed[cond.Locator] == cond.Value
	}
	return cond.Evaluate(prev, next)
}
