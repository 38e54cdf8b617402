// File: internal/executor/executor.go

// Package executor runs validated action plans against a browser adapter.
// Targets resolve through a fallback chain, interactive steps verify their
// post-conditions on a fresh snapshot, and every terminal outcome is fed
// to the learning store.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/learning"
	"github.com/webpilot-ai/webpilot/internal/perception"
)

// Executor is stateless across plans and safe for concurrent use; each
// Execute call keeps its transient state in a private run.
type Executor struct {
	cfg      config.ExecutorConfig
	engine   *perception.Engine
	recorder schemas.LearningRecorder
	logger   *zap.Logger
}

// New builds an executor. recorder may be nil (outcomes are not learned).
func New(cfg config.ExecutorConfig, engine *perception.Engine, recorder schemas.LearningRecorder, logger *zap.Logger) *Executor {
	return &Executor{cfg: cfg, engine: engine, recorder: recorder, logger: logger.Named("executor")}
}

// run holds the per-execution state: outcomes, the freshness-tracked
// snapshot, accepted input values, and the compensation stack.
type run struct {
	ex        *Executor
	sessionID string
	adapter   browser.Adapter
	plan      *schemas.ActionPlan
	logger    *zap.Logger

	outcomes       map[string]*schemas.ActionOutcome
	lastSnap       *schemas.PerceptionSnapshot
	lastSnapAt     time.Time
	typed          map[string]string
	pendingExtract map[string]any
	undo           []compensation
}

// compensation undoes one completed side-effecting step during rollback.
type compensation struct {
	stepID string
	apply  func(ctx context.Context) error
}

// Execute runs the plan to completion under the session's context. The
// returned result enumerates every step with its terminal status; the
// error return is reserved for invalid plans, not step failures.
func (e *Executor) Execute(ctx context.Context, sessionID string, adapter browser.Adapter, plan *schemas.ActionPlan) (*schemas.ActResult, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to execute an invalid plan: %w", err)
	}
	result := &schemas.ActResult{Plan: plan}
	if len(plan.Steps) == 0 {
		result.Success = true
		return result, nil
	}
	order, err := topoOrder(plan)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With(zap.String("session_id", sessionID), zap.String("plan_id", plan.ID))
	r := &run{
		ex:             e,
		sessionID:      sessionID,
		adapter:        adapter,
		plan:           plan,
		logger:         logger,
		outcomes:       make(map[string]*schemas.ActionOutcome, len(plan.Steps)),
		typed:          make(map[string]string),
		pendingExtract: make(map[string]any),
	}

	halted := false
	for _, id := range order {
		step := plan.StepByID(id)
		switch {
		case halted:
			r.skip(step, "stopped after earlier failure")
		case ctx.Err() != nil:
			r.skip(step, "cancelled")
		case r.dependencyFailed(step):
			r.skip(step, "dependency_failed")
		default:
			out := r.runStep(ctx, step)
			r.outcomes[step.ID] = out
			r.learn(step, out)
			if !out.Status.Succeeded() && step.Critical {
				switch plan.OnError {
				case schemas.PolicyContinue:
					// Dependents of the failed step are still skipped via
					// dependencyFailed; independent steps proceed.
				case schemas.PolicyRollback:
					r.rollback(ctx)
					halted = true
				default:
					halted = true
				}
			}
		}
	}

	result.Outcomes = make([]schemas.ActionOutcome, 0, len(plan.Steps))
	result.Extracted = make(map[string]any)
	success := true
	for i := range plan.Steps {
		step := &plan.Steps[i]
		out := r.outcomes[step.ID]
		result.Outcomes = append(result.Outcomes, *out)
		if out.Extracted != nil {
			result.Extracted[step.ID] = out.Extracted
		}
		if step.Critical && !out.Status.Succeeded() {
			success = false
		}
	}
	if len(result.Extracted) == 0 {
		result.Extracted = nil
	}
	result.Success = success
	r.logger.Info("Plan finished.",
		zap.Bool("success", success),
		zap.Int("steps", len(result.Outcomes)))
	return result, nil
}

// topoOrder returns a topological order over the steps. Ties break by plan
// declaration order so repeated executions schedule identically.
func topoOrder(plan *schemas.ActionPlan) ([]string, error) {
	done := make(map[string]bool, len(plan.Steps))
	order := make([]string, 0, len(plan.Steps))
	for len(order) < len(plan.Steps) {
		progressed := false
		for i := range plan.Steps {
			step := &plan.Steps[i]
			if done[step.ID] {
				continue
			}
			ready := true
			for _, dep := range step.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[step.ID] = true
				order = append(order, step.ID)
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("plan %s has an unschedulable dependency cycle", plan.ID)
		}
	}
	return order, nil
}

func (r *run) dependencyFailed(step *schemas.ActionStep) bool {
	for _, dep := range step.DependsOn {
		out, ok := r.outcomes[dep]
		if !ok || !out.Status.Succeeded() {
			return true
		}
	}
	return false
}

func (r *run) skip(step *schemas.ActionStep, reason string) {
	now := time.Now()
	r.outcomes[step.ID] = &schemas.ActionOutcome{
		StepID:        step.ID,
		Kind:          step.Kind,
		Status:        schemas.OutcomeSkipped,
		FailureReason: reason,
		StartedAt:     now,
		FinishedAt:    now,
	}
}

// learn records the terminal outcome once per target-bearing step.
func (r *run) learn(step *schemas.ActionStep, out *schemas.ActionOutcome) {
	if r.ex.recorder == nil || !step.RequiresTarget() {
		return
	}
	var target *schemas.PerceivedElement
	if r.lastSnap != nil {
		locator := out.EffectiveLocator
		if locator == "" {
			locator = step.Locator
		}
		target = r.lastSnap.FindElement(locator)
	}
	sig := learning.StepSignature(step, target)
	r.ex.recorder.Record(sig, step.Kind, out.Status.Succeeded(), out.FinishedAt.Sub(out.StartedAt))
}

// runStep drives one step from Pending through Running to its terminal
// status. Terminal states are final; the outcome is never revisited.
func (r *run) runStep(ctx context.Context, step *schemas.ActionStep) *schemas.ActionOutcome {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.ex.cfg.DefaultStepTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := &schemas.ActionOutcome{StepID: step.ID, Kind: step.Kind, StartedAt: time.Now()}
	defer func() { out.FinishedAt = time.Now() }()

	switch step.Kind {
	case schemas.ActionNavigate:
		r.runNavigate(sctx, step, out)
	case schemas.ActionClick, schemas.ActionType, schemas.ActionSelect, schemas.ActionExtract:
		r.resolveAndAct(sctx, step, out)
	case schemas.ActionWait:
		r.runWait(sctx, step, out)
	case schemas.ActionScroll:
		r.runScroll(sctx, step, out)
	case schemas.ActionScreenshot:
		shot, err := r.adapter.Screenshot(sctx)
		if err != nil {
			r.fail(step, out, err)
			break
		}
		out.Extracted = shot
		out.Status = schemas.OutcomeOk
	case schemas.ActionVerify:
		if r.checkCondition(sctx, step, step.Locator) {
			out.Status = schemas.OutcomeOk
		} else {
			out.Status = schemas.OutcomeFailed
			out.FailureReason = "verification_failed"
		}
	case schemas.ActionAskClarification:
		out.Extracted = map[string]string{"question": step.Params.Clarify.Question}
		out.Status = schemas.OutcomeOk
	default:
		out.Status = schemas.OutcomeFailed
		out.FailureReason = fmt.Sprintf("unsupported action kind %q", step.Kind)
	}

	r.logger.Debug("Step finished.",
		zap.String("step_id", step.ID),
		zap.String("kind", string(step.Kind)),
		zap.String("status", string(out.Status)),
		zap.Int("retries", out.Retries))
	return out
}

func (r *run) runNavigate(ctx context.Context, step *schemas.ActionStep, out *schemas.ActionOutcome) {
	prev, _ := r.adapter.CurrentURL(ctx)
	wait := step.Params.Navigate.WaitUntil
	if wait == "" {
		wait = schemas.WaitLoad
	}
	if err := r.adapter.Navigate(ctx, step.Params.Navigate.URL, wait); err != nil {
		r.fail(step, out, err)
		return
	}
	// The page changed; the previous snapshot no longer describes it.
	r.lastSnap = nil
	if prev != "" {
		from := prev
		r.undo = append(r.undo, compensation{stepID: step.ID, apply: func(ctx context.Context) error {
			return r.adapter.Navigate(ctx, from, schemas.WaitLoad)
		}})
	}
	if !r.checkCondition(ctx, step, step.Locator) {
		out.Status = schemas.OutcomeFailed
		out.FailureReason = "verification_failed"
		return
	}
	out.Status = schemas.OutcomeOk
}

func (r *run) runWait(ctx context.Context, step *schemas.ActionStep, out *schemas.ActionOutcome) {
	p := step.Params.Wait
	if p.ForLocator != "" {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			if _, err := r.adapter.Find(ctx, p.ForLocator); err == nil {
				out.Status = schemas.OutcomeOk
				return
			}
			select {
			case <-ctx.Done():
				out.Status = schemas.OutcomeFailed
				out.FailureReason = string(browser.KindTimeout)
				return
			case <-ticker.C:
			}
		}
	}
	select {
	case <-ctx.Done():
		out.Status = schemas.OutcomeFailed
		out.FailureReason = "cancelled"
	case <-time.After(p.Duration):
		out.Status = schemas.OutcomeOk
	}
}

func (r *run) runScroll(ctx context.Context, step *schemas.ActionStep, out *schemas.ActionOutcome) {
	p := step.Params.Scroll
	amount := p.Amount
	if amount <= 0 {
		amount = 600
	}
	if p.Direction == "up" {
		amount = -amount
	}
	if err := r.adapter.Evaluate(ctx, fmt.Sprintf("window.scrollBy(0, %d)", amount), nil); err != nil {
		r.fail(step, out, err)
		return
	}
	out.Status = schemas.OutcomeOk
}

// fail assigns the terminal failure status, degrading to PartialOk for
// non-critical steps.
func (r *run) fail(step *schemas.ActionStep, out *schemas.ActionOutcome, err error) {
	if !step.Critical {
		out.Status = schemas.OutcomePartialOk
		out.Extracted = r.bestEffortInfo()
		return
	}
	out.Status = schemas.OutcomeFailed
	out.FailureReason = failureReason(err)
}

func failureReason(err error) string {
	if kind := browser.KindOf(err); kind != "" {
		return string(kind)
	}
	if err != nil {
		return err.Error()
	}
	return "unknown"
}

// bestEffortInfo summarizes what the executor does know about the page
// when a non-critical step degrades.
func (r *run) bestEffortInfo() map[string]any {
	info := map[string]any{"degraded": true}
	if r.lastSnap != nil {
		info["url"] = r.lastSnap.URL
		info["title"] = r.lastSnap.Title
		info["elements"] = len(r.lastSnap.Elements)
	}
	return info
}

// rollback applies compensations for completed side-effecting steps in
// reverse order. Steps without a compensation are left as-is.
func (r *run) rollback(ctx context.Context) {
	for i := len(r.undo) - 1; i >= 0; i-- {
		c := r.undo[i]
		if err := c.apply(ctx); err != nil {
			r.logger.Warn("Rollback compensation failed.",
				zap.String("step_id", c.stepID), zap.Error(err))
		}
	}
	r.undo = nil
	r.lastSnap = nil
}

// freshSnapshot returns the last snapshot when it is inside the freshness
// window for the requested depth, otherwise captures a new one. A capture
// failure returns nil; callers treat the snapshot as advisory.
func (r *run) freshSnapshot(ctx context.Context, depth schemas.PerceptionDepth) *schemas.PerceptionSnapshot {
	window := r.ex.cfg.StandardFreshness
	if depth == schemas.DepthQuick || depth == schemas.DepthLightning {
		window = r.ex.cfg.QuickFreshness
	}
	if r.lastSnap != nil && time.Since(r.lastSnapAt) < window {
		return r.lastSnap
	}
	snap, err := r.ex.engine.Perceive(ctx, r.sessionID, r.adapter, depth)
	if err != nil {
		r.logger.Debug("Pre-step snapshot failed.", zap.Error(err))
		return nil
	}
	r.lastSnap, r.lastSnapAt = snap, time.Now()
	return snap
}
