// File: internal/executor/fallback.go
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
)

// candidate is one locator the fallback chain may act through.
type candidate struct {
	locator  string
	strategy string // empty for the primary locator
	retried  bool   // primary gets the backoff retry loop
}

// resolveAndAct drives a target-bearing step through the resolution chain:
// primary, primary with backoff, fallbacks in order, then semantic
// re-search. The first candidate that resolves, acts, and verifies wins;
// recovery through any non-primary candidate reports RecoveredOk with the
// strategy that worked.
func (r *run) resolveAndAct(ctx context.Context, step *schemas.ActionStep, out *schemas.ActionOutcome) {
	r.freshSnapshot(ctx, validationDepth(step))

	candidates := make([]candidate, 0, len(step.Fallbacks)+2)
	if step.Locator != "" {
		candidates = append(candidates, candidate{locator: step.Locator, retried: true})
	}
	for i, fb := range step.Fallbacks {
		candidates = append(candidates, candidate{locator: fb, strategy: fmt.Sprintf("fallback-%d", i+1)})
	}

	acted := false
	try := func(c candidate) bool {
		var err error
		if c.retried {
			var retries int
			retries, err = r.findWithRetry(ctx, c.locator)
			out.Retries = retries
		} else {
			_, err = r.adapter.Find(ctx, c.locator)
		}
		if err != nil {
			return false
		}
		if err := r.act(ctx, step, c.locator); err != nil {
			r.logger.Debug("Action failed through candidate.",
				zap.String("step_id", step.ID),
				zap.String("locator", c.locator),
				zap.Error(err))
			return false
		}
		acted = true
		if !r.checkCondition(ctx, step, c.locator) {
			return false
		}
		out.EffectiveLocator = c.locator
		if extracted, ok := r.pendingExtract[step.ID]; ok {
			out.Extracted = extracted
		}
		if c.strategy == "" {
			out.Status = schemas.OutcomeOk
		} else {
			out.Status = schemas.OutcomeRecoveredOk
			out.Strategy = c.strategy
		}
		return true
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		if try(c) {
			return
		}
	}

	// Semantic re-search: rescore a fresh Standard snapshot against the
	// step's abstract description and try the single best element.
	if loc := r.semanticSearch(ctx, step); loc != "" && loc != step.Locator {
		if try(candidate{locator: loc, strategy: "semantic"}) {
			return
		}
	}

	if !step.Critical {
		out.Status = schemas.OutcomePartialOk
		out.Extracted = r.bestEffortInfo()
		return
	}
	out.Status = schemas.OutcomeFailed
	if acted {
		out.FailureReason = "verification_failed"
	} else {
		out.FailureReason = string(browser.KindNotFound)
	}
}

// validationDepth is the minimum perception depth able to confirm the
// step's target locator before acting.
func validationDepth(step *schemas.ActionStep) schemas.PerceptionDepth {
	if step.Kind == schemas.ActionExtract {
		return schemas.DepthStandard
	}
	return schemas.DepthQuick
}

// findWithRetry resolves the primary locator under exponential backoff.
// Non-retryable failures abort immediately.
func (r *run) findWithRetry(ctx context.Context, locator string) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.ex.cfg.RetryBase
	bo.MaxInterval = r.ex.cfg.RetryCap
	bo.RandomizationFactor = 0

	attempts := 0
	op := func() error {
		attempts++
		_, err := r.adapter.Find(ctx, locator)
		if err != nil && !browser.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(r.ex.cfg.MaxRetries)), ctx))
	return attempts - 1, err
}

// act performs the step's interaction through the given locator.
func (r *run) act(ctx context.Context, step *schemas.ActionStep, locator string) error {
	switch step.Kind {
	case schemas.ActionClick:
		opts := browser.ClickOptions{}
		if step.Params.Click != nil {
			opts.Button = step.Params.Click.Button
		}
		return r.adapter.Click(ctx, locator, opts)
	case schemas.ActionType:
		p := step.Params.Type
		if err := r.adapter.Type(ctx, locator, p.Text, browser.TypeOptions{Clear: p.Clear}); err != nil {
			return err
		}
		// Serialized markup does not reflect live input state; remember
		// what the adapter accepted so post-conditions can consult it.
		r.typed[locator] = p.Text
		if step.Locator != "" {
			r.typed[step.Locator] = p.Text
		}
		loc := locator
		r.undo = append(r.undo, compensation{stepID: step.ID, apply: func(ctx context.Context) error {
			return r.adapter.Type(ctx, loc, "", browser.TypeOptions{Clear: true})
		}})
		return nil
	case schemas.ActionSelect:
		return r.adapter.SelectOption(ctx, locator, step.Params.Select.Value)
	case schemas.ActionExtract:
		return r.extract(ctx, step, locator)
	}
	return fmt.Errorf("action kind %q does not act on a target", step.Kind)
}

// extract pulls text or an attribute from the resolved element into the
// step's outcome via the run's pending extraction slot.
func (r *run) extract(ctx context.Context, step *schemas.ActionStep, locator string) error {
	p := step.Params.Extract
	if p == nil {
		p = &schemas.ExtractParams{}
	}
	if p.Multiple {
		snap := r.freshSnapshot(ctx, schemas.DepthStandard)
		if snap == nil {
			return browser.NewError(browser.KindTimeout, locator, nil)
		}
		r.pendingExtract[step.ID] = collectTexts(snap, step.Keywords)
		return nil
	}
	if p.Attribute != "" {
		if snap := r.freshSnapshot(ctx, schemas.DepthStandard); snap != nil {
			if el := snap.FindElement(locator); el != nil {
				r.pendingExtract[step.ID] = el.Attributes[p.Attribute]
				return nil
			}
		}
	}
	handle, err := r.adapter.Find(ctx, locator)
	if err != nil {
		return err
	}
	r.pendingExtract[step.ID] = handle.Text
	return nil
}

// collectTexts gathers the distinct non-empty texts from the snapshot,
// preferring elements that match the step's keywords when any are given.
func collectTexts(snap *schemas.PerceptionSnapshot, keywords []string) []string {
	const maxTexts = 50
	seen := make(map[string]bool)
	var texts []string
	add := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" || seen[text] || len(texts) >= maxTexts {
			return
		}
		seen[text] = true
		texts = append(texts, text)
	}
	if len(keywords) > 0 {
		for i := range snap.Elements {
			el := &snap.Elements[i]
			if keywordOverlap(el, keywords) > 0 {
				add(el.Text)
			}
		}
	}
	if len(texts) == 0 {
		for i := range snap.Elements {
			add(snap.Elements[i].Text)
		}
	}
	return texts
}

// semanticSearch captures a fresh Standard snapshot and rescores its
// interactive elements against the step's abstract description. Returns
// the top candidate's locator, or empty when nothing scores above zero.
func (r *run) semanticSearch(ctx context.Context, step *schemas.ActionStep) string {
	if len(step.Keywords) == 0 && step.TargetRole == "" {
		return ""
	}
	snap, err := r.ex.engine.Perceive(ctx, r.sessionID, r.adapter, schemas.DepthStandard)
	if err != nil {
		return ""
	}
	r.lastSnap, r.lastSnapAt = snap, time.Now()

	type scored struct {
		locator string
		score   float64
		index   int
	}
	var ranked []scored
	for i := range snap.Elements {
		el := &snap.Elements[i]
		if !el.Role.Interactive() {
			continue
		}
		roleScore := 0.0
		if step.TargetRole == "" || el.Role == step.TargetRole {
			roleScore = 1.0
		}
		score := keywordOverlap(el, step.Keywords)*r.ex.cfg.RescoreKeywordWeight +
			roleScore*r.ex.cfg.RescoreRoleWeight
		if score > 0 {
			ranked = append(ranked, scored{locator: el.Locator, score: score, index: i})
		}
	}
	if len(ranked) == 0 {
		return ""
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})
	r.logger.Debug("Semantic re-search selected a candidate.",
		zap.String("step_id", step.ID),
		zap.String("locator", ranked[0].locator),
		zap.Float64("score", ranked[0].score))
	return ranked[0].locator
}

// keywordOverlap measures how many of the step's keywords appear in the
// element's text and salient attributes.
func keywordOverlap(el *schemas.PerceivedElement, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	haystack := strings.ToLower(strings.Join([]string{
		el.Text,
		el.Attributes["id"],
		el.Attributes["name"],
		el.Attributes["placeholder"],
		el.Attributes["aria-label"],
	}, " "))
	hits := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}
