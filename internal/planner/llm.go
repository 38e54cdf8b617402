// File: internal/planner/llm.go
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/llmutil"
)

const understandSystemPrompt = `You classify browser automation requests.
Respond with only a JSON object:
{"task_kind": "search|navigate|form_fill|extract|multi",
 "confidence": 0.0-1.0,
 "entities": {"url": "...", "field": "...", "text": "...", "target": "...", "query": "..."}}
Omit entity keys that do not apply. No prose.`

const planSystemPrompt = `You plan browser automation steps.
Given a task and a summary of the current page, respond with only a JSON object:
{"task_kind": "...",
 "steps": [{"kind": "navigate|click|type|select|extract|wait|scroll|screenshot|verify",
            "locator": "css=...|xpath=...|text=...|aria=...",
            "text": "...", "url": "...", "value": "...",
            "description": "...", "confidence": 0.0-1.0}]}
Use only locators present in the page summary. Leave "locator" empty when no
listed element fits; never invent selectors. No prose.`

type llmStep struct {
	Kind        string  `json:"kind"`
	Locator     string  `json:"locator"`
	Text        string  `json:"text"`
	URL         string  `json:"url"`
	Value       string  `json:"value"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

type llmPlanResponse struct {
	TaskKind string    `json:"task_kind"`
	Steps    []llmStep `json:"steps"`
}

func (p *Planner) llmUnderstand(ctx context.Context, utterance string) (*schemas.Understanding, error) {
	raw, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: understandSystemPrompt,
		UserPrompt:   utterance,
		Tier:         schemas.TierFast,
		JSONMode:     true,
	})
	if err != nil {
		return nil, err
	}
	u, err := llmutil.ParseJSONResponse[schemas.Understanding](raw)
	if err != nil {
		return nil, err
	}
	if u.TaskKind == "" {
		return nil, fmt.Errorf("model omitted task_kind")
	}
	u.Confidence = clamp(u.Confidence)
	return u, nil
}

func (p *Planner) llmPlan(ctx context.Context, utterance string, snap *schemas.PerceptionSnapshot) (*schemas.ActionPlan, error) {
	raw, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: planSystemPrompt,
		UserPrompt:   "Task: " + utterance + "\n\nPage:\n" + summarizeSnapshot(snap),
		Tier:         schemas.TierPowerful,
		JSONMode:     true,
	})
	if err != nil {
		return nil, err
	}
	resp, err := llmutil.ParseJSONResponse[llmPlanResponse](raw)
	if err != nil {
		return nil, err
	}
	if len(resp.Steps) == 0 {
		return nil, fmt.Errorf("model returned an empty plan")
	}

	plan := &schemas.ActionPlan{
		ID:        uuid.NewString(),
		Utterance: utterance,
		TaskKind:  schemas.TaskKind(resp.TaskKind),
		Version:   1,
		OnError:   schemas.PolicyStopOnFirstFailure,
	}
	b := &builder{}
	for _, ls := range resp.Steps {
		step, err := convertLLMStep(ls)
		if err != nil {
			return nil, err
		}
		// A model may only cite locators the snapshot actually contains.
		if step.Locator != "" && snap != nil && snap.FindElement(step.Locator) == nil {
			step.Locator = ""
		}
		if step.RequiresTarget() && step.Locator == "" {
			step.NeedsRefinement = true
		}
		b.add(step)
	}
	plan.Steps = b.steps
	p.finalize(plan)
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("model produced an invalid plan: %w", err)
	}
	return plan, nil
}

func convertLLMStep(ls llmStep) (schemas.ActionStep, error) {
	step := schemas.ActionStep{
		Kind:        schemas.ActionKind(ls.Kind),
		Locator:     ls.Locator,
		Critical:    true,
		Confidence:  clamp(ls.Confidence),
		Description: ls.Description,
		Keywords:    tokenize(ls.Description),
	}
	switch step.Kind {
	case schemas.ActionNavigate:
		if ls.URL == "" {
			return step, fmt.Errorf("model emitted a navigate step without a url")
		}
		step.Params.Navigate = &schemas.NavigateParams{URL: normalizeURL(ls.URL), WaitUntil: schemas.WaitLoad}
	case schemas.ActionClick:
		step.Params.Click = &schemas.ClickParams{}
	case schemas.ActionType:
		step.Params.Type = &schemas.TypeParams{Text: ls.Text, Clear: true}
	case schemas.ActionSelect:
		step.Params.Select = &schemas.SelectParams{Value: ls.Value}
	case schemas.ActionExtract:
		step.Params.Extract = &schemas.ExtractParams{}
		step.Critical = false
	case schemas.ActionWait, schemas.ActionScroll, schemas.ActionScreenshot, schemas.ActionVerify:
		step.Critical = false
		if step.Kind == schemas.ActionWait {
			step.Params.Wait = &schemas.WaitParams{ForLocator: ls.Locator}
		}
		if step.Kind == schemas.ActionScroll {
			step.Params.Scroll = &schemas.ScrollParams{Direction: "down"}
		}
	default:
		return step, fmt.Errorf("model emitted unknown step kind %q", ls.Kind)
	}
	return step, nil
}

// summarizeSnapshot renders the snapshot compactly for a prompt: one line
// per interactive element, locator first.
func summarizeSnapshot(snap *schemas.PerceptionSnapshot) string {
	if snap == nil {
		return "(no snapshot available)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "url: %s\ntitle: %s\nstatus: %s\n", snap.URL, snap.Title, snap.Status)
	if len(snap.Forms) > 0 {
		fmt.Fprintf(&sb, "forms: %d\n", len(snap.Forms))
	}
	sb.WriteString("elements:\n")
	count := 0
	for i := range snap.Elements {
		el := &snap.Elements[i]
		if !el.Role.Interactive() {
			continue
		}
		text := el.Text
		if len(text) > 60 {
			text = text[:60]
		}
		fmt.Fprintf(&sb, "- %s role=%s text=%q\n", el.Locator, el.Role, text)
		if count++; count >= 40 {
			sb.WriteString("- (truncated)\n")
			break
		}
	}
	return sb.String()
}
