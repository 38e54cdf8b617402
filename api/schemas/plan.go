// File: api/schemas/plan.go
package schemas

import (
	"fmt"
	"strings"
	"time"
)

// TaskKind is the high-level classification of a user utterance.
type TaskKind string

const (
	TaskSearch   TaskKind = "search"
	TaskNavigate TaskKind = "navigate"
	TaskFormFill TaskKind = "form_fill"
	TaskExtract  TaskKind = "extract"
	TaskMulti    TaskKind = "multi"
	TaskUnknown  TaskKind = "unknown"
)

// ActionKind is the atomic operation type of a plan step.
type ActionKind string

const (
	ActionNavigate         ActionKind = "navigate"
	ActionClick            ActionKind = "click"
	ActionType             ActionKind = "type"
	ActionSelect           ActionKind = "select"
	ActionExtract          ActionKind = "extract"
	ActionWait             ActionKind = "wait"
	ActionScroll           ActionKind = "scroll"
	ActionScreenshot       ActionKind = "screenshot"
	ActionVerify           ActionKind = "verify"
	ActionAskClarification ActionKind = "ask_clarification"
)

// NavigateParams parameterize a Navigate step.
type NavigateParams struct {
	URL       string    `json:"url"`
	WaitUntil WaitUntil `json:"wait_until,omitempty"`
}

// ClickParams parameterize a Click step.
type ClickParams struct {
	Button string `json:"button,omitempty"` // "left" (default) or "middle"/"right"
}

// TypeParams parameterize a Type step.
type TypeParams struct {
	Text  string `json:"text"`
	Clear bool   `json:"clear,omitempty"`
}

// SelectParams parameterize a Select step.
type SelectParams struct {
	Value string `json:"value"`
}

// ExtractParams parameterize an Extract step.
type ExtractParams struct {
	Attribute string `json:"attribute,omitempty"` // empty means text content
	Multiple  bool   `json:"multiple,omitempty"`
}

// WaitParams parameterize a Wait step. Exactly one of Duration or
// ForLocator should be set.
type WaitParams struct {
	Duration   time.Duration `json:"duration,omitempty"`
	ForLocator string        `json:"for_locator,omitempty"`
}

// ScrollParams parameterize a Scroll step.
type ScrollParams struct {
	Direction string `json:"direction"` // "up" or "down"
	Amount    int    `json:"amount,omitempty"`
}

// ScreenshotParams parameterize a Screenshot step.
type ScreenshotParams struct {
	FullPage bool `json:"full_page,omitempty"`
}

// ClarifyParams carry the question back to the user when intent
// classification confidence falls below threshold.
type ClarifyParams struct {
	Question string `json:"question"`
}

// StepParams is the typed parameter union for a step. Exactly the member
// matching the step's kind is set; Validate enforces this at plan
// construction so the executor never inspects free-form maps.
type StepParams struct {
	Navigate   *NavigateParams   `json:"navigate,omitempty"`
	Click      *ClickParams      `json:"click,omitempty"`
	Type       *TypeParams       `json:"type,omitempty"`
	Select     *SelectParams     `json:"select,omitempty"`
	Extract    *ExtractParams    `json:"extract,omitempty"`
	Wait       *WaitParams       `json:"wait,omitempty"`
	Scroll     *ScrollParams     `json:"scroll,omitempty"`
	Screenshot *ScreenshotParams `json:"screenshot,omitempty"`
	Clarify    *ClarifyParams    `json:"clarify,omitempty"`
}

// Validate checks that the params populated match the step kind.
func (p StepParams) Validate(kind ActionKind) error {
	switch kind {
	case ActionNavigate:
		if p.Navigate == nil || p.Navigate.URL == "" {
			return fmt.Errorf("navigate step requires a url parameter")
		}
	case ActionType:
		if p.Type == nil {
			return fmt.Errorf("type step requires text parameters")
		}
	case ActionSelect:
		if p.Select == nil || p.Select.Value == "" {
			return fmt.Errorf("select step requires a value parameter")
		}
	case ActionWait:
		if p.Wait == nil || (p.Wait.Duration <= 0 && p.Wait.ForLocator == "") {
			return fmt.Errorf("wait step requires a duration or a locator")
		}
	case ActionScroll:
		if p.Scroll == nil || (p.Scroll.Direction != "up" && p.Scroll.Direction != "down") {
			return fmt.Errorf("scroll step requires direction up or down")
		}
	case ActionAskClarification:
		if p.Clarify == nil || p.Clarify.Question == "" {
			return fmt.Errorf("clarification step requires a question")
		}
	case ActionClick, ActionExtract, ActionScreenshot, ActionVerify:
		// Optional or locator-only parameters.
	default:
		return fmt.Errorf("unknown action kind %q", kind)
	}
	return nil
}

// PostConditionKind names the predicate evaluated over the snapshot taken
// after an interactive step.
type PostConditionKind string

const (
	CondURLChanged    PostConditionKind = "url_changed"
	CondURLEquals     PostConditionKind = "url_equals"
	CondURLContains   PostConditionKind = "url_contains"
	CondElementFound  PostConditionKind = "element_present"
	CondElementAbsent PostConditionKind = "element_absent"
	CondInputValueIs  PostConditionKind = "input_value_is"
	CondTextContains  PostConditionKind = "text_contains"
)

// PostCondition is a declarative predicate over the next snapshot.
type PostCondition struct {
	Kind    PostConditionKind `json:"kind"`
	Locator string            `json:"locator,omitempty"`
	Value   string            `json:"value,omitempty"`
}

// Evaluate applies the predicate to the snapshots captured before and after
// the step. A nil prev is allowed for predicates that only inspect next.
func (c PostCondition) Evaluate(prev, next *PerceptionSnapshot) bool {
	if next == nil {
		return false
	}
	switch c.Kind {
	case CondURLChanged:
		return prev == nil || prev.URL != next.URL
	case CondURLEquals:
		return next.URL == c.Value
	case CondURLContains:
		return strings.Contains(next.URL, c.Value)
	case CondElementFound:
		return next.FindElement(c.Locator) != nil
	case CondElementAbsent:
		return next.FindElement(c.Locator) == nil
	case CondInputValueIs:
		el := next.FindElement(c.Locator)
		return el != nil && el.Attributes["value"] == c.Value
	case CondTextContains:
		if c.Locator != "" {
			el := next.FindElement(c.Locator)
			return el != nil && strings.Contains(el.Text, c.Value)
		}
		for _, el := range next.Elements {
			if strings.Contains(el.Text, c.Value) {
				return true
			}
		}
		return false
	}
	return false
}

// ActionStep is one planned atomic operation within a plan.
type ActionStep struct {
	ID              string         `json:"id"`
	Kind            ActionKind     `json:"kind"`
	Locator         string         `json:"locator,omitempty"`
	Fallbacks       []string       `json:"fallbacks,omitempty"`
	Params          StepParams     `json:"params"`
	DependsOn       []string       `json:"depends_on,omitempty"`
	Timeout         time.Duration  `json:"timeout,omitempty"`
	MaxRetries      int            `json:"max_retries,omitempty"`
	PostCondition   *PostCondition `json:"post_condition,omitempty"`
	Critical        bool           `json:"critical"`
	NeedsRefinement bool           `json:"needs_refinement,omitempty"`
	Confidence      float64        `json:"confidence"`

	// Abstract target description, used by semantic re-search when every
	// concrete locator fails.
	Description string      `json:"description,omitempty"`
	Keywords    []string    `json:"keywords,omitempty"`
	TargetRole  ElementRole `json:"target_role,omitempty"`
}

// RequiresTarget reports whether the step kind acts on a page element.
func (s *ActionStep) RequiresTarget() bool {
	switch s.Kind {
	case ActionClick, ActionType, ActionSelect, ActionExtract:
		return true
	}
	return false
}

// OnErrorPolicy is the plan-level failure policy.
type OnErrorPolicy string

const (
	PolicyContinue           OnErrorPolicy = "continue"
	PolicyStopOnFirstFailure OnErrorPolicy = "stop_on_first_failure"
	PolicyRollback           OnErrorPolicy = "rollback"
)

// ActionPlan is a DAG of steps derived from one utterance.
type ActionPlan struct {
	ID                string        `json:"id"`
	Utterance         string        `json:"utterance"`
	TaskKind          TaskKind      `json:"task_kind"`
	Steps             []ActionStep  `json:"steps"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	Confidence        float64       `json:"confidence"`
	Version           int           `json:"version"`
	OnError           OnErrorPolicy `json:"on_error"`
}

// Validate enforces the plan invariants: unique step ids, dependencies that
// resolve within the plan, no dependency cycles, params matching kinds, and
// at least one candidate locator on every target-bearing step unless it is
// flagged for refinement.
func (p *ActionPlan) Validate() error {
	ids := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("step %d has an empty id", i)
		}
		if _, dup := ids[s.ID]; dup {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		ids[s.ID] = i
	}
	for _, s := range p.Steps {
		if err := s.Params.Validate(s.Kind); err != nil {
			return fmt.Errorf("step %q: %w", s.ID, err)
		}
		if s.RequiresTarget() && s.Locator == "" && len(s.Fallbacks) == 0 && !s.NeedsRefinement {
			return fmt.Errorf("step %q has no candidate locator and is not marked for refinement", s.ID)
		}
		for _, dep := range s.DependsOn {
			if _, ok := ids[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", s.ID, dep)
			}
		}
	}
	// Cycle detection via iterative DFS over the dependency edges.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Steps))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range p.Steps[ids[id]].DependsOn {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle through step %q", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, s := range p.Steps {
		if color[s.ID] == white {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// StepByID returns the step with the given id, or nil.
func (p *ActionPlan) StepByID(id string) *ActionStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// OutcomeStatus is the terminal state of one executed step.
type OutcomeStatus string

const (
	OutcomeOk          OutcomeStatus = "ok"
	OutcomeRecoveredOk OutcomeStatus = "recovered_ok"
	OutcomePartialOk   OutcomeStatus = "partial_ok"
	OutcomeFailed      OutcomeStatus = "failed"
	OutcomeSkipped     OutcomeStatus = "skipped"
)

// Succeeded reports whether the status counts as forward progress.
func (s OutcomeStatus) Succeeded() bool {
	return s == OutcomeOk || s == OutcomeRecoveredOk || s == OutcomePartialOk
}

// ActionOutcome is the result of executing one step.
type ActionOutcome struct {
	StepID           string        `json:"step_id"`
	Kind             ActionKind    `json:"kind"`
	Status           OutcomeStatus `json:"status"`
	Strategy         string        `json:"strategy,omitempty"`       // set for RecoveredOk
	FailureReason    string        `json:"failure_reason,omitempty"` // set for Failed
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
	Retries          int           `json:"retries"`
	EffectiveLocator string        `json:"effective_locator,omitempty"`
	Extracted        any           `json:"extracted,omitempty"`
}

// ActResult is the aggregate response of executing a plan.
type ActResult struct {
	Plan      *ActionPlan     `json:"plan"`
	Outcomes  []ActionOutcome `json:"outcomes"`
	Extracted map[string]any  `json:"extracted,omitempty"`
	Success   bool            `json:"success"`
}
