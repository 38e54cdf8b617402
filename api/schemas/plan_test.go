// File: api/schemas/plan_test.go
package schemas_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// loginPlan builds a small well-formed plan that every mutation case
// starts from: navigate, then type, then click, chained by dependencies.
func loginPlan() *schemas.ActionPlan {
	return &schemas.ActionPlan{
		ID:        "plan-1",
		Utterance: "log in as alice",
		TaskKind:  schemas.TaskFormFill,
		OnError:   schemas.PolicyStopOnFirstFailure,
		Steps: []schemas.ActionStep{
			{
				ID:     "nav",
				Kind:   schemas.ActionNavigate,
				Params: schemas.StepParams{Navigate: &schemas.NavigateParams{URL: "https://example.com/login"}},
			},
			{
				ID:        "email",
				Kind:      schemas.ActionType,
				Locator:   "css=#email",
				Params:    schemas.StepParams{Type: &schemas.TypeParams{Text: "alice@example.com", Clear: true}},
				DependsOn: []string{"nav"},
			},
			{
				ID:        "submit",
				Kind:      schemas.ActionClick,
				Locator:   "css=#login-btn",
				DependsOn: []string{"email"},
			},
		},
	}
}

func TestActionPlanValidateAcceptsWellFormedPlan(t *testing.T) {
	t.Parallel()
	require.NoError(t, loginPlan().Validate())
}

func TestActionPlanValidateRejections(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		mutate  func(p *schemas.ActionPlan)
		wantErr string
	}{
		{
			name:    "empty step id",
			mutate:  func(p *schemas.ActionPlan) { p.Steps[1].ID = "" },
			wantErr: "empty id",
		},
		{
			name:    "duplicate step id",
			mutate:  func(p *schemas.ActionPlan) { p.Steps[2].ID = "email" },
			wantErr: "duplicate step id",
		},
		{
			name:    "dependency on a step outside the plan",
			mutate:  func(p *schemas.ActionPlan) { p.Steps[2].DependsOn = []string{"captcha"} },
			wantErr: `depends on unknown step "captcha"`,
		},
		{
			name: "two step dependency cycle",
			mutate: func(p *schemas.ActionPlan) {
				p.Steps[1].DependsOn = []string{"submit"}
				p.Steps[2].DependsOn = []string{"email"}
			},
			wantErr: "dependency cycle",
		},
		{
			name:    "self dependency",
			mutate:  func(p *schemas.ActionPlan) { p.Steps[2].DependsOn = []string{"submit"} },
			wantErr: "dependency cycle",
		},
		{
			name:    "target step without any candidate locator",
			mutate:  func(p *schemas.ActionPlan) { p.Steps[2].Locator = "" },
			wantErr: "no candidate locator",
		},
		{
			name:    "params missing for the step kind",
			mutate:  func(p *schemas.ActionPlan) { p.Steps[0].Params = schemas.StepParams{} },
			wantErr: "navigate step requires a url",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			plan := loginPlan()
			tc.mutate(plan)
			err := plan.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestActionPlanValidateAllowsRefinementWithoutLocator(t *testing.T) {
	t.Parallel()
	plan := loginPlan()
	plan.Steps[2].Locator = ""
	plan.Steps[2].NeedsRefinement = true
	require.NoError(t, plan.Validate())

	plan.Steps[2].NeedsRefinement = false
	plan.Steps[2].Fallbacks = []string{"text=Sign in"}
	require.NoError(t, plan.Validate())
}

func TestStepParamsValidate(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		kind    schemas.ActionKind
		params  schemas.StepParams
		wantErr string
	}{
		{
			name:    "type without params",
			kind:    schemas.ActionType,
			wantErr: "requires text",
		},
		{
			name:    "select without a value",
			kind:    schemas.ActionSelect,
			params:  schemas.StepParams{Select: &schemas.SelectParams{}},
			wantErr: "requires a value",
		},
		{
			name:    "wait without duration or locator",
			kind:    schemas.ActionWait,
			params:  schemas.StepParams{Wait: &schemas.WaitParams{}},
			wantErr: "duration or a locator",
		},
		{
			name:    "scroll sideways",
			kind:    schemas.ActionScroll,
			params:  schemas.StepParams{Scroll: &schemas.ScrollParams{Direction: "left"}},
			wantErr: "direction up or down",
		},
		{
			name:    "clarification without a question",
			kind:    schemas.ActionAskClarification,
			params:  schemas.StepParams{Clarify: &schemas.ClarifyParams{}},
			wantErr: "requires a question",
		},
		{
			name:    "unknown action kind",
			kind:    schemas.ActionKind("teleport"),
			wantErr: "unknown action kind",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.params.Validate(tc.kind)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("click needs no params", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, schemas.StepParams{}.Validate(schemas.ActionClick))
	})
	t.Run("wait on a locator alone is enough", func(t *testing.T) {
		t.Parallel()
		params := schemas.StepParams{Wait: &schemas.WaitParams{ForLocator: "css=#msg"}}
		assert.NoError(t, params.Validate(schemas.ActionWait))
	})
	t.Run("wait on a duration alone is enough", func(t *testing.T) {
		t.Parallel()
		params := schemas.StepParams{Wait: &schemas.WaitParams{Duration: 100 * time.Millisecond}}
		assert.NoError(t, params.Validate(schemas.ActionWait))
	})
}

func TestParseLocator(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name       string
		in         string
		wantScheme schemas.LocatorScheme
		wantBody   string
		wantErr    string
	}{
		{name: "explicit xpath", in: "xpath=//button[1]", wantScheme: schemas.SchemeXPath, wantBody: "//button[1]"},
		{name: "explicit text", in: "text=Sign in", wantScheme: schemas.SchemeText, wantBody: "Sign in"},
		{name: "bare selector defaults to css", in: "#login-btn", wantScheme: schemas.SchemeCSS, wantBody: "#login-btn"},
		{name: "attribute selector keeps its equals sign", in: "input[name=q]", wantScheme: schemas.SchemeCSS, wantBody: "input[name=q]"},
		{name: "blank locator", in: "   ", wantErr: "empty locator"},
		{name: "recognized scheme with empty body", in: "css=", wantErr: "empty body"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			loc, err := schemas.ParseLocator(tc.in)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantScheme, loc.Scheme)
			assert.Equal(t, tc.wantBody, loc.Body)
		})
	}
}
