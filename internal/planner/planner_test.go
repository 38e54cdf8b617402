// File: internal/planner/planner_test.go
package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/learning"
)

func newTestPlanner(t *testing.T, reader schemas.LearningReader, llm schemas.LLMClient) *Planner {
	t.Helper()
	cfg := config.NewDefaultConfig().Planner
	cfg.UseLLM = llm != nil
	return New(cfg, reader, llm, zap.NewNop())
}

// loginSnapshot mirrors a typical login page at Standard depth.
func loginSnapshot() *schemas.PerceptionSnapshot {
	return &schemas.PerceptionSnapshot{
		Depth:      schemas.DepthStandard,
		URL:        "https://example.test/login",
		Title:      "Login",
		CapturedAt: time.Now(),
		Status:     schemas.PageReady,
		Elements: []schemas.PerceivedElement{
			{
				Locator: "css=#email", Role: schemas.RoleInput,
				Attributes: map[string]string{"id": "email", "type": "email", "name": "email"},
				Visible:    true, Enabled: true, Confidence: 0.95,
			},
			{
				Locator: "css=#password", Role: schemas.RoleInput,
				Attributes: map[string]string{"id": "password", "type": "password"},
				Visible:    true, Enabled: true, Confidence: 0.95,
			},
			{
				Locator: "css=#login-btn", Role: schemas.RoleButton, Text: "Sign in",
				Attributes: map[string]string{"id": "login-btn", "type": "submit"},
				Visible:    true, Enabled: true, Confidence: 0.95,
				AltLocators: []string{"text=Sign in"},
			},
		},
		Layout: schemas.LayoutHints{MainContent: "css=main", Class: schemas.LayoutFormal},
	}
}

func TestClassify(t *testing.T) {
	p := newTestPlanner(t, nil, nil)

	testCases := []struct {
		utterance  string
		wantKind   schemas.TaskKind
		wantEntity map[string]string
	}{
		{
			utterance:  "navigate to example.com",
			wantKind:   schemas.TaskNavigate,
			wantEntity: map[string]string{"url": "https://example.com"},
		},
		{
			utterance: "go to https://docs.example.org/start then wait",
			wantKind:  schemas.TaskMulti,
		},
		{
			utterance:  "search for 'mechanical keyboards'",
			wantKind:   schemas.TaskSearch,
			wantEntity: map[string]string{"query": "mechanical keyboards"},
		},
		{
			utterance:  "type alice@example.com in the email field",
			wantKind:   schemas.TaskFormFill,
			wantEntity: map[string]string{"email": "alice@example.com", "field": "email"},
		},
		{
			utterance:  "click the checkout button",
			wantKind:   schemas.TaskFormFill,
			wantEntity: map[string]string{"target": "checkout"},
		},
		{
			utterance: "extract the product titles",
			wantKind:  schemas.TaskExtract,
		},
		{
			utterance: "navigate to example.com and click the login button",
			wantKind:  schemas.TaskMulti,
		},
		{
			utterance: "please photosynthesize the homepage",
			wantKind:  schemas.TaskUnknown,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.utterance, func(t *testing.T) {
			u := p.classify(tc.utterance)
			assert.Equal(t, tc.wantKind, u.TaskKind)
			for k, v := range tc.wantEntity {
				assert.Equal(t, v, u.Entities[k], "entity %q", k)
			}
			if tc.wantKind == schemas.TaskUnknown {
				assert.Less(t, u.Confidence, 0.4)
			} else {
				assert.GreaterOrEqual(t, u.Confidence, 0.4)
			}
		})
	}
}

func TestStem(t *testing.T) {
	for input, want := range map[string]string{
		"clicking": "click", "clicked": "click", "clicks": "click",
		"navigate": "navigat", "navigating": "navigat",
		"types": "typ", "typed": "typ", "press": "press", "searches": "search",
	} {
		assert.Equal(t, want, stem(input), "stem(%q)", input)
	}
}

func TestPlanNavigateThenClick(t *testing.T) {
	p := newTestPlanner(t, nil, nil)

	// Planning happens against the pre-navigation page, so the click
	// target cannot be grounded yet.
	blank := &schemas.PerceptionSnapshot{Depth: schemas.DepthStandard, URL: "about:blank", Status: schemas.PageReady}
	plan, err := p.Plan(context.Background(), "navigate to example.com and click the login button", blank)
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	require.Len(t, plan.Steps, 2)
	nav, click := plan.Steps[0], plan.Steps[1]

	assert.Equal(t, schemas.ActionNavigate, nav.Kind)
	require.NotNil(t, nav.Params.Navigate)
	assert.Equal(t, "https://example.com", nav.Params.Navigate.URL)
	require.NotNil(t, nav.PostCondition)
	assert.Equal(t, schemas.CondURLContains, nav.PostCondition.Kind)

	assert.Equal(t, schemas.ActionClick, click.Kind)
	assert.Equal(t, []string{nav.ID}, click.DependsOn)
	assert.True(t, click.NeedsRefinement, "target page not seen yet")
	assert.Contains(t, click.Keywords, "login")
	assert.Equal(t, schemas.RoleButton, click.TargetRole)
}

func TestPlanTypeWithVerify(t *testing.T) {
	p := newTestPlanner(t, nil, nil)

	plan, err := p.Plan(context.Background(), "type alice@example.com in the email field", loginSnapshot())
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	require.Len(t, plan.Steps, 2)
	typeStep, verify := plan.Steps[0], plan.Steps[1]

	assert.Equal(t, schemas.ActionType, typeStep.Kind)
	assert.Equal(t, "css=#email", typeStep.Locator)
	require.NotNil(t, typeStep.Params.Type)
	assert.Equal(t, "alice@example.com", typeStep.Params.Type.Text)
	assert.True(t, typeStep.Params.Type.Clear)

	assert.Equal(t, schemas.ActionVerify, verify.Kind)
	require.NotNil(t, verify.PostCondition)
	assert.Equal(t, schemas.CondInputValueIs, verify.PostCondition.Kind)
	assert.Equal(t, "css=#email", verify.PostCondition.Locator)
	assert.Equal(t, "alice@example.com", verify.PostCondition.Value)
}

func TestPlanGroundsClickAgainstSnapshot(t *testing.T) {
	p := newTestPlanner(t, nil, nil)

	plan, err := p.Plan(context.Background(), "click the sign in button", loginSnapshot())
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)

	click := plan.Steps[0]
	assert.Equal(t, "css=#login-btn", click.Locator)
	assert.Equal(t, []string{"text=Sign in"}, click.Fallbacks)
	assert.False(t, click.NeedsRefinement)
	assert.Greater(t, click.Confidence, 0.5)
}

func TestPlanLowConfidenceAsksForClarification(t *testing.T) {
	p := newTestPlanner(t, nil, nil)

	plan, err := p.Plan(context.Background(), "please photosynthesize the homepage", loginSnapshot())
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, schemas.ActionAskClarification, plan.Steps[0].Kind)
	require.NotNil(t, plan.Steps[0].Params.Clarify)
	assert.NotEmpty(t, plan.Steps[0].Params.Clarify.Question)
	assert.Equal(t, schemas.TaskUnknown, plan.TaskKind)
}

func TestPlanDeterminism(t *testing.T) {
	p := newTestPlanner(t, nil, nil)
	snap := loginSnapshot()

	first, err := p.Plan(context.Background(), "type alice@example.com in the email field and click the sign in button", snap)
	require.NoError(t, err)
	second, err := p.Plan(context.Background(), "type alice@example.com in the email field and click the sign in button", snap)
	require.NoError(t, err)

	// Identical inputs yield identical plans up to the generated plan id.
	diff := cmp.Diff(first, second, cmpopts.IgnoreFields(schemas.ActionPlan{}, "ID"))
	assert.Empty(t, diff)
}

func TestPlanConfidenceIsMinOverSteps(t *testing.T) {
	p := newTestPlanner(t, nil, nil)
	blank := &schemas.PerceptionSnapshot{Depth: schemas.DepthStandard, URL: "about:blank", Status: schemas.PageReady}

	plan, err := p.Plan(context.Background(), "navigate to example.com and click the login button", blank)
	require.NoError(t, err)

	lowest := 1.0
	for _, s := range plan.Steps {
		if s.Confidence < lowest {
			lowest = s.Confidence
		}
	}
	assert.Equal(t, lowest, plan.Confidence)
	assert.Positive(t, plan.EstimatedDuration)
}

func TestBlendConfidenceUsesPriors(t *testing.T) {
	cfg := config.NewDefaultConfig().Learning
	cfg.SweepInterval = 0
	cfg.DumpInterval = 0
	store := learning.NewStore(cfg, nil, zap.NewNop())
	defer store.Close()

	snap := loginSnapshot()
	sig := learning.ElementSignature(schemas.RoleButton, snap.Elements[2].Attributes)

	p := newTestPlanner(t, store, nil)

	// Below the attempt floor the prior is ignored.
	for i := 0; i < 4; i++ {
		store.Record(sig, schemas.ActionClick, false, 100*time.Millisecond)
	}
	before, err := p.Plan(context.Background(), "click the sign in button", snap)
	require.NoError(t, err)

	store.Record(sig, schemas.ActionClick, false, 100*time.Millisecond)
	after, err := p.Plan(context.Background(), "click the sign in button", snap)
	require.NoError(t, err)

	assert.Less(t, after.Steps[0].Confidence, before.Steps[0].Confidence,
		"a history of failures lowers the blended confidence once attempts reach the floor")
}

// mockLLM scripts Generate responses per call.
type mockLLM struct {
	generate func(ctx context.Context, req schemas.GenerationRequest) (string, error)
}

func (m *mockLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	return m.generate(ctx, req)
}

func TestLLMPlanMode(t *testing.T) {
	llm := &mockLLM{generate: func(_ context.Context, req schemas.GenerationRequest) (string, error) {
		return `{"task_kind":"form_fill","steps":[
			{"kind":"type","locator":"css=#email","text":"alice@example.com","description":"email field","confidence":0.9},
			{"kind":"click","locator":"css=#login-btn","description":"sign in button","confidence":0.85}
		]}`, nil
	}}
	p := newTestPlanner(t, nil, llm)

	plan, err := p.Plan(context.Background(), "log in as alice@example.com", loginSnapshot())
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, schemas.TaskFormFill, plan.TaskKind)
	assert.Equal(t, "css=#email", plan.Steps[0].Locator)
	assert.Equal(t, []string{"step-1"}, plan.Steps[1].DependsOn)
}

func TestLLMPlanRejectsInventedLocators(t *testing.T) {
	llm := &mockLLM{generate: func(_ context.Context, req schemas.GenerationRequest) (string, error) {
		return `{"task_kind":"form_fill","steps":[
			{"kind":"click","locator":"css=#does-not-exist","description":"phantom button","confidence":0.9}
		]}`, nil
	}}
	p := newTestPlanner(t, nil, llm)

	plan, err := p.Plan(context.Background(), "click the phantom button", loginSnapshot())
	require.NoError(t, err)

	require.Len(t, plan.Steps, 1)
	assert.Empty(t, plan.Steps[0].Locator, "unknown locators are stripped")
	assert.True(t, plan.Steps[0].NeedsRefinement)
}

func TestLLMFailureFallsBackToHeuristics(t *testing.T) {
	llm := &mockLLM{generate: func(_ context.Context, req schemas.GenerationRequest) (string, error) {
		return "", errors.New("rate limited")
	}}
	p := newTestPlanner(t, nil, llm)

	plan, err := p.Plan(context.Background(), "click the sign in button", loginSnapshot())
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "css=#login-btn", plan.Steps[0].Locator)
}
