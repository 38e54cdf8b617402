// File: internal/executor/executor_test.go
package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/perception"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const loginHTML = `<html><head><title>Login</title></head><body>
<main>
  <form id="login-form" action="/session" method="post">
    <input id="email" name="email" type="email">
    <input id="password" name="password" type="password">
    <button id="login-btn" type="submit">Sign in</button>
  </form>
  <p id="msg">Welcome back</p>
</main>
</body></html>`

func newTestExecutor(t *testing.T, rec schemas.LearningRecorder) *Executor {
	t.Helper()
	cfg := config.NewDefaultConfig()
	ecfg := cfg.Executor
	ecfg.RetryBase = time.Millisecond
	ecfg.RetryCap = 5 * time.Millisecond
	cache := perception.NewCache(cfg.Perception, zap.NewNop())
	t.Cleanup(cache.Close)
	engine := perception.NewEngine(cfg.Perception, cache, zap.NewNop())
	return New(ecfg, engine, rec, zap.NewNop())
}

func loginElements() map[string]*browser.ElementHandle {
	return map[string]*browser.ElementHandle{
		"css=#email":     {Locator: "css=#email", Tag: "input", Visible: true, Enabled: true},
		"css=#password":  {Locator: "css=#password", Tag: "input", Visible: true, Enabled: true},
		"css=#login-btn": {Locator: "css=#login-btn", Tag: "button", Text: "Sign in", Visible: true, Enabled: true},
		"css=#msg":       {Locator: "css=#msg", Tag: "p", Text: "Welcome back", Visible: true, Enabled: true},
	}
}

// loginFake serves the login page as the current page, with the login
// button navigating to a home page.
func loginFake() *browser.Fake {
	fake := browser.NewFake()
	fake.AddPage("https://site.test/login", &browser.FakePage{
		Title:    "Login",
		HTML:     loginHTML,
		Elements: loginElements(),
		Links:    map[string]string{"css=#login-btn": "https://site.test/home"},
	})
	fake.AddPage("https://site.test/home", &browser.FakePage{
		Title: "Home",
		HTML:  `<html><head><title>Home</title></head><body><main><h1>Home</h1></main></body></html>`,
	})
	return fake
}

type recordCall struct {
	sig     uint64
	kind    schemas.ActionKind
	success bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordCall
}

func (r *fakeRecorder) Record(sig uint64, kind schemas.ActionKind, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordCall{sig: sig, kind: kind, success: success})
}

func (r *fakeRecorder) snapshot() []recordCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordCall(nil), r.calls...)
}

func TestExecuteEmptyPlan(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := loginFake()

	result, err := ex.Execute(context.Background(), "s1", fake, &schemas.ActionPlan{
		ID: "p1", Version: 1, OnError: schemas.PolicyStopOnFirstFailure,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Outcomes)
}

func TestExecuteNavigateThenClick(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := browser.NewFake()
	fake.AddPage("about:blank", &browser.FakePage{Title: "Blank", HTML: "<html><body></body></html>"})
	fake.AddPage("https://site.test/login", &browser.FakePage{
		Title:    "Login",
		HTML:     loginHTML,
		Elements: loginElements(),
		Links:    map[string]string{"css=#login-btn": "https://site.test/home"},
	})
	fake.AddPage("https://site.test/home", &browser.FakePage{
		Title: "Home",
		HTML:  `<html><body><main><h1>Home</h1></main></body></html>`,
	})

	plan := &schemas.ActionPlan{
		ID: "p1", TaskKind: schemas.TaskMulti, Version: 1,
		OnError: schemas.PolicyStopOnFirstFailure,
		Steps: []schemas.ActionStep{
			{
				ID: "step-1", Kind: schemas.ActionNavigate, Critical: true, Confidence: 0.9,
				Params:        schemas.StepParams{Navigate: &schemas.NavigateParams{URL: "https://site.test/login", WaitUntil: schemas.WaitLoad}},
				PostCondition: &schemas.PostCondition{Kind: schemas.CondURLContains, Value: "site.test"},
			},
			{
				ID: "step-2", Kind: schemas.ActionClick, Critical: true, Confidence: 0.9,
				Locator: "css=#login-btn", DependsOn: []string{"step-1"},
			},
		},
	}

	result, err := ex.Execute(context.Background(), "s1", fake, plan)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, schemas.OutcomeOk, result.Outcomes[0].Status)
	assert.Equal(t, schemas.OutcomeOk, result.Outcomes[1].Status)

	url, err := fake.CurrentURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://site.test/home", url, "clicking the login button navigates away")
	assert.Equal(t, []string{"css=#login-btn"}, fake.Clicks)
}

func TestFallbackChainRecovers(t *testing.T) {
	rec := &fakeRecorder{}
	ex := newTestExecutor(t, rec)
	fake := browser.NewFake()
	fake.AddPage("https://site.test/form", &browser.FakePage{
		Title: "Form",
		HTML:  `<html><body><form><button type="submit">Submit</button></form></body></html>`,
		Elements: map[string]*browser.ElementHandle{
			"aria=Submit": {Locator: "aria=Submit", Tag: "button", Text: "Submit", Visible: true, Enabled: true},
		},
	})

	plan := &schemas.ActionPlan{
		ID: "p1", TaskKind: schemas.TaskFormFill, Version: 1,
		OnError: schemas.PolicyStopOnFirstFailure,
		Steps: []schemas.ActionStep{{
			ID: "step-1", Kind: schemas.ActionClick, Critical: true, Confidence: 0.8,
			Locator:   "css=#submit",
			Fallbacks: []string{"css=button[type=submit]", "aria=Submit"},
		}},
	}

	result, err := ex.Execute(context.Background(), "s1", fake, plan)
	require.NoError(t, err)
	assert.True(t, result.Success)

	out := result.Outcomes[0]
	assert.Equal(t, schemas.OutcomeRecoveredOk, out.Status)
	assert.Equal(t, "fallback-2", out.Strategy)
	assert.Equal(t, "aria=Submit", out.EffectiveLocator)
	assert.LessOrEqual(t, out.Retries, ex.cfg.MaxRetries)

	calls := rec.snapshot()
	require.Len(t, calls, 1, "outcome is recorded exactly once")
	assert.Equal(t, schemas.ActionClick, calls[0].kind)
	assert.True(t, calls[0].success)
}

func TestSemanticReSearchRecovers(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := loginFake()

	plan := &schemas.ActionPlan{
		ID: "p1", TaskKind: schemas.TaskFormFill, Version: 1,
		OnError: schemas.PolicyStopOnFirstFailure,
		Steps: []schemas.ActionStep{{
			ID: "step-1", Kind: schemas.ActionClick, Critical: true, Confidence: 0.8,
			Locator:    "css=#signin",
			Keywords:   []string{"login"},
			TargetRole: schemas.RoleButton,
		}},
	}

	result, err := ex.Execute(context.Background(), "s1", fake, plan)
	require.NoError(t, err)
	assert.True(t, result.Success)

	out := result.Outcomes[0]
	assert.Equal(t, schemas.OutcomeRecoveredOk, out.Status)
	assert.Equal(t, "semantic", out.Strategy)
	assert.Equal(t, "css=#login-btn", out.EffectiveLocator)
}

func TestTypeVerifiesAcceptedInput(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := loginFake()

	plan := &schemas.ActionPlan{
		ID: "p1", TaskKind: schemas.TaskFormFill, Version: 1,
		OnError: schemas.PolicyStopOnFirstFailure,
		Steps: []schemas.ActionStep{
			{
				ID: "step-1", Kind: schemas.ActionType, Critical: true, Confidence: 0.9,
				Locator: "css=#email",
				Params:  schemas.StepParams{Type: &schemas.TypeParams{Text: "alice@example.com", Clear: true}},
				PostCondition: &schemas.PostCondition{
					Kind: schemas.CondInputValueIs, Locator: "css=#email", Value: "alice@example.com",
				},
			},
			{
				ID: "step-2", Kind: schemas.ActionVerify, Confidence: 0.9,
				DependsOn: []string{"step-1"},
				PostCondition: &schemas.PostCondition{
					Kind: schemas.CondInputValueIs, Locator: "css=#email", Value: "alice@example.com",
				},
			},
		},
	}

	result, err := ex.Execute(context.Background(), "s1", fake, plan)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, schemas.OutcomeOk, result.Outcomes[0].Status)
	assert.Equal(t, schemas.OutcomeOk, result.Outcomes[1].Status)
	assert.Equal(t, "alice@example.com", fake.Typed["css=#email"])
}

func TestVerificationSnapshotRefreshesRunView(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := loginFake()

	r := &run{
		ex:        ex,
		sessionID: "s1",
		adapter:   fake,
		logger:    zap.NewNop(),
		typed:     make(map[string]string),
	}
	stale := &schemas.PerceptionSnapshot{URL: "https://site.test/stale", Depth: schemas.DepthLightning}
	r.lastSnap, r.lastSnapAt = stale, time.Now().Add(-time.Minute)

	step := &schemas.ActionStep{
		ID:      "check",
		Kind:    schemas.ActionClick,
		Locator: "css=#login-btn",
		PostCondition: &schemas.PostCondition{
			Kind: schemas.CondURLContains, Value: "site.test/login",
		},
	}
	require.True(t, r.checkCondition(context.Background(), step, ""))

	// The verification capture replaces the stale view, so the freshness
	// window now covers the page as it was after the step.
	require.NotNil(t, r.lastSnap)
	assert.NotSame(t, stale, r.lastSnap)
	assert.Equal(t, "https://site.test/login", r.lastSnap.URL)
	assert.WithinDuration(t, time.Now(), r.lastSnapAt, time.Second)
}

func TestExtractReturnsText(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := loginFake()

	plan := &schemas.ActionPlan{
		ID: "p1", TaskKind: schemas.TaskExtract, Version: 1,
		OnError: schemas.PolicyStopOnFirstFailure,
		Steps: []schemas.ActionStep{{
			ID: "step-1", Kind: schemas.ActionExtract, Critical: true, Confidence: 0.8,
			Locator: "css=#msg",
		}},
	}

	result, err := ex.Execute(context.Background(), "s1", fake, plan)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Welcome back", result.Outcomes[0].Extracted)
	assert.Equal(t, "Welcome back", result.Extracted["step-1"])
}

func TestPolicyContinueRunsIndependentSteps(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := loginFake()

	plan := &schemas.ActionPlan{
		ID: "p1", TaskKind: schemas.TaskMulti, Version: 1,
		OnError: schemas.PolicyContinue,
		Steps: []schemas.ActionStep{
			{
				ID: "step-1", Kind: schemas.ActionWait, Critical: true, Confidence: 0.9,
				Params: schemas.StepParams{Wait: &schemas.WaitParams{Duration: time.Millisecond}},
			},
			{
				ID: "step-2", Kind: schemas.ActionClick, Critical: true, Confidence: 0.8,
				Locator: "css=#missing", DependsOn: []string{"step-1"},
			},
			{
				ID: "step-3", Kind: schemas.ActionExtract, Critical: true, Confidence: 0.8,
				Locator: "css=#msg", DependsOn: []string{"step-1"},
			},
			{
				ID: "step-4", Kind: schemas.ActionWait, Critical: true, Confidence: 0.9,
				DependsOn: []string{"step-1"},
				Params:    schemas.StepParams{Wait: &schemas.WaitParams{Duration: time.Millisecond}},
			},
		},
	}

	result, err := ex.Execute(context.Background(), "s1", fake, plan)
	require.NoError(t, err)
	assert.False(t, result.Success, "a failed critical step sinks the plan")
	require.Len(t, result.Outcomes, 4)
	assert.Equal(t, schemas.OutcomeOk, result.Outcomes[0].Status)
	assert.Equal(t, schemas.OutcomeFailed, result.Outcomes[1].Status)
	assert.Equal(t, string(browser.KindNotFound), result.Outcomes[1].FailureReason)
	assert.Equal(t, schemas.OutcomeOk, result.Outcomes[2].Status, "independent steps still run under Continue")
	assert.Equal(t, schemas.OutcomeOk, result.Outcomes[3].Status)
}

func TestPolicyStopOnFirstFailureSkipsRemaining(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := loginFake()

	plan := &schemas.ActionPlan{
		ID: "p1", TaskKind: schemas.TaskMulti, Version: 1,
		OnError: schemas.PolicyStopOnFirstFailure,
		Steps: []schemas.ActionStep{
			{
				ID: "step-1", Kind: schemas.ActionClick, Critical: true, Confidence: 0.8,
				Locator: "css=#missing",
			},
			{
				ID: "step-2", Kind: schemas.ActionWait, Critical: true, Confidence: 0.9,
				Params: schemas.StepParams{Wait: &schemas.WaitParams{Duration: time.Millisecond}},
			},
		},
	}

	result, err := ex.Execute(context.Background(), "s1", fake, plan)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, schemas.OutcomeFailed, result.Outcomes[0].Status)
	assert.Equal(t, schemas.OutcomeSkipped, result.Outcomes[1].Status)
}

func TestPolicyRollbackClearsTypedInput(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := loginFake()

	plan := &schemas.ActionPlan{
		ID: "p1", TaskKind: schemas.TaskFormFill, Version: 1,
		OnError: schemas.PolicyRollback,
		Steps: []schemas.ActionStep{
			{
				ID: "step-1", Kind: schemas.ActionType, Critical: true, Confidence: 0.9,
				Locator: "css=#email",
				Params:  schemas.StepParams{Type: &schemas.TypeParams{Text: "alice@example.com", Clear: true}},
			},
			{
				ID: "step-2", Kind: schemas.ActionClick, Critical: true, Confidence: 0.8,
				Locator: "css=#missing", DependsOn: []string{"step-1"},
			},
		},
	}

	result, err := ex.Execute(context.Background(), "s1", fake, plan)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, schemas.OutcomeOk, result.Outcomes[0].Status)
	assert.Equal(t, schemas.OutcomeFailed, result.Outcomes[1].Status)
	assert.Equal(t, "", fake.Typed["css=#email"], "rollback clears the typed value")
}

func TestNonCriticalStepDegradesToPartialOk(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := loginFake()

	plan := &schemas.ActionPlan{
		ID: "p1", TaskKind: schemas.TaskFormFill, Version: 1,
		OnError: schemas.PolicyStopOnFirstFailure,
		Steps: []schemas.ActionStep{{
			ID: "step-1", Kind: schemas.ActionClick, Confidence: 0.5,
			Locator: "css=#missing",
		}},
	}

	result, err := ex.Execute(context.Background(), "s1", fake, plan)
	require.NoError(t, err)
	assert.True(t, result.Success, "non-critical degradation does not sink the plan")

	out := result.Outcomes[0]
	assert.Equal(t, schemas.OutcomePartialOk, out.Status)
	info, ok := out.Extracted.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, info["degraded"])
}

func TestDependencyFailureSkipsDependents(t *testing.T) {
	ex := newTestExecutor(t, nil)
	fake := loginFake()

	plan := &schemas.ActionPlan{
		ID: "p1", TaskKind: schemas.TaskMulti, Version: 1,
		OnError: schemas.PolicyContinue,
		Steps: []schemas.ActionStep{
			{
				ID: "step-1", Kind: schemas.ActionClick, Critical: true, Confidence: 0.8,
				Locator: "css=#missing",
			},
			{
				ID: "step-2", Kind: schemas.ActionExtract, Critical: true, Confidence: 0.8,
				Locator: "css=#msg", DependsOn: []string{"step-1"},
			},
		},
	}

	result, err := ex.Execute(context.Background(), "s1", fake, plan)
	require.NoError(t, err)
	assert.Equal(t, schemas.OutcomeFailed, result.Outcomes[0].Status)
	assert.Equal(t, schemas.OutcomeSkipped, result.Outcomes[1].Status)
	assert.Equal(t, "dependency_failed", result.Outcomes[1].FailureReason)
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	plan := &schemas.ActionPlan{
		ID: "p1", Version: 1,
		Steps: []schemas.ActionStep{
			{ID: "d", DependsOn: []string{"b", "c"}},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"a"}},
			{ID: "a"},
		},
	}
	order, err := topoOrder(plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, order, "ties break by declaration order")
}
