// File: internal/browser/fake_test.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

func TestErrorKindRouting(t *testing.T) {
	base := fmt.Errorf("boom")
	err := NewError(KindNotFound, "css=#missing", base)

	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, IsKind(err, KindNotFound))
	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "css=#missing")

	wrapped := fmt.Errorf("step failed: %w", err)
	assert.Equal(t, KindNotFound, KindOf(wrapped))

	assert.Equal(t, ErrorKind(""), KindOf(errors.New("untyped")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NewError(KindNotFound, "", nil)))
	assert.True(t, Retryable(NewError(KindNotInteractable, "", nil)))
	assert.True(t, Retryable(NewError(KindTimeout, "", nil)))
	assert.False(t, Retryable(NewError(KindInvalidLocator, "", nil)))
	assert.False(t, Retryable(NewError(KindNavigationFailed, "", nil)))
	assert.False(t, Retryable(NewError(KindSessionClosed, "", nil)))
}

func newLoginFake() *Fake {
	f := NewFake()
	f.AddPage("https://example.test/login", &FakePage{
		Title: "Login",
		HTML:  `<html><body><form><input id="user" data-wp-eid="e0"><button id="go" data-wp-eid="e1">Sign in</button></form></body></html>`,
		Elements: map[string]*ElementHandle{
			"css=#user": {Locator: "css=#user", Tag: "input", Visible: true, Enabled: true},
			"css=#go":   {Locator: "css=#go", Tag: "button", Text: "Sign in", Visible: true, Enabled: true},
			"css=#off":  {Locator: "css=#off", Tag: "button", Visible: true, Enabled: false},
		},
		Links: map[string]string{"css=#go": "https://example.test/home"},
	})
	f.AddPage("https://example.test/home", &FakePage{Title: "Home", HTML: "<html><body>Welcome</body></html>"})
	return f
}

func TestFakeInteractionFlow(t *testing.T) {
	ctx := context.Background()
	f := newLoginFake()

	require.NoError(t, f.Navigate(ctx, "https://example.test/login", schemas.WaitDOMReady))
	require.NoError(t, f.Type(ctx, "css=#user", "alice", TypeOptions{Clear: true}))
	assert.Equal(t, "alice", f.Typed["css=#user"])

	// Click follows the scripted link.
	require.NoError(t, f.Click(ctx, "css=#go", ClickOptions{}))
	url, err := f.CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/home", url)
	assert.Equal(t, []string{"css=#go"}, f.Clicks)
}

func TestFakeFailureKinds(t *testing.T) {
	ctx := context.Background()
	f := newLoginFake()
	require.NoError(t, f.Navigate(ctx, "https://example.test/login", schemas.WaitLoad))

	err := f.Click(ctx, "css=#missing", ClickOptions{})
	assert.True(t, IsKind(err, KindNotFound))

	err = f.Click(ctx, "css=#off", ClickOptions{})
	assert.True(t, IsKind(err, KindNotInteractable))

	require.NoError(t, f.Close(ctx))
	_, err = f.SnapshotDOM(ctx, schemas.DepthStandard)
	assert.True(t, IsKind(err, KindSessionClosed))
}

func TestFakeSnapshotAndEvents(t *testing.T) {
	ctx := context.Background()
	f := newLoginFake()
	require.NoError(t, f.Navigate(ctx, "https://example.test/login", schemas.WaitLoad))

	snap, err := f.SnapshotDOM(ctx, schemas.DepthQuick)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/login", snap.URL)
	assert.Equal(t, "Login", snap.Title)
	assert.Contains(t, snap.HTML, `data-wp-eid="e0"`)

	// Navigation published the full lifecycle sequence.
	var types []schemas.PageEventType
	for i := 0; i < 4; i++ {
		types = append(types, (<-f.Events()).Type)
	}
	assert.Equal(t, []schemas.PageEventType{
		schemas.EventNavigation, schemas.EventDOMReady, schemas.EventLoad, schemas.EventNetworkIdle,
	}, types)
}
