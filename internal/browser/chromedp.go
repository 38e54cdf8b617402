// File: internal/browser/chromedp.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Chromedp drives a headless Chromium tab over CDP. One Chromedp instance
// backs one session; cross-session parallelism comes from distinct
// instances, never shared tabs.
type Chromedp struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	events    chan schemas.PageEvent
	closeOnce sync.Once

	mu        sync.Mutex
	lastIdle  time.Time
	navSignal chan schemas.PageEventType
}

var _ Adapter = (*Chromedp)(nil)

// NewChromedp launches a dedicated browser tab.
func NewChromedp(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Chromedp, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		if k, v, ok := strings.Cut(strings.TrimPrefix(arg, "--"), "="); ok {
			opts = append(opts, chromedp.Flag(k, v))
		} else {
			opts = append(opts, chromedp.Flag(strings.TrimPrefix(arg, "--"), true))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	a := &Chromedp{
		cfg:         cfg,
		logger:      logger.Named("chromedp"),
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		events:      make(chan schemas.PageEvent, 128),
		navSignal:   make(chan schemas.PageEventType, 16),
	}

	// Lifecycle events feed both the public event stream and the
	// navigation wait logic.
	chromedp.ListenTarget(tabCtx, a.onTargetEvent)

	if err := chromedp.Run(tabCtx, page.Enable(), page.SetLifecycleEventsEnabled(true)); err != nil {
		tabCancel()
		allocCancel()
		return nil, NewError(KindNavigationFailed, "", fmt.Errorf("failed to start browser tab: %w", err))
	}

	a.logger.Info("Browser tab started", zap.Bool("headless", cfg.Headless))
	return a, nil
}

func (a *Chromedp) onTargetEvent(ev any) {
	now := time.Now()
	switch e := ev.(type) {
	case *page.EventLifecycleEvent:
		var t schemas.PageEventType
		switch e.Name {
		case "DOMContentLoaded":
			t = schemas.EventDOMReady
		case "load":
			t = schemas.EventLoad
		case "networkIdle":
			t = schemas.EventNetworkIdle
			a.mu.Lock()
			a.lastIdle = now
			a.mu.Unlock()
		default:
			return
		}
		a.publish(schemas.PageEvent{Type: t, At: now})
		select {
		case a.navSignal <- t:
		default:
		}
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			a.publish(schemas.PageEvent{Type: schemas.EventNavigation, URL: e.Frame.URL, At: now})
		}
	case *page.EventJavascriptDialogOpening:
		a.publish(schemas.PageEvent{Type: schemas.EventPageError, Detail: "dialog: " + e.Message, At: now})
	}
}

func (a *Chromedp) publish(ev schemas.PageEvent) {
	select {
	case a.events <- ev:
	default:
		// The stream is advisory; a slow subscriber must not stall CDP dispatch.
	}
}

// Events implements Adapter.
func (a *Chromedp) Events() <-chan schemas.PageEvent { return a.events }

func (a *Chromedp) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := a.tabCtx.Err(); err != nil {
		return NewError(KindSessionClosed, "", err)
	}
	runCtx, cancel := combineContext(a.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate implements Adapter.
func (a *Chromedp) Navigate(ctx context.Context, url string, wait schemas.WaitUntil) error {
	timeout := a.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Drain stale signals so the wait below observes only this navigation.
	for {
		select {
		case <-a.navSignal:
			continue
		default:
		}
		break
	}

	if err := a.run(navCtx, chromedp.Navigate(url)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(KindTimeout, "", fmt.Errorf("navigation to %s timed out: %w", url, err))
		}
		return NewError(KindNavigationFailed, "", fmt.Errorf("navigation to %s failed: %w", url, err))
	}

	// chromedp.Navigate already waits for the load event; dom_ready is
	// therefore satisfied too. network_idle needs an explicit wait.
	if wait == schemas.WaitNetworkIdle {
		if err := a.waitNetworkIdle(navCtx); err != nil {
			return err
		}
	}
	return nil
}

func (a *Chromedp) waitNetworkIdle(ctx context.Context) error {
	a.mu.Lock()
	seen := a.lastIdle
	a.mu.Unlock()
	if time.Since(seen) < 500*time.Millisecond {
		return nil
	}
	for {
		select {
		case t := <-a.navSignal:
			if t == schemas.EventNetworkIdle {
				return nil
			}
		case <-ctx.Done():
			// Network never settled within the deadline; treat the settle
			// wait budget as best effort rather than a hard failure.
			if a.cfg.NetworkIdleWait > 0 {
				return nil
			}
			return NewError(KindTimeout, "", ctx.Err())
		}
	}
}

// findScript resolves a locator in page context and reports observability
// facts about the first match.
const findScript = `(function(sel, isXPath) {
	let el = null;
	try {
		if (isXPath) {
			el = document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		} else {
			el = document.querySelector(sel);
		}
	} catch (e) {
		return {error: String(e)};
	}
	if (!el) return {found: false};
	const r = el.getBoundingClientRect();
	const cs = window.getComputedStyle(el);
	return {
		found: true,
		tag: el.tagName.toLowerCase(),
		text: (el.innerText || el.value || '').slice(0, 300),
		visible: r.width > 0 && r.height > 0 && cs.visibility !== 'hidden' && cs.display !== 'none',
		enabled: !el.disabled,
		rect: {x: r.x, y: r.y, width: r.width, height: r.height}
	};
})(%s, %v)`

type findResult struct {
	Error   string              `json:"error"`
	Found   bool                `json:"found"`
	Tag     string              `json:"tag"`
	Text    string              `json:"text"`
	Visible bool                `json:"visible"`
	Enabled bool                `json:"enabled"`
	Rect    schemas.BoundingBox `json:"rect"`
}

// Find implements Adapter.
func (a *Chromedp) Find(ctx context.Context, locator string) (*ElementHandle, error) {
	q, err := lowerLocator(locator)
	if err != nil {
		return nil, err
	}
	sel, err := json.Marshal(q.selector)
	if err != nil {
		return nil, NewError(KindInvalidLocator, locator, err)
	}

	var res findResult
	expr := fmt.Sprintf(findScript, string(sel), q.isXPath)
	if err := a.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return nil, NewError(KindScriptError, locator, err)
	}
	if res.Error != "" {
		return nil, NewError(KindInvalidLocator, locator, errors.New(res.Error))
	}
	if !res.Found {
		return nil, NewError(KindNotFound, locator, nil)
	}
	return &ElementHandle{
		Locator: locator,
		Tag:     res.Tag,
		Text:    res.Text,
		Visible: res.Visible,
		Enabled: res.Enabled,
		Box:     res.Rect,
	}, nil
}

func (a *Chromedp) queryOption(q resolvedQuery) chromedp.QueryOption {
	if q.isXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// checkInteractable rejects hidden, disabled, or detached targets before an
// interaction is attempted.
func (a *Chromedp) checkInteractable(ctx context.Context, locator string) error {
	h, err := a.Find(ctx, locator)
	if err != nil {
		return err
	}
	if !h.Visible || !h.Enabled {
		return NewError(KindNotInteractable, locator,
			fmt.Errorf("visible=%v enabled=%v", h.Visible, h.Enabled))
	}
	return nil
}

// Click implements Adapter.
func (a *Chromedp) Click(ctx context.Context, locator string, opts ClickOptions) error {
	q, err := lowerLocator(locator)
	if err != nil {
		return err
	}
	if err := a.checkInteractable(ctx, locator); err != nil {
		return err
	}
	if err := a.run(ctx, chromedp.Click(q.selector, a.queryOption(q))); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(KindTimeout, locator, err)
		}
		return NewError(KindNotInteractable, locator, err)
	}
	return nil
}

// Type implements Adapter.
func (a *Chromedp) Type(ctx context.Context, locator, text string, opts TypeOptions) error {
	q, err := lowerLocator(locator)
	if err != nil {
		return err
	}
	if err := a.checkInteractable(ctx, locator); err != nil {
		return err
	}
	actions := []chromedp.Action{chromedp.Focus(q.selector, a.queryOption(q))}
	if opts.Clear {
		actions = append(actions, chromedp.SetValue(q.selector, "", a.queryOption(q)))
	}
	actions = append(actions, chromedp.SendKeys(q.selector, text, a.queryOption(q)))
	if err := a.run(ctx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(KindTimeout, locator, err)
		}
		return NewError(KindNotInteractable, locator, err)
	}
	return nil
}

const selectScript = `(function(sel, isXPath, value) {
	let el = null;
	if (isXPath) {
		el = document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	} else {
		el = document.querySelector(sel);
	}
	if (!el) return {found: false};
	if (el.tagName.toLowerCase() !== 'select') return {found: true, ok: false, reason: 'not a select element'};
	let matched = false;
	for (const opt of el.options) {
		if (opt.value === value || opt.text === value) {
			el.value = opt.value;
			matched = true;
			break;
		}
	}
	if (!matched) return {found: true, ok: false, reason: 'no matching option'};
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return {found: true, ok: true};
})(%s, %v, %s)`

// SelectOption implements Adapter.
func (a *Chromedp) SelectOption(ctx context.Context, locator, value string) error {
	q, err := lowerLocator(locator)
	if err != nil {
		return err
	}
	if err := a.checkInteractable(ctx, locator); err != nil {
		return err
	}
	sel, _ := json.Marshal(q.selector)
	val, _ := json.Marshal(value)
	var res struct {
		Found  bool   `json:"found"`
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
	}
	expr := fmt.Sprintf(selectScript, string(sel), q.isXPath, string(val))
	if err := a.run(ctx, chromedp.Evaluate(expr, &res)); err != nil {
		return NewError(KindScriptError, locator, err)
	}
	if !res.Found {
		return NewError(KindNotFound, locator, nil)
	}
	if !res.OK {
		return NewError(KindNotInteractable, locator, errors.New(res.Reason))
	}
	return nil
}

// Evaluate implements Adapter.
func (a *Chromedp) Evaluate(ctx context.Context, expression string, out any) error {
	var action chromedp.Action
	if out != nil {
		action = chromedp.Evaluate(expression, out)
	} else {
		var discard any
		action = chromedp.Evaluate(expression, &discard)
	}
	if err := a.run(ctx, action); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(KindTimeout, "", err)
		}
		return NewError(KindScriptError, "", err)
	}
	return nil
}

// snapshotScript tags elements with synthetic ids and serializes the page.
// The node budget keeps shallow tiers cheap.
const snapshotScript = `(function(maxNodes) {
	let n = 0;
	const metrics = {};
	for (const el of document.querySelectorAll('*')) {
		if (n >= maxNodes) break;
		const id = 'e' + (n++);
		el.setAttribute('data-wp-eid', id);
		const r = el.getBoundingClientRect();
		const cs = window.getComputedStyle(el);
		metrics[id] = {
			box: {x: r.x, y: r.y, width: r.width, height: r.height},
			visible: r.width > 0 && r.height > 0 && cs.visibility !== 'hidden' && cs.display !== 'none',
			enabled: !el.disabled
		};
	}
	return {
		url: location.href,
		title: document.title,
		ready_state: document.readyState,
		html: document.documentElement.outerHTML,
		metrics: metrics
	};
})(%d)`

func snapshotNodeBudget(hint schemas.PerceptionDepth) int {
	switch hint {
	case schemas.DepthLightning:
		return 400
	case schemas.DepthQuick:
		return 1500
	case schemas.DepthStandard:
		return 5000
	default:
		return 20000
	}
}

// SnapshotDOM implements Adapter.
func (a *Chromedp) SnapshotDOM(ctx context.Context, hint schemas.PerceptionDepth) (*RawSnapshot, error) {
	var raw RawSnapshot
	expr := fmt.Sprintf(snapshotScript, snapshotNodeBudget(hint))
	if err := a.run(ctx, chromedp.Evaluate(expr, &raw)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewError(KindTimeout, "", err)
		}
		return nil, NewError(KindScriptError, "", err)
	}
	raw.CapturedAt = time.Now()
	return &raw, nil
}

// Screenshot implements Adapter.
func (a *Chromedp) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := a.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, NewError(KindScriptError, "", err)
	}
	return buf, nil
}

// CurrentURL implements Adapter.
func (a *Chromedp) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := a.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", NewError(KindScriptError, "", err)
	}
	return loc, nil
}

// Close implements Adapter. Idempotent.
func (a *Chromedp) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.logger.Info("Closing browser tab.")
		a.tabCancel()
		a.allocCancel()
		close(a.events)
	})
	return nil
}

// combineContext derives a context cancelled when either parent is done.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
