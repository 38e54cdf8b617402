// File: internal/browser/fake.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// FakePage is one scripted page served by the Fake adapter.
type FakePage struct {
	Title   string
	HTML    string
	Metrics map[string]NodeMetrics

	// Elements maps locator strings (any scheme) to handles. Find matches
	// against these keys exactly, so tests control resolution outcomes.
	Elements map[string]*ElementHandle

	// Links maps a clickable locator to the URL the click navigates to.
	Links map[string]string

	// Options maps a select locator to its accepted option values.
	Options map[string][]string
}

// Fake is an in-memory Adapter for tests. Zero value is not usable; call
// NewFake. Every method can be overridden through its *Func field, and all
// interactions are recorded for assertions.
type Fake struct {
	mu      sync.Mutex
	pages   map[string]*FakePage
	current string
	closed  bool
	events  chan schemas.PageEvent

	// Interaction log.
	Navigations []string
	Clicks      []string
	Typed       map[string]string
	Selected    map[string]string
	Screenshots int

	// Per-method overrides. When set, the override fully replaces the
	// built-in behavior.
	NavigateFunc    func(ctx context.Context, url string, wait schemas.WaitUntil) error
	FindFunc        func(ctx context.Context, locator string) (*ElementHandle, error)
	ClickFunc       func(ctx context.Context, locator string, opts ClickOptions) error
	TypeFunc        func(ctx context.Context, locator, text string, opts TypeOptions) error
	SelectFunc      func(ctx context.Context, locator, value string) error
	EvaluateFunc    func(ctx context.Context, expression string, out any) error
	SnapshotFunc    func(ctx context.Context, hint schemas.PerceptionDepth) (*RawSnapshot, error)
	ScreenshotFunc  func(ctx context.Context) ([]byte, error)
	SnapshotLatency time.Duration
}

var _ Adapter = (*Fake)(nil)

// NewFake returns a fake adapter with no pages loaded.
func NewFake() *Fake {
	return &Fake{
		pages:    make(map[string]*FakePage),
		events:   make(chan schemas.PageEvent, 64),
		Typed:    make(map[string]string),
		Selected: make(map[string]string),
	}
}

// AddPage registers a scripted page under url.
func (f *Fake) AddPage(url string, p *FakePage) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.Elements == nil {
		p.Elements = make(map[string]*ElementHandle)
	}
	f.pages[url] = p
	if f.current == "" {
		f.current = url
	}
	return f
}

// Page returns the current page, or nil before any navigation.
func (f *Fake) Page() *FakePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[f.current]
}

func (f *Fake) publish(ev schemas.PageEvent) {
	select {
	case f.events <- ev:
	default:
	}
}

func (f *Fake) checkClosed() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return NewError(KindSessionClosed, "", nil)
	}
	return nil
}

// Navigate implements Adapter.
func (f *Fake) Navigate(ctx context.Context, url string, wait schemas.WaitUntil) error {
	if f.NavigateFunc != nil {
		return f.NavigateFunc(ctx, url, wait)
	}
	if err := f.checkClosed(); err != nil {
		return err
	}
	f.mu.Lock()
	if _, ok := f.pages[url]; !ok {
		f.pages[url] = &FakePage{Title: url, Elements: make(map[string]*ElementHandle)}
	}
	f.current = url
	f.Navigations = append(f.Navigations, url)
	f.mu.Unlock()

	now := time.Now()
	f.publish(schemas.PageEvent{Type: schemas.EventNavigation, URL: url, At: now})
	f.publish(schemas.PageEvent{Type: schemas.EventDOMReady, At: now})
	f.publish(schemas.PageEvent{Type: schemas.EventLoad, At: now})
	f.publish(schemas.PageEvent{Type: schemas.EventNetworkIdle, At: now})
	return nil
}

func (f *Fake) lookup(locator string) (*ElementHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.pages[f.current]
	if p == nil {
		return nil, NewError(KindNotFound, locator, fmt.Errorf("no page loaded"))
	}
	if h, ok := p.Elements[locator]; ok {
		return h, nil
	}
	return nil, NewError(KindNotFound, locator, nil)
}

// Find implements Adapter.
func (f *Fake) Find(ctx context.Context, locator string) (*ElementHandle, error) {
	if f.FindFunc != nil {
		return f.FindFunc(ctx, locator)
	}
	if err := f.checkClosed(); err != nil {
		return nil, err
	}
	if _, err := lowerLocator(locator); err != nil {
		return nil, err
	}
	return f.lookup(locator)
}

// Click implements Adapter.
func (f *Fake) Click(ctx context.Context, locator string, opts ClickOptions) error {
	if f.ClickFunc != nil {
		return f.ClickFunc(ctx, locator, opts)
	}
	h, err := f.Find(ctx, locator)
	if err != nil {
		return err
	}
	if !h.Visible || !h.Enabled {
		return NewError(KindNotInteractable, locator,
			fmt.Errorf("visible=%v enabled=%v", h.Visible, h.Enabled))
	}
	f.mu.Lock()
	f.Clicks = append(f.Clicks, locator)
	target := ""
	if p := f.pages[f.current]; p != nil && p.Links != nil {
		target = p.Links[locator]
	}
	f.mu.Unlock()
	if target != "" {
		return f.Navigate(ctx, target, schemas.WaitLoad)
	}
	return nil
}

// Type implements Adapter.
func (f *Fake) Type(ctx context.Context, locator, text string, opts TypeOptions) error {
	if f.TypeFunc != nil {
		return f.TypeFunc(ctx, locator, text, opts)
	}
	h, err := f.Find(ctx, locator)
	if err != nil {
		return err
	}
	if !h.Visible || !h.Enabled {
		return NewError(KindNotInteractable, locator, nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.Clear {
		f.Typed[locator] = text
	} else {
		f.Typed[locator] += text
	}
	h.Text = f.Typed[locator]
	return nil
}

// SelectOption implements Adapter.
func (f *Fake) SelectOption(ctx context.Context, locator, value string) error {
	if f.SelectFunc != nil {
		return f.SelectFunc(ctx, locator, value)
	}
	h, err := f.Find(ctx, locator)
	if err != nil {
		return err
	}
	if !h.Visible || !h.Enabled {
		return NewError(KindNotInteractable, locator, nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.pages[f.current]; p != nil && p.Options != nil {
		if allowed, ok := p.Options[locator]; ok {
			matched := false
			for _, v := range allowed {
				if v == value {
					matched = true
					break
				}
			}
			if !matched {
				return NewError(KindNotInteractable, locator, fmt.Errorf("no option %q", value))
			}
		}
	}
	f.Selected[locator] = value
	return nil
}

// Evaluate implements Adapter.
func (f *Fake) Evaluate(ctx context.Context, expression string, out any) error {
	if f.EvaluateFunc != nil {
		return f.EvaluateFunc(ctx, expression, out)
	}
	return f.checkClosed()
}

// SnapshotDOM implements Adapter.
func (f *Fake) SnapshotDOM(ctx context.Context, hint schemas.PerceptionDepth) (*RawSnapshot, error) {
	if f.SnapshotFunc != nil {
		return f.SnapshotFunc(ctx, hint)
	}
	if err := f.checkClosed(); err != nil {
		return nil, err
	}
	if f.SnapshotLatency > 0 {
		select {
		case <-time.After(f.SnapshotLatency):
		case <-ctx.Done():
			return nil, NewError(KindTimeout, "", ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.pages[f.current]
	if p == nil {
		return nil, NewError(KindScriptError, "", fmt.Errorf("no page loaded"))
	}
	return &RawSnapshot{
		URL:        f.current,
		Title:      p.Title,
		ReadyState: "complete",
		HTML:       p.HTML,
		Metrics:    p.Metrics,
		CapturedAt: time.Now(),
	}, nil
}

// Screenshot implements Adapter.
func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	if f.ScreenshotFunc != nil {
		return f.ScreenshotFunc(ctx)
	}
	if err := f.checkClosed(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.Screenshots++
	f.mu.Unlock()
	return []byte("\x89PNG\r\n\x1a\nfake"), nil
}

// Events implements Adapter.
func (f *Fake) Events() <-chan schemas.PageEvent { return f.events }

// CurrentURL implements Adapter.
func (f *Fake) CurrentURL(ctx context.Context) (string, error) {
	if err := f.checkClosed(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

// Close implements Adapter.
func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}
