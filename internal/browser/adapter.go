// File: internal/browser/adapter.go
package browser

import (
	"context"
	"time"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// ElementHandle is the adapter's view of a resolved element. It is a
// point-in-time observation, not a live reference.
type ElementHandle struct {
	Locator string
	Tag     string
	Text    string
	Visible bool
	Enabled bool
	Box     schemas.BoundingBox
}

// NodeMetrics carry per-element geometry joined to the HTML payload by the
// synthetic element id the snapshot script assigns.
type NodeMetrics struct {
	Box     schemas.BoundingBox `json:"box"`
	Visible bool                `json:"visible"`
	Enabled bool                `json:"enabled"`
}

// RawSnapshot is the structural payload the perception engine consumes.
// Elements in HTML carry a data-wp-eid attribute keying into Metrics; a
// payload without metrics is still usable (visibility is then inferred
// from markup alone).
type RawSnapshot struct {
	URL        string                 `json:"url"`
	Title      string                 `json:"title"`
	ReadyState string                 `json:"ready_state"`
	HTML       string                 `json:"html"`
	Metrics    map[string]NodeMetrics `json:"metrics,omitempty"`
	CapturedAt time.Time              `json:"captured_at"`
}

// ClickOptions tune a click interaction.
type ClickOptions struct {
	Button string // "left" (default), "middle", "right"
}

// TypeOptions tune a typing interaction.
type TypeOptions struct {
	Clear bool
}

// Adapter is the thin contract over a headless browser. Implementations
// must return typed *Error values for operational failures so the executor
// can route them through its fallback chain.
type Adapter interface {
	// Navigate loads url and blocks until wait fires or the context expires.
	Navigate(ctx context.Context, url string, wait schemas.WaitUntil) error
	// Find resolves a locator to a handle or fails with KindNotFound.
	Find(ctx context.Context, locator string) (*ElementHandle, error)
	// Click fails with KindNotInteractable when the element is hidden,
	// disabled, or detached.
	Click(ctx context.Context, locator string, opts ClickOptions) error
	Type(ctx context.Context, locator, text string, opts TypeOptions) error
	SelectOption(ctx context.Context, locator, value string) error
	// Evaluate runs an expression in page context and decodes the JSON
	// result into out (which may be nil).
	Evaluate(ctx context.Context, expression string, out any) error
	// SnapshotDOM returns the raw structural payload for perception. The
	// depth hint bounds how much of the page is serialized.
	SnapshotDOM(ctx context.Context, hint schemas.PerceptionDepth) (*RawSnapshot, error)
	Screenshot(ctx context.Context) ([]byte, error)
	// Events returns the page lifecycle/network event stream for the
	// adapter's lifetime. The channel closes when the adapter closes.
	Events() <-chan schemas.PageEvent
	CurrentURL(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// Factory creates one adapter per session. The coordinator owns the
// returned adapter's lifecycle.
type Factory func(ctx context.Context) (Adapter, error)
