// File: api/schemas/browser.go
package schemas

import (
	"fmt"
	"strings"
	"time"
)

// LocatorScheme identifies how a locator body should be interpreted.
type LocatorScheme string

const (
	SchemeCSS   LocatorScheme = "css"
	SchemeXPath LocatorScheme = "xpath"
	SchemeText  LocatorScheme = "text"
	SchemeARIA  LocatorScheme = "aria"
)

// Locator is the parsed form of the single-string locator grammar
// "<scheme>=<body>". The default scheme is css.
type Locator struct {
	Scheme LocatorScheme
	Body   string
}

// ParseLocator splits a locator string into scheme and body. A missing or
// unrecognized prefix defaults to css so unprefixed selectors stay usable.
func ParseLocator(s string) (Locator, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}
	if idx := strings.Index(s, "="); idx > 0 {
		scheme := LocatorScheme(strings.ToLower(s[:idx]))
		switch scheme {
		case SchemeCSS, SchemeXPath, SchemeText, SchemeARIA:
			body := s[idx+1:]
			if body == "" {
				return Locator{}, fmt.Errorf("locator %q has an empty body", s)
			}
			return Locator{Scheme: scheme, Body: body}, nil
		}
		// Not a recognized scheme prefix; treat the whole string as CSS.
		// This keeps selectors like `input[name=q]` working unprefixed.
	}
	return Locator{Scheme: SchemeCSS, Body: s}, nil
}

// String renders the locator back into the wire grammar.
func (l Locator) String() string {
	return string(l.Scheme) + "=" + l.Body
}

// WaitUntil names the navigation settle point.
type WaitUntil string

const (
	WaitDOMReady    WaitUntil = "dom_ready"
	WaitLoad        WaitUntil = "load"
	WaitNetworkIdle WaitUntil = "network_idle"
)

// PageStatus reflects the load state observed at snapshot time.
type PageStatus string

const (
	PageLoading PageStatus = "loading"
	PageReady   PageStatus = "ready"
	PageErrored PageStatus = "errored"
)

// PerceptionDepth selects one of the four perception tiers.
type PerceptionDepth string

const (
	DepthLightning PerceptionDepth = "lightning"
	DepthQuick     PerceptionDepth = "quick"
	DepthStandard  PerceptionDepth = "standard"
	DepthDeep      PerceptionDepth = "deep"
)

// Budget returns the latency budget for a depth tier.
func (d PerceptionDepth) Budget() time.Duration {
	switch d {
	case DepthLightning:
		return 50 * time.Millisecond
	case DepthQuick:
		return 200 * time.Millisecond
	case DepthStandard:
		return 500 * time.Millisecond
	case DepthDeep:
		return 1000 * time.Millisecond
	}
	return 500 * time.Millisecond
}

// Valid reports whether d names one of the four tiers.
func (d PerceptionDepth) Valid() bool {
	switch d {
	case DepthLightning, DepthQuick, DepthStandard, DepthDeep:
		return true
	}
	return false
}

// rank orders the tiers from shallowest to deepest.
func (d PerceptionDepth) rank() int {
	switch d {
	case DepthLightning:
		return 0
	case DepthQuick:
		return 1
	case DepthStandard:
		return 2
	case DepthDeep:
		return 3
	}
	return 2
}

// AtLeast reports whether d covers everything the other tier guarantees.
func (d PerceptionDepth) AtLeast(other PerceptionDepth) bool {
	return d.rank() >= other.rank()
}

// ElementRole classifies a perceived DOM element.
type ElementRole string

const (
	RoleButton    ElementRole = "button"
	RoleLink      ElementRole = "link"
	RoleInput     ElementRole = "input"
	RoleSelect    ElementRole = "select"
	RoleTextArea  ElementRole = "textarea"
	RoleCheckbox  ElementRole = "checkbox"
	RoleRadio     ElementRole = "radio"
	RoleForm      ElementRole = "form"
	RoleContainer ElementRole = "container"
	RoleMedia     ElementRole = "media"
	RoleText      ElementRole = "text"
	RoleUnknown   ElementRole = "unknown"
)

// Interactive reports whether the role represents something a plan step
// can act on directly.
func (r ElementRole) Interactive() bool {
	switch r {
	case RoleButton, RoleLink, RoleInput, RoleSelect, RoleTextArea, RoleCheckbox, RoleRadio:
		return true
	}
	return false
}

// BoundingBox is an element's viewport-relative rectangle in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PerceivedElement is one observed DOM element.
type PerceivedElement struct {
	Locator     string            `json:"locator"`
	Role        ElementRole       `json:"role"`
	Text        string            `json:"text,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Box         BoundingBox       `json:"box"`
	Visible     bool              `json:"visible"`
	Enabled     bool              `json:"enabled"`
	Confidence  float64           `json:"confidence"`
	AltLocators []string          `json:"alt_locators,omitempty"`
}

// LayoutClass is a coarse classification of the overall page structure.
type LayoutClass string

const (
	LayoutLanding LayoutClass = "landing"
	LayoutFormal  LayoutClass = "form"
	LayoutListing LayoutClass = "listing"
	LayoutArticle LayoutClass = "article"
	LayoutGeneric LayoutClass = "generic"
)

// LayoutHints are the coarse layout signals extracted at Quick depth and above.
type LayoutHints struct {
	HasHeader   bool        `json:"has_header"`
	HasNav      bool        `json:"has_nav"`
	HasSidebar  bool        `json:"has_sidebar"`
	MainContent string      `json:"main_content,omitempty"`
	Class       LayoutClass `json:"class,omitempty"`
}

// FormField describes a single field inside a form inventory.
type FormField struct {
	Locator     string `json:"locator"`
	Name        string `json:"name,omitempty"`
	Type        string `json:"type,omitempty"`
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Required    bool   `json:"required"`
}

// FormDescriptor is the inventory of one form on the page.
type FormDescriptor struct {
	Locator       string      `json:"locator"`
	Name          string      `json:"name,omitempty"`
	Action        string      `json:"action,omitempty"`
	Method        string      `json:"method,omitempty"`
	Fields        []FormField `json:"fields,omitempty"`
	SubmitLocator string      `json:"submit_locator,omitempty"`
}

// UrgentSignal flags a modal, error banner, or similar attention-demanding
// element found during Lightning perception.
type UrgentSignal struct {
	Kind    string `json:"kind"`
	Locator string `json:"locator"`
	Text    string `json:"text,omitempty"`
}

// RegionAffordance summarizes what a page region invites the user to do.
// Only populated at Deep depth.
type RegionAffordance struct {
	Region  string   `json:"region"`
	Intents []string `json:"intents"`
}

// PerceptionSnapshot is an immutable, time-stamped description of the page
// at a chosen depth. The (URL, Title, CapturedAt, Depth) tuple uniquely
// identifies a snapshot.
type PerceptionSnapshot struct {
	Depth       PerceptionDepth    `json:"depth"`
	URL         string             `json:"url"`
	Title       string             `json:"title"`
	CapturedAt  time.Time          `json:"captured_at"`
	Status      PageStatus         `json:"status"`
	Elements    []PerceivedElement `json:"elements"`
	Layout      LayoutHints        `json:"layout"`
	Forms       []FormDescriptor   `json:"forms,omitempty"`
	Urgent      []UrgentSignal     `json:"urgent,omitempty"`
	Affordances []RegionAffordance `json:"affordances,omitempty"`
	Truncated   bool               `json:"truncated"`
	DurationMs  int64              `json:"duration_ms"`
}

// FindElement returns the first element whose locator matches, or nil.
func (s *PerceptionSnapshot) FindElement(locator string) *PerceivedElement {
	for i := range s.Elements {
		if s.Elements[i].Locator == locator {
			return &s.Elements[i]
		}
		for _, alt := range s.Elements[i].AltLocators {
			if alt == locator {
				return &s.Elements[i]
			}
		}
	}
	return nil
}

// PageEventType categorizes events reported by the browser adapter.
type PageEventType string

const (
	EventNavigation  PageEventType = "navigation"
	EventDOMReady    PageEventType = "dom_ready"
	EventLoad        PageEventType = "load"
	EventNetworkIdle PageEventType = "network_idle"
	EventRequest     PageEventType = "request"
	EventResponse    PageEventType = "response"
	EventPageError   PageEventType = "page_error"
)

// PageEvent is one page lifecycle or network event.
type PageEvent struct {
	Type   PageEventType `json:"type"`
	URL    string        `json:"url,omitempty"`
	Detail string        `json:"detail,omitempty"`
	At     time.Time     `json:"at"`
}
