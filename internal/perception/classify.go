// File: internal/perception/classify.go
package perception

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// Rule priors. The first rule in the chain that fires decides both the role
// and the confidence.
const (
	weightSemanticTag   = 0.95
	weightARIARole      = 0.90
	weightAttrSkeleton  = 0.70
	weightTextHeuristic = 0.50
	weightStructural    = 0.40
	weightUnknown       = 0.20
)

var containerTags = map[string]bool{
	"div": true, "section": true, "article": true, "main": true,
	"aside": true, "header": true, "footer": true, "nav": true,
	"ul": true, "ol": true, "li": true, "table": true, "fieldset": true,
}

var textTags = map[string]bool{
	"p": true, "span": true, "label": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "strong": true,
	"em": true, "small": true, "blockquote": true, "pre": true, "code": true,
}

var mediaTags = map[string]bool{
	"img": true, "video": true, "audio": true, "svg": true,
	"canvas": true, "picture": true, "iframe": true,
}

var buttonTexts = map[string]bool{
	"submit": true, "search": true, "go": true, "ok": true, "sign in": true,
	"log in": true, "login": true, "sign up": true, "register": true,
	"continue": true, "next": true, "back": true, "cancel": true,
	"close": true, "save": true, "send": true, "buy": true, "add to cart": true,
	"checkout": true, "apply": true, "confirm": true, "accept": true,
}

// classify determines an element's role via the priority rule chain:
// semantic tag, then ARIA role, then attribute skeleton, then text
// heuristics. The first rule that fires wins; its prior weight becomes the
// element's confidence.
func classify(sel *goquery.Selection) (schemas.ElementRole, float64) {
	node := sel.Get(0)
	if node == nil || node.Type != html.ElementNode {
		return schemas.RoleUnknown, weightUnknown
	}
	tag := strings.ToLower(node.Data)

	// (i) semantic tag
	if role, ok := semanticRole(tag, sel); ok {
		return role, weightSemanticTag
	}

	// (ii) explicit ARIA role
	if role, ok := ariaRole(sel.AttrOr("role", "")); ok {
		return role, weightARIARole
	}

	// (iii) attribute skeleton
	if role, ok := attrSkeletonRole(tag, sel); ok {
		return role, weightAttrSkeleton
	}

	// (iv) text / placeholder heuristics
	if role, ok := textHeuristicRole(tag, sel); ok {
		return role, weightTextHeuristic
	}

	// Structural fallback keeps non-interactive markup usable for layout
	// analysis without inflating its confidence.
	switch {
	case containerTags[tag]:
		return schemas.RoleContainer, weightStructural
	case textTags[tag]:
		return schemas.RoleText, weightStructural
	case mediaTags[tag]:
		return schemas.RoleMedia, weightStructural
	}
	return schemas.RoleUnknown, weightUnknown
}

func semanticRole(tag string, sel *goquery.Selection) (schemas.ElementRole, bool) {
	switch tag {
	case "button":
		return schemas.RoleButton, true
	case "a":
		if _, ok := sel.Attr("href"); ok {
			return schemas.RoleLink, true
		}
	case "select":
		return schemas.RoleSelect, true
	case "textarea":
		return schemas.RoleTextArea, true
	case "form":
		return schemas.RoleForm, true
	case "input":
		switch strings.ToLower(sel.AttrOr("type", "text")) {
		case "checkbox":
			return schemas.RoleCheckbox, true
		case "radio":
			return schemas.RoleRadio, true
		case "submit", "button", "image", "reset":
			return schemas.RoleButton, true
		case "hidden":
			return schemas.RoleUnknown, false
		default:
			return schemas.RoleInput, true
		}
	}
	return schemas.RoleUnknown, false
}

func ariaRole(role string) (schemas.ElementRole, bool) {
	switch strings.ToLower(role) {
	case "button":
		return schemas.RoleButton, true
	case "link":
		return schemas.RoleLink, true
	case "textbox", "searchbox":
		return schemas.RoleInput, true
	case "combobox", "listbox":
		return schemas.RoleSelect, true
	case "checkbox", "switch":
		return schemas.RoleCheckbox, true
	case "radio":
		return schemas.RoleRadio, true
	case "form":
		return schemas.RoleForm, true
	case "img":
		return schemas.RoleMedia, true
	}
	return schemas.RoleUnknown, false
}

func attrSkeletonRole(tag string, sel *goquery.Selection) (schemas.ElementRole, bool) {
	class := strings.ToLower(sel.AttrOr("class", ""))
	switch {
	case strings.Contains(class, "btn") || strings.Contains(class, "button"):
		return schemas.RoleButton, true
	case tag == "input" && strings.Contains(class, "search"):
		return schemas.RoleInput, true
	case strings.Contains(class, "link") && tag != "link":
		return schemas.RoleLink, true
	}
	// Tabbable or click-wired generic elements behave like buttons.
	if _, hasClick := sel.Attr("onclick"); hasClick && (tag == "div" || tag == "span") {
		return schemas.RoleButton, true
	}
	return schemas.RoleUnknown, false
}

func textHeuristicRole(tag string, sel *goquery.Selection) (schemas.ElementRole, bool) {
	if tag != "div" && tag != "span" && tag != "a" {
		return schemas.RoleUnknown, false
	}
	text := strings.ToLower(strings.TrimSpace(sel.Text()))
	if len(text) > 0 && len(text) <= 24 && buttonTexts[text] {
		return schemas.RoleButton, true
	}
	if p := strings.ToLower(sel.AttrOr("placeholder", "")); strings.Contains(p, "search") {
		return schemas.RoleInput, true
	}
	return schemas.RoleUnknown, false
}
