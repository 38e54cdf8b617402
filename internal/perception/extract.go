// File: internal/perception/extract.go
package perception

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
)

// snapshotIDAttr is the synthetic id the adapter stamps on every serialized
// element, keying into RawSnapshot.Metrics.
const snapshotIDAttr = "data-wp-eid"

// attributeWhitelist bounds the attribute map carried on each element.
var attributeWhitelist = []string{
	"id", "class", "name", "type", "placeholder", "aria-label", "href", "value",
}

// extractor turns one RawSnapshot into perception artifacts. It is built
// once per perception request and discarded.
type extractor struct {
	raw    *browser.RawSnapshot
	doc    *goquery.Document
	counts *attrCounts
	cfg    extractConfig
}

type extractConfig struct {
	maxTextLength int
}

func newExtractor(raw *browser.RawSnapshot, cfg extractConfig) (*extractor, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.HTML))
	if err != nil {
		return nil, err
	}
	return &extractor{raw: raw, doc: doc, counts: countAttrs(doc), cfg: cfg}, nil
}

// metricsFor joins an element back to its adapter-reported geometry. When
// the payload carries no metrics, visibility is inferred from markup alone.
func (x *extractor) metricsFor(sel *goquery.Selection) browser.NodeMetrics {
	if eid, ok := sel.Attr(snapshotIDAttr); ok {
		if m, ok := x.raw.Metrics[eid]; ok {
			return m
		}
	}
	_, disabled := sel.Attr("disabled")
	hidden := sel.AttrOr("type", "") == "hidden" ||
		strings.Contains(sel.AttrOr("style", ""), "display:none") ||
		strings.Contains(sel.AttrOr("style", ""), "display: none")
	return browser.NodeMetrics{Visible: !hidden, Enabled: !disabled}
}

func (x *extractor) boundedText(sel *goquery.Selection) string {
	text := strings.Join(strings.Fields(sel.Text()), " ")
	if x.cfg.maxTextLength > 0 && len(text) > x.cfg.maxTextLength {
		text = text[:x.cfg.maxTextLength]
	}
	return text
}

func (x *extractor) attributes(sel *goquery.Selection) map[string]string {
	var attrs map[string]string
	for _, key := range attributeWhitelist {
		if v, ok := sel.Attr(key); ok && v != "" {
			if attrs == nil {
				attrs = make(map[string]string, 4)
			}
			attrs[key] = v
		}
	}
	return attrs
}

// perceive converts one matched node into a PerceivedElement.
func (x *extractor) perceive(sel *goquery.Selection, maxAlts int) schemas.PerceivedElement {
	role, confidence := classify(sel)
	primary, alts := deriveLocators(sel, x.counts, maxAlts)
	m := x.metricsFor(sel)
	return schemas.PerceivedElement{
		Locator:     primary,
		Role:        role,
		Text:        x.boundedText(sel),
		Attributes:  x.attributes(sel),
		Box:         m.Box,
		Visible:     m.Visible,
		Enabled:     m.Enabled,
		Confidence:  confidence,
		AltLocators: alts,
	}
}

// interactiveSelector matches everything the rule chain can classify as
// actionable without walking the whole tree.
const interactiveSelector = `button, a[href], input, select, textarea, [role=button], [role=link], [role=textbox], [role=searchbox], [role=combobox], [role=checkbox], [role=radio], [onclick], [class*=btn], [class*=button]`

// interactiveElements returns actionable elements in document order,
// deduplicated, capped at limit (0 means no cap).
func (x *extractor) interactiveElements(limit, maxAlts int) []schemas.PerceivedElement {
	seen := make(map[string]bool)
	var out []schemas.PerceivedElement
	x.doc.Find(interactiveSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		el := x.perceive(sel, maxAlts)
		if !el.Role.Interactive() || seen[el.Locator] {
			return true
		}
		seen[el.Locator] = true
		out = append(out, el)
		return limit == 0 || len(out) < limit
	})
	return out
}

// fullInventory returns every visible element plus all interactive ones,
// in document order.
func (x *extractor) fullInventory(maxAlts int) []schemas.PerceivedElement {
	seen := make(map[string]bool)
	var out []schemas.PerceivedElement
	x.doc.Find("body *").Each(func(_ int, sel *goquery.Selection) {
		tag := goquery.NodeName(sel)
		if tag == "script" || tag == "style" || tag == "noscript" || tag == "template" {
			return
		}
		el := x.perceive(sel, maxAlts)
		if seen[el.Locator] {
			return
		}
		if !el.Visible && !el.Role.Interactive() {
			return
		}
		seen[el.Locator] = true
		out = append(out, el)
	})
	return out
}

// salientKeywords boost elements a task is likely to act on first.
var salientKeywords = []string{"login", "log in", "sign in", "search", "submit", "buy", "checkout", "continue", "next", "accept"}

// salience orders candidate elements for the Lightning top-K cut. Higher
// is more salient.
func salience(el *schemas.PerceivedElement) float64 {
	s := el.Confidence
	if el.Visible {
		s += 0.5
	}
	if el.Enabled {
		s += 0.1
	}
	// Above-the-fold elements get acted on more often.
	if el.Box.Height > 0 && el.Box.Y >= 0 && el.Box.Y < 800 {
		s += 0.3
	}
	lower := strings.ToLower(el.Text + " " + el.Attributes["aria-label"] + " " + el.Attributes["placeholder"])
	for _, kw := range salientKeywords {
		if strings.Contains(lower, kw) {
			s += 0.4
			break
		}
	}
	return s
}

// topSalient returns the k most salient interactive elements, re-emitted
// in original document order so composition is deterministic.
func topSalient(elements []schemas.PerceivedElement, k int) []schemas.PerceivedElement {
	if len(elements) <= k {
		return elements
	}
	type ranked struct {
		idx   int
		score float64
	}
	rank := make([]ranked, len(elements))
	for i := range elements {
		rank[i] = ranked{idx: i, score: salience(&elements[i])}
	}
	sort.SliceStable(rank, func(i, j int) bool {
		if rank[i].score != rank[j].score {
			return rank[i].score > rank[j].score
		}
		return rank[i].idx < rank[j].idx
	})
	keep := make([]bool, len(elements))
	for _, r := range rank[:k] {
		keep[r.idx] = true
	}
	out := make([]schemas.PerceivedElement, 0, k)
	for i := range elements {
		if keep[i] {
			out = append(out, elements[i])
		}
	}
	return out
}

// urgentSignals finds modals and error banners that demand attention
// before anything else on the page.
func (x *extractor) urgentSignals() []schemas.UrgentSignal {
	var out []schemas.UrgentSignal
	add := func(kind string, sel *goquery.Selection) {
		m := x.metricsFor(sel)
		if !m.Visible {
			return
		}
		primary, _ := deriveLocators(sel, x.counts, 0)
		out = append(out, schemas.UrgentSignal{Kind: kind, Locator: primary, Text: x.boundedText(sel)})
	}
	x.doc.Find(`[role=dialog], [role=alertdialog], dialog[open], [class*=modal]`).Each(func(_ int, sel *goquery.Selection) {
		add("modal", sel)
	})
	x.doc.Find(`[role=alert], [class*=error], [class*=alert-danger]`).Each(func(_ int, sel *goquery.Selection) {
		if strings.TrimSpace(sel.Text()) != "" {
			add("error_banner", sel)
		}
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// layoutHints derives the coarse structure signals for Quick depth and above.
func (x *extractor) layoutHints() schemas.LayoutHints {
	hints := schemas.LayoutHints{
		HasHeader:  x.doc.Find("header, [role=banner]").Length() > 0,
		HasNav:     x.doc.Find("nav, [role=navigation]").Length() > 0,
		HasSidebar: x.doc.Find("aside, [class*=sidebar]").Length() > 0,
	}
	if main := x.doc.Find("main, [role=main]").First(); main.Length() > 0 {
		primary, _ := deriveLocators(main, x.counts, 0)
		hints.MainContent = primary
	}
	hints.Class = x.classifyLayout()
	return hints
}

func (x *extractor) classifyLayout() schemas.LayoutClass {
	forms := x.doc.Find("form").Length()
	inputs := x.doc.Find("input, select, textarea").Length()
	articles := x.doc.Find("article").Length()
	listItems := x.doc.Find("li, [class*=card], [class*=result]").Length()
	paragraphs := x.doc.Find("p").Length()

	switch {
	case forms > 0 && inputs >= 3:
		return schemas.LayoutFormal
	case listItems >= 10:
		return schemas.LayoutListing
	case articles > 0 || paragraphs >= 8:
		return schemas.LayoutArticle
	case x.doc.Find("h1").Length() > 0 && paragraphs < 4 && x.doc.Find("a[href]").Length() >= 5:
		return schemas.LayoutLanding
	}
	return schemas.LayoutGeneric
}

// forms inventories every form with its fields and submit control.
func (x *extractor) forms() []schemas.FormDescriptor {
	var out []schemas.FormDescriptor
	x.doc.Find("form").Each(func(_ int, formSel *goquery.Selection) {
		primary, _ := deriveLocators(formSel, x.counts, 0)
		desc := schemas.FormDescriptor{
			Locator: primary,
			Name:    formSel.AttrOr("name", formSel.AttrOr("id", "")),
			Action:  formSel.AttrOr("action", ""),
			Method:  strings.ToUpper(formSel.AttrOr("method", "GET")),
		}
		formSel.Find("input, select, textarea").Each(func(_ int, fieldSel *goquery.Selection) {
			fieldType := strings.ToLower(fieldSel.AttrOr("type", "text"))
			if fieldType == "hidden" {
				return
			}
			fieldLoc, _ := deriveLocators(fieldSel, x.counts, 0)
			_, required := fieldSel.Attr("required")
			desc.Fields = append(desc.Fields, schemas.FormField{
				Locator:     fieldLoc,
				Name:        fieldSel.AttrOr("name", ""),
				Type:        fieldType,
				Label:       x.labelFor(fieldSel),
				Placeholder: fieldSel.AttrOr("placeholder", ""),
				Required:    required,
			})
		})
		if submit := formSel.Find(`button[type=submit], input[type=submit], button:not([type])`).First(); submit.Length() > 0 {
			submitLoc, _ := deriveLocators(submit, x.counts, 0)
			desc.SubmitLocator = submitLoc
		}
		out = append(out, desc)
	})
	return out
}

// labelFor resolves a field's accessible name from aria-label, a label[for]
// reference, or a wrapping label element.
func (x *extractor) labelFor(field *goquery.Selection) string {
	if label := field.AttrOr("aria-label", ""); label != "" {
		return label
	}
	if id, ok := field.Attr("id"); ok && id != "" {
		if label := x.doc.Find(`label[for="` + id + `"]`).First(); label.Length() > 0 {
			return strings.TrimSpace(label.Text())
		}
	}
	if wrapper := field.Closest("label"); wrapper.Length() > 0 {
		return strings.Join(strings.Fields(wrapper.Text()), " ")
	}
	return ""
}

// regionAffordances summarizes, per landmark region, the intents the page
// invites. Deep depth only.
func (x *extractor) regionAffordances() []schemas.RegionAffordance {
	regions := []struct {
		name string
		sel  string
	}{
		{"header", "header, [role=banner]"},
		{"nav", "nav, [role=navigation]"},
		{"main", "main, [role=main], body"},
		{"footer", "footer, [role=contentinfo]"},
	}
	var out []schemas.RegionAffordance
	for _, region := range regions {
		root := x.doc.Find(region.sel).First()
		if root.Length() == 0 {
			continue
		}
		intents := regionIntents(root)
		if len(intents) > 0 {
			out = append(out, schemas.RegionAffordance{Region: region.name, Intents: intents})
		}
	}
	return out
}

func regionIntents(root *goquery.Selection) []string {
	var intents []string
	add := func(intent string) {
		for _, existing := range intents {
			if existing == intent {
				return
			}
		}
		intents = append(intents, intent)
	}
	if root.Find(`input[type=search], [role=searchbox], input[placeholder*=earch]`).Length() > 0 {
		add("search")
	}
	if root.Find("form").Length() > 0 {
		add("form_fill")
	}
	if root.Find("a[href]").Length() >= 3 {
		add("navigate")
	}
	text := strings.ToLower(root.Text())
	if strings.Contains(text, "sign in") || strings.Contains(text, "log in") || strings.Contains(text, "login") {
		add("authenticate")
	}
	if strings.Contains(text, "add to cart") || strings.Contains(text, "buy") || strings.Contains(text, "checkout") {
		add("purchase")
	}
	return intents
}
