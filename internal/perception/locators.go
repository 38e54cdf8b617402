// File: internal/perception/locators.go
package perception

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// attrCounts holds per-document occurrence counts used for uniqueness
// checks during locator derivation.
type attrCounts struct {
	ids   map[string]int
	names map[string]int
	data  map[string]int // "attr=value"
	aria  map[string]int
}

func countAttrs(doc *goquery.Document) *attrCounts {
	c := &attrCounts{
		ids:   make(map[string]int),
		names: make(map[string]int),
		data:  make(map[string]int),
		aria:  make(map[string]int),
	}
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		if v, ok := sel.Attr("id"); ok && v != "" {
			c.ids[v]++
		}
		if v, ok := sel.Attr("name"); ok && v != "" {
			c.names[v]++
		}
		if v, ok := sel.Attr("aria-label"); ok && v != "" {
			c.aria[v]++
		}
		for _, a := range sel.Get(0).Attr {
			if strings.HasPrefix(a.Key, "data-") && a.Key != snapshotIDAttr && a.Val != "" {
				c.data[a.Key+"="+a.Val]++
			}
		}
	})
	return c
}

// generatedIDPattern matches framework-minted ids (ember432, react-select-3,
// long hex blobs) that do not survive a reload.
var generatedIDPattern = regexp.MustCompile(`(?i)^(ember\d+|react-[\w-]*\d+|:r[\w]+:|yui_|ext-gen\d+)|[0-9a-f]{12,}`)

func stableID(id string) bool {
	return id != "" && !generatedIDPattern.MatchString(id)
}

// deriveLocators produces a primary locator plus up to maxAlts alternates
// for one element, preferring the most reload-stable addressing available:
// unique id, unique name, accessible name, unique data attribute, composed
// CSS path, structural XPath.
func deriveLocators(sel *goquery.Selection, counts *attrCounts, maxAlts int) (string, []string) {
	var candidates []string

	if id, ok := sel.Attr("id"); ok && stableID(id) && counts.ids[id] == 1 {
		candidates = append(candidates, schemas.Locator{Scheme: schemas.SchemeCSS, Body: "#" + cssEscape(id)}.String())
	}
	tag := goquery.NodeName(sel)
	if name, ok := sel.Attr("name"); ok && name != "" && counts.names[name] == 1 {
		candidates = append(candidates,
			schemas.Locator{Scheme: schemas.SchemeCSS, Body: fmt.Sprintf(`%s[name="%s"]`, tag, name)}.String())
	}
	if label, ok := sel.Attr("aria-label"); ok && label != "" && counts.aria[label] == 1 {
		candidates = append(candidates, schemas.Locator{Scheme: schemas.SchemeARIA, Body: label}.String())
	}
	if node := sel.Get(0); node != nil {
		for _, a := range node.Attr {
			if strings.HasPrefix(a.Key, "data-") && a.Key != snapshotIDAttr &&
				a.Val != "" && counts.data[a.Key+"="+a.Val] == 1 {
				candidates = append(candidates,
					schemas.Locator{Scheme: schemas.SchemeCSS, Body: fmt.Sprintf(`[%s="%s"]`, a.Key, a.Val)}.String())
				break
			}
		}
	}
	candidates = append(candidates,
		schemas.Locator{Scheme: schemas.SchemeCSS, Body: cssPath(sel)}.String(),
		schemas.Locator{Scheme: schemas.SchemeXPath, Body: xpathOf(sel)}.String(),
	)
	// Short distinctive text makes a usable last-resort alternate.
	if text := strings.TrimSpace(sel.Text()); text != "" && len(text) <= 40 && !strings.ContainsAny(text, "\n\t") {
		candidates = append(candidates, schemas.Locator{Scheme: schemas.SchemeText, Body: text}.String())
	}

	primary := candidates[0]
	alts := candidates[1:]
	if len(alts) > maxAlts {
		alts = alts[:maxAlts]
	}
	return primary, alts
}

// cssPath composes a short descendant selector, walking up at most three
// ancestors and anchoring on the nearest stable id when one exists.
func cssPath(sel *goquery.Selection) string {
	var parts []string
	cur := sel
	for depth := 0; depth < 4 && cur.Length() > 0; depth++ {
		node := cur.Get(0)
		if node == nil || node.Type != html.ElementNode || node.Data == "html" {
			break
		}
		if id, ok := cur.Attr("id"); ok && stableID(id) {
			parts = append([]string{"#" + cssEscape(id)}, parts...)
			break
		}
		parts = append([]string{segmentFor(cur)}, parts...)
		cur = cur.Parent()
	}
	if len(parts) == 0 {
		return goquery.NodeName(sel)
	}
	return strings.Join(parts, " > ")
}

func segmentFor(sel *goquery.Selection) string {
	tag := goquery.NodeName(sel)
	seg := tag
	if class, ok := sel.Attr("class"); ok {
		for _, c := range strings.Fields(class) {
			if len(c) > 1 && len(c) < 30 && !strings.ContainsAny(c, ":[](){}") {
				seg += "." + cssEscape(c)
				break
			}
		}
	}
	if idx := indexAmongSiblings(sel, tag); idx > 0 {
		seg += fmt.Sprintf(":nth-of-type(%d)", idx)
	}
	return seg
}

// indexAmongSiblings returns the element's 1-based position among same-tag
// siblings, or 0 when it is the only one.
func indexAmongSiblings(sel *goquery.Selection, tag string) int {
	node := sel.Get(0)
	if node == nil || node.Parent == nil {
		return 0
	}
	idx, total := 0, 0
	for c := node.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == node.Data {
			total++
			if c == node {
				idx = total
			}
		}
	}
	if total <= 1 {
		return 0
	}
	return idx
}

// xpathOf builds an absolute positional XPath.
func xpathOf(sel *goquery.Selection) string {
	var parts []string
	node := sel.Get(0)
	for node != nil && node.Type == html.ElementNode {
		idx := 1
		for c := node.Parent.FirstChild; c != nil && c != node; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == node.Data {
				idx++
			}
		}
		parts = append([]string{fmt.Sprintf("%s[%d]", node.Data, idx)}, parts...)
		if node.Parent == nil || node.Parent.Type != html.ElementNode {
			break
		}
		node = node.Parent
	}
	return "/" + strings.Join(parts, "/")
}

// cssEscape escapes characters that break CSS identifiers.
func cssEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteString("\\" + string(r))
		}
	}
	return b.String()
}
