// File: internal/browser/locator.go
package browser

import (
	"fmt"
	"strings"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// resolvedQuery is a locator lowered to something a CDP driver understands:
// either a CSS selector or an XPath expression.
type resolvedQuery struct {
	selector string
	isXPath  bool
}

// lowerLocator translates the locator grammar into a concrete query.
// text= and aria= schemes are rewritten; css= and xpath= pass through.
func lowerLocator(raw string) (resolvedQuery, error) {
	loc, err := schemas.ParseLocator(raw)
	if err != nil {
		return resolvedQuery{}, NewError(KindInvalidLocator, raw, err)
	}
	switch loc.Scheme {
	case schemas.SchemeCSS:
		return resolvedQuery{selector: loc.Body}, nil
	case schemas.SchemeXPath:
		return resolvedQuery{selector: loc.Body, isXPath: true}, nil
	case schemas.SchemeText:
		// Normalized containment match over visible text.
		return resolvedQuery{
			selector: fmt.Sprintf(`//*[contains(normalize-space(.), %s)][not(.//*[contains(normalize-space(.), %s)])]`,
				xpathLiteral(loc.Body), xpathLiteral(loc.Body)),
			isXPath: true,
		}, nil
	case schemas.SchemeARIA:
		return resolvedQuery{selector: fmt.Sprintf(`[aria-label=%q]`, loc.Body)}, nil
	}
	return resolvedQuery{}, NewError(KindInvalidLocator, raw, fmt.Errorf("unsupported scheme %q", loc.Scheme))
}

// xpathLiteral quotes an arbitrary string as an XPath 1.0 literal.
// XPath 1.0 has no escaping, so strings containing both quote kinds are
// assembled with concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `'`) {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, `'`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, "'", `)
		}
		b.WriteString("'" + p + "'")
	}
	b.WriteString(")")
	return b.String()
}
