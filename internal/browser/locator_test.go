// File: internal/browser/locator_test.go
package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLowerLocator(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		wantSel  string
		wantXPth bool
	}{
		{
			name:    "css passthrough",
			input:   "css=#login > button.submit",
			wantSel: "#login > button.submit",
		},
		{
			name:    "bare selector defaults to css",
			input:   "#search-input",
			wantSel: "#search-input",
		},
		{
			name:     "xpath passthrough",
			input:    "xpath=//button[@type='submit']",
			wantSel:  "//button[@type='submit']",
			wantXPth: true,
		},
		{
			name:    "aria rewrites to attribute selector",
			input:   "aria=Close dialog",
			wantSel: `[aria-label="Close dialog"]`,
		},
		{
			name:     "text rewrites to innermost normalized match",
			input:    "text=Sign in",
			wantSel:  `//*[contains(normalize-space(.), 'Sign in')][not(.//*[contains(normalize-space(.), 'Sign in')])]`,
			wantXPth: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := lowerLocator(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSel, q.selector)
			assert.Equal(t, tc.wantXPth, q.isXPath)
		})
	}
}

func TestLowerLocatorEmpty(t *testing.T) {
	_, err := lowerLocator("")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidLocator))
}

func TestXPathLiteral(t *testing.T) {
	testCases := []struct {
		input string
		want  string
	}{
		{"plain", "'plain'"},
		{`has "double" quotes`, `'has "double" quotes'`},
		{"has 'single' quotes", `"has 'single' quotes"`},
		{`both "and" 'kinds'`, `concat('both "and" ', "'", 'kinds', "'", '')`},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, xpathLiteral(tc.input), "input %q", tc.input)
	}
}
