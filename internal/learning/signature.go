// File: internal/learning/signature.go
package learning

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// PhraseSignature hashes a tokenized utterance phrase into a stable
// pattern signature. Token order is preserved; case and surrounding
// whitespace are not significant.
func PhraseSignature(tokens []string) uint64 {
	h := xxhash.New()
	for _, tok := range tokens {
		h.WriteString(strings.ToLower(tok))
		h.WriteString("\x1f")
	}
	return h.Sum64()
}

// ElementSignature hashes an element's role plus its attribute skeleton.
// Attribute values are deliberately excluded so the signature survives
// content changes; keys alone describe the shape.
func ElementSignature(role schemas.ElementRole, attributes map[string]string) uint64 {
	keys := make([]string, 0, len(attributes))
	for k := range attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	h.WriteString(string(role))
	h.WriteString("\x1f")
	for _, k := range keys {
		h.WriteString(k)
		h.WriteString("\x1f")
	}
	return h.Sum64()
}

// StepSignature derives the signature recorded for one plan step: the
// element skeleton when a target is known, otherwise the step's keyword
// phrase.
func StepSignature(step *schemas.ActionStep, target *schemas.PerceivedElement) uint64 {
	if target != nil {
		return ElementSignature(target.Role, target.Attributes)
	}
	if len(step.Keywords) > 0 {
		return PhraseSignature(step.Keywords)
	}
	return PhraseSignature([]string{string(step.Kind), step.Locator})
}
