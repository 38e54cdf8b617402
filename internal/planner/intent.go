// File: internal/planner/intent.go
package planner

import (
	"regexp"
	"strings"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/learning"
)

// actionCategory groups the verb vocabulary the classifier recognizes.
type actionCategory string

const (
	catNavigate   actionCategory = "navigate"
	catClick      actionCategory = "click"
	catType       actionCategory = "type"
	catSelect     actionCategory = "select"
	catSearch     actionCategory = "search"
	catExtract    actionCategory = "extract"
	catScroll     actionCategory = "scroll"
	catScreenshot actionCategory = "screenshot"
	catWait       actionCategory = "wait"
)

// verbTable maps stemmed trigger tokens to categories with prior weights.
// Keys are pre-stemmed so lookups go through stem() uniformly.
var verbTable = map[string]struct {
	cat    actionCategory
	weight float64
}{
	"go":         {catNavigate, 0.8},
	"navigat":    {catNavigate, 1.0},
	"open":       {catNavigate, 0.8},
	"visit":      {catNavigate, 0.9},
	"load":       {catNavigate, 0.6},
	"brows":      {catNavigate, 0.7},
	"click":      {catClick, 1.0},
	"press":      {catClick, 0.8},
	"tap":        {catClick, 0.8},
	"push":       {catClick, 0.5},
	"typ":        {catType, 1.0},
	"enter":      {catType, 0.8},
	"fill":       {catType, 0.9},
	"input":      {catType, 0.7},
	"writ":       {catType, 0.7},
	"select":     {catSelect, 1.0},
	"choos":      {catSelect, 0.8},
	"pick":       {catSelect, 0.7},
	"search":     {catSearch, 1.0},
	"find":       {catSearch, 0.8},
	"look":       {catSearch, 0.6},
	"query":      {catSearch, 0.7},
	"queri":      {catSearch, 0.7},
	"extract":    {catExtract, 1.0},
	"scrap":      {catExtract, 0.9},
	"grab":       {catExtract, 0.7},
	"collect":    {catExtract, 0.7},
	"read":       {catExtract, 0.6},
	"list":       {catExtract, 0.6},
	"get":        {catExtract, 0.5},
	"scroll":     {catScroll, 1.0},
	"screenshot": {catScreenshot, 1.0},
	"captur":     {catScreenshot, 0.8},
	"wait":       {catWait, 1.0},
	"submit":     {catClick, 0.9},
	"login":      {catClick, 0.6},
}

// taskForCategories folds the detected categories into a TaskKind.
func taskForCategories(cats map[actionCategory]float64) schemas.TaskKind {
	// Non-primary helpers do not decide the task on their own.
	primary := 0
	for cat := range cats {
		switch cat {
		case catScroll, catScreenshot, catWait:
		default:
			primary++
		}
	}
	if primary >= 2 {
		return schemas.TaskMulti
	}
	best, bestScore := actionCategory(""), 0.0
	for cat, score := range cats {
		if score > bestScore || (score == bestScore && cat < best) {
			best, bestScore = cat, score
		}
	}
	switch best {
	case catNavigate:
		return schemas.TaskNavigate
	case catSearch:
		return schemas.TaskSearch
	case catType, catSelect, catClick:
		return schemas.TaskFormFill
	case catExtract:
		return schemas.TaskExtract
	case catScroll, catScreenshot, catWait:
		return schemas.TaskMulti
	}
	return schemas.TaskUnknown
}

var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9@.:/_-]+`)

// tokenize lower-cases and splits an utterance, keeping URL and email
// punctuation intact inside tokens.
func tokenize(utterance string) []string {
	return tokenPattern.FindAllString(strings.ToLower(utterance), -1)
}

// stem strips common English suffixes. A lightweight suffix chop is enough
// to collapse "clicking"/"clicked"/"clicks" onto one table entry.
func stem(token string) string {
	for _, suffix := range []string{"ing", "ed", "es", "s", "e"} {
		if (suffix == "es" || suffix == "s") && strings.HasSuffix(token, "ss") {
			continue
		}
		if strings.HasSuffix(token, suffix) && len(token)-len(suffix) >= 3 {
			return token[:len(token)-len(suffix)]
		}
	}
	return token
}

var (
	urlPattern    = regexp.MustCompile(`(?i)\b(?:https?://[^\s'"]+|[a-z0-9][a-z0-9-]*(?:\.[a-z0-9-]+)*\.(?:com|org|net|io|dev|ai|co|app|edu|gov|test|local(?:host)?)(?:/[^\s'"]*)?)`)
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	quotedPattern = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	fieldPattern  = regexp.MustCompile(`(?i)\b(?:in|into|to)\s+the\s+([a-z0-9 _-]+?)\s+(?:field|input|box|area|form)\b`)
	targetPattern = regexp.MustCompile(`(?i)\bthe\s+([a-z0-9 _-]+?)\s+(?:button|link|tab|menu|option|checkbox|dropdown|icon)\b`)
	searchForPat  = regexp.MustCompile(`(?i)\b(?:search|look)\s+for\s+(.+?)(?:\s+(?:on|in|at)\s+|$)`)
)

// extractEntities pulls destinations, values, and abstract targets out of
// the utterance.
func extractEntities(utterance string) map[string]string {
	entities := make(map[string]string)

	if email := emailPattern.FindString(utterance); email != "" {
		entities["email"] = email
		entities["text"] = email
	}
	// Email hosts would otherwise match the URL pattern too.
	scrubbed := emailPattern.ReplaceAllString(utterance, "")
	if url := urlPattern.FindString(scrubbed); url != "" {
		entities["url"] = normalizeURL(url)
	}
	if m := quotedPattern.FindStringSubmatch(utterance); m != nil {
		quoted := m[1]
		if quoted == "" {
			quoted = m[2]
		}
		entities["quoted"] = quoted
		if _, ok := entities["text"]; !ok {
			entities["text"] = quoted
		}
	}
	if m := fieldPattern.FindStringSubmatch(utterance); m != nil {
		entities["field"] = strings.ToLower(strings.TrimSpace(m[1]))
	}
	if m := targetPattern.FindStringSubmatch(utterance); m != nil {
		entities["target"] = strings.ToLower(strings.TrimSpace(m[1]))
	}
	if m := searchForPat.FindStringSubmatch(utterance); m != nil {
		entities["query"] = strings.Trim(strings.TrimSpace(m[1]), `"'`)
	}
	return entities
}

func normalizeURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// classify runs the weighted pattern table over the utterance and returns
// the most likely task kind with its confidence and entities. The learning
// reader, when primed, reweights categories by their rolling success rate.
func (p *Planner) classify(utterance string) schemas.Understanding {
	tokens := tokenize(utterance)
	scores := make(map[actionCategory]float64)
	for _, token := range tokens {
		entry, ok := verbTable[stem(token)]
		if !ok {
			continue
		}
		weight := entry.weight
		if p.reader != nil {
			sig := learning.PhraseSignature([]string{string(entry.cat)})
			if prior, ok := p.reader.Prior(sig, categoryAction(entry.cat)); ok &&
				int(prior.Attempts) >= p.cfg.MinAttemptsForPrior {
				// Ties break by weight times rolling success rate.
				weight *= 0.5 + prior.SuccessRate
			}
		}
		if weight > scores[entry.cat] {
			scores[entry.cat] = weight
		}
	}

	entities := extractEntities(utterance)
	// A bare destination with no verb still reads as navigation.
	if len(scores) == 0 && entities["url"] != "" {
		scores[catNavigate] = 0.6
	}

	kind := taskForCategories(scores)
	confidence := 0.0
	for _, s := range scores {
		if s > confidence {
			confidence = s
		}
	}
	switch {
	case kind == schemas.TaskUnknown:
		confidence = 0.1
	case len(entities) > 0:
		confidence = min(0.95, confidence+0.1)
	}
	return schemas.Understanding{TaskKind: kind, Confidence: confidence, Entities: entities}
}

// categoryAction maps a verb category onto the action kind its steps
// record under in the learning store.
func categoryAction(cat actionCategory) schemas.ActionKind {
	switch cat {
	case catNavigate:
		return schemas.ActionNavigate
	case catClick:
		return schemas.ActionClick
	case catType:
		return schemas.ActionType
	case catSelect:
		return schemas.ActionSelect
	case catSearch:
		return schemas.ActionType
	case catExtract:
		return schemas.ActionExtract
	case catScroll:
		return schemas.ActionScroll
	case catScreenshot:
		return schemas.ActionScreenshot
	case catWait:
		return schemas.ActionWait
	}
	return schemas.ActionVerify
}
