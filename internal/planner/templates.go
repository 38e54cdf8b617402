// File: internal/planner/templates.go
package planner

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// kindEstimates are rough per-step duration guesses used to size the
// plan's estimated total before any history exists.
var kindEstimates = map[schemas.ActionKind]time.Duration{
	schemas.ActionNavigate:   3 * time.Second,
	schemas.ActionClick:      time.Second,
	schemas.ActionType:       time.Second,
	schemas.ActionSelect:     time.Second,
	schemas.ActionExtract:    500 * time.Millisecond,
	schemas.ActionWait:       2 * time.Second,
	schemas.ActionScroll:     500 * time.Millisecond,
	schemas.ActionScreenshot: time.Second,
	schemas.ActionVerify:     300 * time.Millisecond,
}

// builder accumulates steps for one plan, numbering ids sequentially so
// synthesis stays deterministic.
type builder struct {
	steps  []schemas.ActionStep
	lastID string
}

// add appends a step chained onto the previous one and returns its id.
func (b *builder) add(step schemas.ActionStep) string {
	step.ID = fmt.Sprintf("step-%d", len(b.steps)+1)
	if b.lastID != "" {
		step.DependsOn = []string{b.lastID}
	}
	b.steps = append(b.steps, step)
	b.lastID = step.ID
	return step.ID
}

// matchElement selects the highest-confidence snapshot element matching an
// abstract description. Scoring favors keyword hits over role agreement;
// ties break on document order.
func matchElement(snap *schemas.PerceptionSnapshot, roles []schemas.ElementRole, keywords []string) (*schemas.PerceivedElement, float64) {
	if snap == nil {
		return nil, 0
	}
	var best *schemas.PerceivedElement
	bestScore := 0.0
	for i := range snap.Elements {
		el := &snap.Elements[i]
		if !el.Role.Interactive() {
			continue
		}
		roleScore := 0.0
		for _, role := range roles {
			if el.Role == role {
				roleScore = 1.0
				break
			}
		}
		if len(roles) > 0 && roleScore == 0 {
			continue
		}
		score := roleScore*0.4 + keywordScore(el, keywords)*0.6
		if score > bestScore {
			best, bestScore = el, score
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestScore * best.Confidence
}

// keywordScore measures keyword overlap against an element's text and
// salient attributes.
func keywordScore(el *schemas.PerceivedElement, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0.5 // nothing to contradict
	}
	haystack := strings.ToLower(strings.Join([]string{
		el.Text,
		el.Attributes["id"],
		el.Attributes["name"],
		el.Attributes["placeholder"],
		el.Attributes["aria-label"],
		el.Attributes["class"],
		el.Attributes["type"],
	}, " "))
	hits := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// targetedStep grounds an abstract target against the snapshot. When no
// candidate exists the step is flagged needs_refinement instead of being
// synthesized against nothing.
func (p *Planner) targetedStep(snap *schemas.PerceptionSnapshot, kind schemas.ActionKind, roles []schemas.ElementRole, keywords []string, description string) schemas.ActionStep {
	step := schemas.ActionStep{
		Kind:        kind,
		Critical:    true,
		Description: description,
		Keywords:    keywords,
	}
	if len(roles) > 0 {
		step.TargetRole = roles[0]
	}
	el, score := matchElement(snap, roles, keywords)
	if el == nil {
		step.NeedsRefinement = true
		step.Confidence = 0.3
		return step
	}
	step.Locator = el.Locator
	step.Fallbacks = el.AltLocators
	step.Confidence = p.blendConfidence(clamp(score), stepSignatureFor(el), kind)
	return step
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var buttonRoles = []schemas.ElementRole{schemas.RoleButton, schemas.RoleLink}
var fieldRoles = []schemas.ElementRole{schemas.RoleInput, schemas.RoleTextArea}

// synthesize builds the step DAG for one understanding.
func (p *Planner) synthesize(b *builder, snap *schemas.PerceptionSnapshot, u schemas.Understanding, utterance string) {
	switch u.TaskKind {
	case schemas.TaskNavigate:
		p.synthNavigate(b, u)
	case schemas.TaskSearch:
		p.synthSearch(b, snap, u)
	case schemas.TaskFormFill:
		p.synthFormFill(b, snap, u, utterance)
	case schemas.TaskExtract:
		p.synthExtract(b, snap, u)
	case schemas.TaskMulti:
		p.synthMulti(b, snap, u, utterance)
	}
}

func (p *Planner) synthNavigate(b *builder, u schemas.Understanding) {
	url := u.Entities["url"]
	if url == "" {
		b.add(schemas.ActionStep{
			Kind:            schemas.ActionNavigate,
			NeedsRefinement: true,
			Critical:        true,
			Confidence:      0.3,
			Description:     "destination url",
			Params:          schemas.StepParams{Navigate: &schemas.NavigateParams{URL: "about:blank"}},
		})
		return
	}
	b.add(schemas.ActionStep{
		Kind:          schemas.ActionNavigate,
		Critical:      true,
		Confidence:    u.Confidence,
		Description:   "navigate to " + url,
		Params:        schemas.StepParams{Navigate: &schemas.NavigateParams{URL: url, WaitUntil: schemas.WaitLoad}},
		PostCondition: &schemas.PostCondition{Kind: schemas.CondURLContains, Value: hostOf(url)},
	})
}

func (p *Planner) synthSearch(b *builder, snap *schemas.PerceptionSnapshot, u schemas.Understanding) {
	query := u.Entities["query"]
	if query == "" {
		query = u.Entities["quoted"]
	}
	if query == "" {
		b.add(schemas.ActionStep{
			Kind:     schemas.ActionAskClarification,
			Critical: true, Confidence: 0.3,
			Params: schemas.StepParams{Clarify: &schemas.ClarifyParams{Question: "What should I search for?"}},
		})
		return
	}
	typeStep := p.targetedStep(snap, schemas.ActionType, fieldRoles, []string{"search", "q", "query"}, "search input")
	typeStep.Params = schemas.StepParams{Type: &schemas.TypeParams{Text: query, Clear: true}}
	typeStep.PostCondition = &schemas.PostCondition{Kind: schemas.CondInputValueIs, Locator: typeStep.Locator, Value: query}
	b.add(typeStep)

	submit := p.targetedStep(snap, schemas.ActionClick, buttonRoles, []string{"search", "go", "submit"}, "search button")
	submit.Critical = false // pressing enter is often implicit; a missing button is survivable
	b.add(submit)
}

// submitPattern decides whether a form-fill utterance also asks to submit.
var submitPattern = regexp.MustCompile(`(?i)\b(submit|login|log in|sign in|send|save|register|apply)\b`)

func (p *Planner) synthFormFill(b *builder, snap *schemas.PerceptionSnapshot, u schemas.Understanding, utterance string) {
	text := u.Entities["text"]
	field := u.Entities["field"]
	target := u.Entities["target"]

	if text != "" {
		keywords := fieldKeywords(field, u)
		typeStep := p.targetedStep(snap, schemas.ActionType, fieldRoles, keywords, "the "+field+" field")
		typeStep.Params = schemas.StepParams{Type: &schemas.TypeParams{Text: text, Clear: true}}
		b.add(typeStep)

		verify := schemas.ActionStep{
			Kind:       schemas.ActionVerify,
			Critical:   false,
			Confidence: typeStep.Confidence,
			PostCondition: &schemas.PostCondition{
				Kind: schemas.CondInputValueIs, Locator: typeStep.Locator, Value: text,
			},
			Description: "verify " + field + " value",
		}
		b.add(verify)
	}

	if value, ok := u.Entities["select"]; ok {
		sel := p.targetedStep(snap, schemas.ActionSelect, []schemas.ElementRole{schemas.RoleSelect}, fieldKeywords(field, u), "the "+field+" dropdown")
		sel.Params = schemas.StepParams{Select: &schemas.SelectParams{Value: value}}
		b.add(sel)
	}

	clickTarget := target != "" && text == ""
	wantsSubmit := submitPattern.MatchString(utterance)
	if clickTarget || wantsSubmit {
		keywords := strings.Fields(target)
		if len(keywords) == 0 {
			keywords = []string{"submit"}
		}
		click := p.targetedStep(snap, schemas.ActionClick, buttonRoles, keywords, "the "+strings.Join(keywords, " ")+" button")
		click.Params = schemas.StepParams{Click: &schemas.ClickParams{}}
		b.add(click)
	}

	if len(b.steps) == 0 {
		b.add(schemas.ActionStep{
			Kind:     schemas.ActionAskClarification,
			Critical: true, Confidence: 0.3,
			Params: schemas.StepParams{Clarify: &schemas.ClarifyParams{Question: "Which field should I fill, and with what value?"}},
		})
	}
}

func fieldKeywords(field string, u schemas.Understanding) []string {
	var keywords []string
	if field != "" {
		keywords = strings.Fields(field)
	}
	if email := u.Entities["email"]; email != "" {
		keywords = append(keywords, "email")
	}
	if len(keywords) == 0 {
		keywords = []string{"text"}
	}
	return dedupe(keywords)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (p *Planner) synthExtract(b *builder, snap *schemas.PerceptionSnapshot, u schemas.Understanding) {
	target := u.Entities["target"]
	keywords := strings.Fields(target)
	step := p.targetedStep(snap, schemas.ActionExtract, nil, keywords, "extract "+target)
	step.Params = schemas.StepParams{Extract: &schemas.ExtractParams{Multiple: strings.HasSuffix(target, "s")}}
	step.Critical = false
	if step.Locator == "" && snap != nil && snap.Layout.MainContent != "" {
		// Extraction falls back to the page's main content region.
		step.Locator = snap.Layout.MainContent
		step.NeedsRefinement = false
		step.Confidence = 0.5
	}
	b.add(step)
}

// clausePattern splits a multi-action utterance into sequential clauses.
var clausePattern = regexp.MustCompile(`(?i)\s*(?:,\s*then\s+|\bthen\b|\band\b|,|;)\s*`)

func (p *Planner) synthMulti(b *builder, snap *schemas.PerceptionSnapshot, u schemas.Understanding, utterance string) {
	clauses := clausePattern.Split(utterance, -1)
	synthesized := 0
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		cu := p.classify(clause)
		if cu.TaskKind == schemas.TaskMulti || cu.TaskKind == schemas.TaskUnknown {
			// Clause-level classification should be atomic; fall back to
			// the dominant single action for this clause.
			cu.TaskKind = dominantSingleKind(clause)
			if cu.TaskKind == schemas.TaskUnknown {
				continue
			}
		}
		// Clause entities may lack context the full utterance had.
		for k, v := range u.Entities {
			if _, ok := cu.Entities[k]; !ok && strings.Contains(clause, entityHint(k, v)) {
				cu.Entities[k] = v
			}
		}
		if cu.Confidence < u.Confidence {
			cu.Confidence = u.Confidence
		}
		p.synthesize(b, snap, cu, clause)
		synthesized++
	}
	if synthesized == 0 {
		b.add(schemas.ActionStep{
			Kind:     schemas.ActionAskClarification,
			Critical: true, Confidence: 0.3,
			Params: schemas.StepParams{Clarify: &schemas.ClarifyParams{Question: "I could not break that request into actions. Could you rephrase it?"}},
		})
	}
}

// dominantSingleKind picks the strongest single-action reading of a clause.
func dominantSingleKind(clause string) schemas.TaskKind {
	var best schemas.TaskKind = schemas.TaskUnknown
	bestScore := 0.0
	for _, token := range tokenize(clause) {
		entry, ok := verbTable[stem(token)]
		if !ok {
			continue
		}
		if entry.weight > bestScore {
			bestScore = entry.weight
			best = taskForCategories(map[actionCategory]float64{entry.cat: entry.weight})
		}
	}
	return best
}

// entityHint returns the raw fragment an entity was likely extracted from,
// used to decide whether a clause owns that entity.
func entityHint(key, value string) string {
	switch key {
	case "url":
		return strings.TrimPrefix(strings.TrimPrefix(value, "https://"), "http://")
	default:
		return value
	}
}

func hostOf(url string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	if i := strings.IndexByte(host, '/'); i != -1 {
		host = host[:i]
	}
	return host
}
