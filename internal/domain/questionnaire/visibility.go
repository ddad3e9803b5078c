package questionnaire

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalize lowercases, trims and strips diacritics so "Ejercício" and
// "ejercicio" compare equal.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func equalFold(a, b string) bool {
	return normalize(a) == normalize(b)
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// VisibilityRule decides whether a question is hidden given the catalog and
// the current answers. Rules are evaluated on every read.
type VisibilityRule interface {
	Hides(q *Question, c *Catalog, answers AnswerMap) bool
}

// RuleFunc adapts a function to VisibilityRule.
type RuleFunc func(q *Question, c *Catalog, answers AnswerMap) bool

func (f RuleFunc) Hides(q *Question, c *Catalog, answers AnswerMap) bool { return f(q, c, answers) }

// DefaultRules is the rule set applied when a catalog is built without
// explicit rules.
func DefaultRules() []VisibilityRule {
	return []VisibilityRule{ExerciseTypeRule{}}
}

var neverValues = []string{"never", "nunca"}

// ExerciseTypeRule hides the "type of exercise" question when the patient
// reports never exercising. The sibling frequency question may live in any
// category. Without a sibling the rule does nothing.
type ExerciseTypeRule struct{}

func (ExerciseTypeRule) Hides(q *Question, c *Catalog, answers AnswerMap) bool {
	if !isExerciseTypeQuestion(q) {
		return false
	}
	sib := c.find(isExerciseFrequencyQuestion)
	if sib == nil || sib.ID == q.ID {
		return false
	}
	a, ok := answers[sib.ID]
	if !ok {
		return false
	}
	v, ok := a.Text()
	if !ok {
		return false
	}
	v = normalize(v)
	for _, n := range neverValues {
		if v == n {
			return true
		}
	}
	return false
}

func isExerciseTypeQuestion(q *Question) bool {
	if q.Type == TypeFrequency {
		return false
	}
	t := normalize(q.Text)
	return containsAny(t, "exercise", "ejercicio") && containsAny(t, "type", "tipo", "kind")
}

func isExerciseFrequencyQuestion(q *Question) bool {
	if q.Type != TypeFrequency {
		return false
	}
	t := normalize(q.Text)
	return containsAny(t, "exercise", "ejercicio") && containsAny(t, "frequency", "frecuencia", "often", "how many", "cuantas", "cuanto")
}

// Visible reports whether q should be shown under answers.
func (c *Catalog) Visible(q *Question, answers AnswerMap) bool {
	for _, r := range c.rules {
		if r.Hides(q, c, answers) {
			return false
		}
	}
	return true
}

// HiddenIDs lists every question currently hidden.
func (c *Catalog) HiddenIDs(answers AnswerMap) []uuid.UUID {
	var ids []uuid.UUID
	for _, q := range c.all {
		if !c.Visible(q, answers) {
			ids = append(ids, q.ID)
		}
	}
	return ids
}
