package questionnaire

import "github.com/google/uuid"

// Step is one page of the wizard: a category and its visible questions.
type Step struct {
	Category  string      `json:"category"`
	Questions []*Question `json:"questions"`
}

// Steps derives the current step list. Categories whose questions are all
// hidden are dropped, so the count depends on answers.
func (c *Catalog) Steps(answers AnswerMap) []Step {
	steps := make([]Step, 0, len(c.categories))
	for _, cat := range c.categories {
		var visible []*Question
		for _, q := range c.byCategory[cat] {
			if c.Visible(q, answers) {
				visible = append(visible, q)
			}
		}
		if len(visible) > 0 {
			steps = append(steps, Step{Category: cat, Questions: visible})
		}
	}
	return steps
}

// Navigator tracks the current step index over a catalog. The step list is
// never cached; every read recomputes it from the answers it is given and
// clamps the index, so a shrinking list cannot push it out of bounds.
// Moving forward does not check validation; callers gate Next on
// ValidateCurrentStep.
type Navigator struct {
	catalog *Catalog
	index   int
}

func NewNavigator(c *Catalog) *Navigator {
	return &Navigator{catalog: c}
}

func (n *Navigator) clamp(count int) int {
	if n.index > count-1 {
		n.index = count - 1
	}
	if n.index < 0 {
		n.index = 0
	}
	return n.index
}

// Index returns the clamped step index.
func (n *Navigator) Index(answers AnswerMap) int {
	return n.clamp(len(n.catalog.Steps(answers)))
}

// Current returns the current step. ok is false only when no question is
// visible at all.
func (n *Navigator) Current(answers AnswerMap) (Step, bool) {
	steps := n.catalog.Steps(answers)
	if len(steps) == 0 {
		n.index = 0
		return Step{}, false
	}
	return steps[n.clamp(len(steps))], true
}

// StepCount is the number of steps under answers.
func (n *Navigator) StepCount(answers AnswerMap) int {
	return len(n.catalog.Steps(answers))
}

// IsLast reports whether the current step is the final one.
func (n *Navigator) IsLast(answers AnswerMap) bool {
	count := n.StepCount(answers)
	return count == 0 || n.clamp(count) == count-1
}

// Next advances one step, clamped to the last step.
func (n *Navigator) Next(answers AnswerMap) int {
	count := n.StepCount(answers)
	n.clamp(count)
	if n.index < count-1 {
		n.index++
	}
	return n.index
}

// Previous moves back one step, clamped to zero.
func (n *Navigator) Previous(answers AnswerMap) int {
	n.clamp(n.StepCount(answers))
	if n.index > 0 {
		n.index--
	}
	return n.index
}

// MissingRequired lists the required visible questions of the current step
// that have no answer.
func (n *Navigator) MissingRequired(answers AnswerMap) []uuid.UUID {
	step, ok := n.Current(answers)
	if !ok {
		return nil
	}
	return missingIn(step.Questions, answers)
}

// ValidateCurrentStep is true when no required visible question in the
// current step is unanswered. Optional questions never block.
func (n *Navigator) ValidateCurrentStep(answers AnswerMap) bool {
	return len(n.MissingRequired(answers)) == 0
}

// MissingAll lists every required visible question without an answer,
// across all steps. Used before submission.
func (c *Catalog) MissingAll(answers AnswerMap) []uuid.UUID {
	var missing []uuid.UUID
	for _, s := range c.Steps(answers) {
		missing = append(missing, missingIn(s.Questions, answers)...)
	}
	return missing
}

func missingIn(qs []*Question, answers AnswerMap) []uuid.UUID {
	var missing []uuid.UUID
	for _, q := range qs {
		if q.Required && !answers.Answered(q.ID) {
			missing = append(missing, q.ID)
		}
	}
	return missing
}
