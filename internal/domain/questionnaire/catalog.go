package questionnaire

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Catalog is the ordered question set grouped by category. Canonical
// categories come first in their fixed order; unknown categories follow in
// first-seen order. It is immutable after construction.
type Catalog struct {
	categories []string
	byCategory map[string][]*Question
	byID       map[uuid.UUID]*Question
	all        []*Question
	rules      []VisibilityRule
}

// NewCatalog validates and groups questions. A nil rules slice applies
// DefaultRules.
func NewCatalog(questions []Question, rules ...VisibilityRule) (*Catalog, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	c := &Catalog{
		byCategory: make(map[string][]*Question),
		byID:       make(map[uuid.UUID]*Question, len(questions)),
		rules:      rules,
	}

	var unknown []string
	for i := range questions {
		q := questions[i]
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("question %s: %w", q.ID, err)
		}
		if _, dup := c.byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %s", q.ID)
		}
		qp := &q
		c.byID[q.ID] = qp
		if _, seen := c.byCategory[q.Category]; !seen && CategoryRank(q.Category) < 0 {
			unknown = append(unknown, q.Category)
		}
		c.byCategory[q.Category] = append(c.byCategory[q.Category], qp)
	}

	for _, cat := range categoryOrder {
		if _, ok := c.byCategory[cat]; ok {
			c.categories = append(c.categories, cat)
		}
	}
	c.categories = append(c.categories, unknown...)

	for _, cat := range c.categories {
		qs := c.byCategory[cat]
		sort.SliceStable(qs, func(i, j int) bool { return qs[i].Order < qs[j].Order })
		c.all = append(c.all, qs...)
	}
	return c, nil
}

// Categories returns the non-empty categories in step order.
func (c *Catalog) Categories() []string {
	return append([]string(nil), c.categories...)
}

// Questions returns the questions of category in display order.
func (c *Catalog) Questions(category string) []*Question {
	return append([]*Question(nil), c.byCategory[category]...)
}

func (c *Catalog) Get(id uuid.UUID) (*Question, bool) {
	q, ok := c.byID[id]
	return q, ok
}

// All returns every question in step then display order.
func (c *Catalog) All() []*Question {
	return append([]*Question(nil), c.all...)
}

func (c *Catalog) Len() int { return len(c.all) }

func (c *Catalog) find(match func(*Question) bool) *Question {
	for _, q := range c.all {
		if match(q) {
			return q
		}
	}
	return nil
}
