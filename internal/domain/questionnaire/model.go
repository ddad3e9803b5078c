// Package questionnaire is the intake form engine: the question catalog, typed
// answers, conditional visibility and step navigation. It has no I/O.
package questionnaire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// QuestionType is the closed set of question kinds.
type QuestionType string

const (
	TypeText             QuestionType = "text"
	TypeNumber           QuestionType = "number"
	TypeTextarea         QuestionType = "textarea"
	TypeSelect           QuestionType = "select"
	TypeBoolean          QuestionType = "boolean"
	TypeFile             QuestionType = "file"
	TypeRadio            QuestionType = "radio"
	TypeCheckboxMultiple QuestionType = "checkbox_multiple"
	TypeScale            QuestionType = "scale"
	TypeFrequency        QuestionType = "frequency"
)

// ParseQuestionType rejects anything outside the closed set.
func ParseQuestionType(s string) (QuestionType, error) {
	t := QuestionType(s)
	if _, err := t.AnswerKind(); err != nil {
		return "", err
	}
	return t, nil
}

// AnswerKind maps a question type to the answer shape it accepts.
func (t QuestionType) AnswerKind() (AnswerKind, error) {
	switch t {
	case TypeText, TypeTextarea, TypeSelect, TypeRadio, TypeFrequency:
		return KindText, nil
	case TypeNumber, TypeScale:
		return KindNumber, nil
	case TypeBoolean:
		return KindBool, nil
	case TypeCheckboxMultiple:
		return KindChoices, nil
	case TypeFile:
		return KindFile, nil
	}
	return "", fmt.Errorf("unknown question type %q", string(t))
}

// HasChoices reports whether answers must come from Options.Choices.
func (t QuestionType) HasChoices() bool {
	switch t {
	case TypeSelect, TypeRadio, TypeCheckboxMultiple, TypeFrequency:
		return true
	}
	return false
}

// Canonical categories, in step order.
const (
	CategoryGeneralInfo     = "general_info"
	CategoryMedicalHistory  = "medical_history"
	CategoryCurrentSymptoms = "current_symptoms"
	CategoryLifestyle       = "lifestyle"
	CategoryGoals           = "goals"
	CategoryFiles           = "files"
	CategoryConsent         = "consent"
)

var categoryOrder = []string{
	CategoryGeneralInfo,
	CategoryMedicalHistory,
	CategoryCurrentSymptoms,
	CategoryLifestyle,
	CategoryGoals,
	CategoryFiles,
	CategoryConsent,
}

// CategoryRank returns the canonical position of category, or -1.
func CategoryRank(category string) int {
	for i, c := range categoryOrder {
		if c == category {
			return i
		}
	}
	return -1
}

type Question struct {
	ID       uuid.UUID    `json:"id"`
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Required bool         `json:"required"`
	Category string       `json:"category"`
	Order    int          `json:"order"`
	Options  Options      `json:"options"`
}

// Options carries the per-type settings. Only the fields relevant to the
// question's type are populated.
type Options struct {
	Choices []Choice `json:"choices,omitempty"`

	// scale
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Step     *float64 `json:"step,omitempty"`
	MinLabel string   `json:"min_label,omitempty"`
	MaxLabel string   `json:"max_label,omitempty"`

	// file
	Accept       []string `json:"accept,omitempty"`
	MaxSizeBytes int64    `json:"max_size_bytes,omitempty"`

	Placeholder string `json:"placeholder,omitempty"`
}

// Choice is one selectable option. Catalog rows may store a bare string,
// which becomes both value and label.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

func (c *Choice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Value, c.Label = s, s
		return nil
	}
	type plain Choice
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("choice must be a string or {value,label}: %w", err)
	}
	if p.Label == "" {
		p.Label = p.Value
	}
	if p.Value == "" {
		p.Value = p.Label
	}
	*c = Choice(p)
	return nil
}

// Validate checks that the options make sense for the question type.
func (q *Question) Validate() error {
	if q.Text == "" {
		return fmt.Errorf("question text is required")
	}
	if _, err := q.Type.AnswerKind(); err != nil {
		return err
	}
	if q.Category == "" {
		return fmt.Errorf("question category is required")
	}
	if q.Type.HasChoices() && len(q.Options.Choices) == 0 {
		return fmt.Errorf("%s question requires at least one choice", q.Type)
	}
	if q.Type == TypeScale {
		if q.Options.Min == nil || q.Options.Max == nil {
			return fmt.Errorf("scale question requires min and max")
		}
		if *q.Options.Min >= *q.Options.Max {
			return fmt.Errorf("scale min must be below max")
		}
	}
	if q.Options.MaxSizeBytes < 0 {
		return fmt.Errorf("max_size_bytes must not be negative")
	}
	return nil
}

// matchChoice resolves v against the question's choices by value, then by
// label, case-insensitively. It returns the canonical value.
func (q *Question) matchChoice(v string) (string, bool) {
	for _, c := range q.Options.Choices {
		if c.Value == v {
			return c.Value, true
		}
	}
	for _, c := range q.Options.Choices {
		if equalFold(c.Label, v) || equalFold(c.Value, v) {
			return c.Value, true
		}
	}
	return "", false
}
