package report

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healz/reports/internal/domain/biomarker"
)

const (
	StatusDraft = "draft"
	StatusFinal = "final"
)

const (
	RiskLow      = "low"
	RiskModerate = "moderate"
	RiskHigh     = "high"
)

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var priorityRank = map[string]int{PriorityHigh: 0, PriorityMedium: 1, PriorityLow: 2}

var (
	ErrReportFinal = errors.New("report is final and cannot be changed")
	ErrNotFound    = errors.New("report not found")
)

type Report struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	FormID      *uuid.UUID `db:"form_id" json:"form_id,omitempty"`
	AnalyticsID *uuid.UUID `db:"analytics_id" json:"analytics_id,omitempty"`
	Title       string     `db:"title" json:"title"`
	Status      string     `db:"status" json:"status"`
	Diagnosis   *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	RiskScore   int        `db:"risk_score" json:"risk_score"`
	RiskLevel   string     `db:"risk_level" json:"risk_level"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

func (r *Report) IsFinal() bool { return r.Status == StatusFinal }

type Action struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ReportID    uuid.UUID `db:"report_id" json:"report_id"`
	Title       string    `db:"title" json:"title" validate:"required,max=255"`
	Description *string   `db:"description" json:"description,omitempty"`
	Category    string    `db:"category" json:"category" validate:"max=60"`
	Priority    string    `db:"priority" json:"priority" validate:"omitempty,oneof=high medium low"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// RiskScore weighs out-of-range readings twice as much as caution readings
// and scales the result to 0-100. An empty panel scores 0.
func RiskScore(s biomarker.Summary) int {
	if s.Total == 0 {
		return 0
	}
	weighted := float64(2*s.OutOfRange + s.Caution)
	return int(math.Round(weighted / float64(2*s.Total) * 100))
}

func RiskLevel(score int) string {
	switch {
	case score < 25:
		return RiskLow
	case score < 60:
		return RiskModerate
	default:
		return RiskHigh
	}
}

func normalizeAction(a *Action) {
	a.Title = strings.TrimSpace(a.Title)
	a.Category = strings.TrimSpace(a.Category)
	if a.Category == "" {
		a.Category = "general"
	}
	a.Priority = strings.ToLower(strings.TrimSpace(a.Priority))
	if _, ok := priorityRank[a.Priority]; !ok {
		a.Priority = PriorityMedium
	}
}

// SortActions orders by priority, high first, then by title.
func SortActions(actions []*Action) {
	sort.SliceStable(actions, func(i, j int) bool {
		pi, pj := priorityRank[actions[i].Priority], priorityRank[actions[j].Priority]
		if pi != pj {
			return pi < pj
		}
		return strings.ToLower(actions[i].Title) < strings.ToLower(actions[j].Title)
	})
}

type ActionGroup struct {
	Priority string    `json:"priority"`
	Actions  []*Action `json:"actions"`
}

// GroupActions sorts actions and buckets them per priority. Empty priorities
// are omitted.
func GroupActions(actions []*Action) []ActionGroup {
	sorted := append([]*Action(nil), actions...)
	SortActions(sorted)
	var groups []ActionGroup
	for _, a := range sorted {
		if n := len(groups); n > 0 && groups[n-1].Priority == a.Priority {
			groups[n-1].Actions = append(groups[n-1].Actions, a)
			continue
		}
		groups = append(groups, ActionGroup{Priority: a.Priority, Actions: []*Action{a}})
	}
	return groups
}

// Detail is a report with everything needed to render it.
type Detail struct {
	*Report
	Panel   biomarker.Panel `json:"biomarkers"`
	Actions []ActionGroup   `json:"action_plan"`
}
