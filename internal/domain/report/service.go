package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/healz/reports/internal/domain/biomarker"
	"github.com/healz/reports/internal/platform/db"
)

// PanelSource supplies the classified readings a report is scored on.
type PanelSource interface {
	LatestPanel(ctx context.Context, f biomarker.ListFilter) (biomarker.Panel, error)
}

type Service struct {
	reports  Repository
	readings PanelSource
	tx       db.Transactor
}

func NewService(reports Repository, readings PanelSource, tx db.Transactor) *Service {
	if tx == nil {
		tx = db.NoTx
	}
	return &Service{reports: reports, readings: readings, tx: tx}
}

// GenerateInput describes a new report. Readings are taken from the
// analytics batch when AnalyticsID is set, otherwise from the latest
// reading of each biomarker.
type GenerateInput struct {
	PatientID   uuid.UUID  `json:"-"`
	FormID      *uuid.UUID `json:"form_id"`
	AnalyticsID *uuid.UUID `json:"analytics_id"`
	Title       string     `json:"title" validate:"max=255"`
	Diagnosis   *string    `json:"diagnosis"`
	Actions     []*Action  `json:"actions" validate:"dive"`
}

func (s *Service) panel(ctx context.Context, patientID uuid.UUID, analyticsID *uuid.UUID) (biomarker.Panel, error) {
	return s.readings.LatestPanel(ctx, biomarker.ListFilter{PatientID: patientID, AnalyticsID: analyticsID})
}

// Generate scores the patient's readings and stores a draft report with its
// action plan.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*Detail, error) {
	panel, err := s.panel(ctx, in.PatientID, in.AnalyticsID)
	if err != nil {
		return nil, fmt.Errorf("load biomarkers: %w", err)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Informe de salud"
	}
	for _, a := range in.Actions {
		normalizeAction(a)
		if a.Title == "" {
			return nil, fmt.Errorf("action title is required")
		}
	}

	score := RiskScore(panel.Summary)
	rp := &Report{
		PatientID:   in.PatientID,
		FormID:      in.FormID,
		AnalyticsID: in.AnalyticsID,
		Title:       title,
		Status:      StatusDraft,
		Diagnosis:   trimmed(in.Diagnosis),
		RiskScore:   score,
		RiskLevel:   RiskLevel(score),
	}
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.reports.Create(ctx, rp); err != nil {
			return err
		}
		return s.reports.ReplaceActions(ctx, rp.ID, in.Actions)
	})
	if err != nil {
		return nil, err
	}
	return &Detail{Report: rp, Panel: panel, Actions: GroupActions(in.Actions)}, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Report, error) {
	rp, err := s.reports.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rp, nil
}

// GetDetail loads a report with its readings rescored and its action plan
// grouped. Final reports keep the score they were signed with.
func (s *Service) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	rp, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	panel, err := s.panel(ctx, rp.PatientID, rp.AnalyticsID)
	if err != nil {
		return nil, fmt.Errorf("load biomarkers: %w", err)
	}
	if !rp.IsFinal() {
		rp.RiskScore = RiskScore(panel.Summary)
		rp.RiskLevel = RiskLevel(rp.RiskScore)
	}
	actions, err := s.reports.ListActions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Report: rp, Panel: panel, Actions: GroupActions(actions)}, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	return s.reports.ListByPatient(ctx, patientID, limit, offset)
}

// DraftUpdate replaces the editable parts of a draft. Nil fields are kept.
type DraftUpdate struct {
	Title     *string    `json:"title" validate:"omitempty,max=255"`
	Diagnosis *string    `json:"diagnosis"`
	Actions   *[]*Action `json:"actions"`
}

func (s *Service) UpdateDraft(ctx context.Context, id uuid.UUID, u DraftUpdate) (*Detail, error) {
	err := s.tx(ctx, func(ctx context.Context) error {
		rp, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		if rp.IsFinal() {
			return ErrReportFinal
		}
		if u.Title != nil {
			if t := strings.TrimSpace(*u.Title); t != "" {
				rp.Title = t
			}
		}
		if u.Diagnosis != nil {
			rp.Diagnosis = trimmed(u.Diagnosis)
		}
		if err := s.reports.Update(ctx, rp); err != nil {
			return err
		}
		if u.Actions == nil {
			return nil
		}
		for _, a := range *u.Actions {
			normalizeAction(a)
			if a.Title == "" {
				return fmt.Errorf("action title is required")
			}
		}
		return s.reports.ReplaceActions(ctx, id, *u.Actions)
	})
	if err != nil {
		return nil, err
	}
	return s.GetDetail(ctx, id)
}

// Finalize freezes the report with its current score.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*Detail, error) {
	detail, err := s.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.IsFinal() {
		return nil, ErrReportFinal
	}
	detail.Status = StatusFinal
	if err := s.reports.Update(ctx, detail.Report); err != nil {
		return nil, err
	}
	return detail, nil
}
