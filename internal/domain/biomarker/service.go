package biomarker

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// maxHistory bounds how many readings are loaded to compute the latest value
// per biomarker.
const maxHistory = 1000

type Service struct {
	readings Repository
}

func NewService(readings Repository) *Service {
	return &Service{readings: readings}
}

func validate(b *Reading) error {
	b.Name = strings.TrimSpace(b.Name)
	b.Unit = strings.TrimSpace(b.Unit)
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if b.MeasuredAt.IsZero() {
		return fmt.Errorf("%s: measured_at is required", b.Name)
	}
	if b.OptimalMin > b.OptimalMax {
		return fmt.Errorf("%s: optimal_min %v exceeds optimal_max %v", b.Name, b.OptimalMin, b.OptimalMax)
	}
	if b.ConventionalMin > b.ConventionalMax {
		return fmt.Errorf("%s: conventional_min %v exceeds conventional_max %v", b.Name, b.ConventionalMin, b.ConventionalMax)
	}
	return nil
}

// RecordBatch stores readings for one patient, optionally tied to the
// analytics upload they were extracted from. Nothing is stored when any
// reading is invalid.
func (s *Service) RecordBatch(ctx context.Context, patientID uuid.UUID, analyticsID *uuid.UUID, readings []*Reading) error {
	if len(readings) == 0 {
		return nil
	}
	for i, b := range readings {
		if err := validate(b); err != nil {
			return fmt.Errorf("reading %d: %w", i, err)
		}
		b.PatientID = patientID
		b.AnalyticsID = analyticsID
	}
	return s.readings.CreateBatch(ctx, readings)
}

// ReplaceForAnalytics swaps every reading of an analytics batch. Workflow
// callbacks for the same batch can be redelivered.
func (s *Service) ReplaceForAnalytics(ctx context.Context, patientID, analyticsID uuid.UUID, readings []*Reading) error {
	if err := s.readings.DeleteByAnalytics(ctx, analyticsID); err != nil {
		return err
	}
	return s.RecordBatch(ctx, patientID, &analyticsID, readings)
}

func (s *Service) GetReading(ctx context.Context, id uuid.UUID) (Classified, error) {
	b, err := s.readings.GetByID(ctx, id)
	if err != nil {
		return Classified{}, err
	}
	return Classified{Reading: b, Status: b.Status()}, nil
}

// Panel is a classified, display-ordered set of readings.
type Panel struct {
	Readings []Classified `json:"readings"`
	Summary  Summary      `json:"summary"`
}

func NewPanel(readings []*Reading) Panel {
	cs := ClassifyAll(readings)
	SortReadings(cs)
	return Panel{Readings: cs, Summary: Summarize(cs)}
}

// ListClassified returns one page of readings, most urgent first.
func (s *Service) ListClassified(ctx context.Context, f ListFilter, limit, offset int) (Panel, int, error) {
	readings, total, err := s.readings.List(ctx, f, limit, offset)
	if err != nil {
		return Panel{}, 0, err
	}
	return NewPanel(readings), total, nil
}

// LatestPanel classifies the most recent reading of each biomarker.
func (s *Service) LatestPanel(ctx context.Context, f ListFilter) (Panel, error) {
	readings, _, err := s.readings.List(ctx, f, maxHistory, 0)
	if err != nil {
		return Panel{}, err
	}
	return NewPanel(Latest(readings)), nil
}
