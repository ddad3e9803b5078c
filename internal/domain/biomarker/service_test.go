package biomarker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healz/reports/internal/platform/db"
)

// -- Mock Repository --

type mockReadingRepo struct {
	readings map[uuid.UUID]*Reading
	batches  int
}

func newMockReadingRepo() *mockReadingRepo {
	return &mockReadingRepo{readings: make(map[uuid.UUID]*Reading)}
}

func (m *mockReadingRepo) CreateBatch(_ context.Context, readings []*Reading) error {
	m.batches++
	for _, r := range readings {
		r.ID = uuid.New()
		r.CreatedAt = time.Now()
		m.readings[r.ID] = r
	}
	return nil
}

func (m *mockReadingRepo) GetByID(_ context.Context, id uuid.UUID) (*Reading, error) {
	r, ok := m.readings[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	return r, nil
}

func (m *mockReadingRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Reading, int, error) {
	var result []*Reading
	for _, r := range m.readings {
		if r.PatientID != f.PatientID {
			continue
		}
		if f.AnalyticsID != nil && (r.AnalyticsID == nil || *r.AnalyticsID != *f.AnalyticsID) {
			continue
		}
		if f.Name != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(f.Name)) {
			continue
		}
		result = append(result, r)
	}
	return result, len(result), nil
}

func (m *mockReadingRepo) DeleteByAnalytics(_ context.Context, analyticsID uuid.UUID) error {
	for id, r := range m.readings {
		if r.AnalyticsID != nil && *r.AnalyticsID == analyticsID {
			delete(m.readings, id)
		}
	}
	return nil
}

func glucose(value float64, at time.Time) *Reading {
	return &Reading{
		Name: "Glucosa", Value: value, Unit: "mg/dL",
		OptimalMin: 75, OptimalMax: 90, ConventionalMin: 65, ConventionalMax: 99,
		MeasuredAt: at,
	}
}

func TestService_RecordBatch(t *testing.T) {
	repo := newMockReadingRepo()
	svc := NewService(repo)
	patientID := uuid.New()

	err := svc.RecordBatch(context.Background(), patientID, nil, []*Reading{glucose(80, time.Now()), glucose(120, time.Now())})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.readings) != 2 {
		t.Fatalf("expected 2 stored readings, got %d", len(repo.readings))
	}
	for _, r := range repo.readings {
		if r.PatientID != patientID {
			t.Error("patient id not applied")
		}
	}
}

func TestService_RecordBatch_RejectsInvalid(t *testing.T) {
	repo := newMockReadingRepo()
	svc := NewService(repo)

	bad := glucose(80, time.Now())
	bad.OptimalMin = 100
	err := svc.RecordBatch(context.Background(), uuid.New(), nil, []*Reading{glucose(80, time.Now()), bad})
	if err == nil || !strings.Contains(err.Error(), "reading 1") {
		t.Fatalf("expected error naming reading 1, got %v", err)
	}
	if repo.batches != 0 {
		t.Error("nothing should be stored when a reading is invalid")
	}

	noDate := glucose(80, time.Time{})
	if err := svc.RecordBatch(context.Background(), uuid.New(), nil, []*Reading{noDate}); err == nil {
		t.Error("expected error for missing measured_at")
	}
}

func TestService_ReplaceForAnalytics(t *testing.T) {
	repo := newMockReadingRepo()
	svc := NewService(repo)
	ctx := context.Background()
	patientID, analyticsID := uuid.New(), uuid.New()

	svc.ReplaceForAnalytics(ctx, patientID, analyticsID, []*Reading{glucose(80, time.Now()), glucose(85, time.Now())})
	svc.ReplaceForAnalytics(ctx, patientID, analyticsID, []*Reading{glucose(120, time.Now())})

	if len(repo.readings) != 1 {
		t.Errorf("expected redelivery to replace the batch, got %d readings", len(repo.readings))
	}
}

func TestService_ListClassified(t *testing.T) {
	repo := newMockReadingRepo()
	svc := NewService(repo)
	ctx := context.Background()
	patientID := uuid.New()
	now := time.Now()

	svc.RecordBatch(ctx, patientID, nil, []*Reading{glucose(80, now), glucose(120, now), glucose(95, now)})
	panel, total, err := svc.ListClassified(ctx, ListFilter{PatientID: patientID}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
	want := []Status{StatusOutOfRange, StatusCaution, StatusOptimal}
	for i, w := range want {
		if panel.Readings[i].Status != w {
			t.Errorf("position %d: expected %s, got %s", i, w, panel.Readings[i].Status)
		}
	}
	if panel.Summary.OutOfRange != 1 || panel.Summary.Optimal != 1 {
		t.Errorf("unexpected summary %+v", panel.Summary)
	}
}

func TestService_LatestPanel(t *testing.T) {
	repo := newMockReadingRepo()
	svc := NewService(repo)
	ctx := context.Background()
	patientID := uuid.New()
	now := time.Now()

	svc.RecordBatch(ctx, patientID, nil, []*Reading{glucose(120, now.AddDate(0, -2, 0)), glucose(82, now)})
	panel, err := svc.LatestPanel(ctx, ListFilter{PatientID: patientID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(panel.Readings) != 1 || panel.Readings[0].Status != StatusOptimal {
		t.Errorf("expected only the latest optimal reading, got %+v", panel.Readings)
	}
}
