package report

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healz/reports/internal/domain/biomarker"
	"github.com/healz/reports/internal/platform/db"
)

// -- Mocks --

type mockReportRepo struct {
	reports map[uuid.UUID]*Report
	actions map[uuid.UUID][]*Action
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{reports: make(map[uuid.UUID]*Report), actions: make(map[uuid.UUID][]*Action)}
}

func (m *mockReportRepo) Create(_ context.Context, r *Report) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockReportRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (m *mockReportRepo) Update(_ context.Context, r *Report) error {
	if _, ok := m.reports[r.ID]; !ok {
		return db.ErrNoRows
	}
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *mockReportRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	var result []*Report
	for _, r := range m.reports {
		if r.PatientID == patientID {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, len(result), nil
}

func (m *mockReportRepo) ReplaceActions(_ context.Context, reportID uuid.UUID, actions []*Action) error {
	for _, a := range actions {
		a.ID = uuid.New()
		a.ReportID = reportID
	}
	m.actions[reportID] = actions
	return nil
}

func (m *mockReportRepo) ListActions(_ context.Context, reportID uuid.UUID) ([]*Action, error) {
	return m.actions[reportID], nil
}

type fakePanels struct {
	readings []*biomarker.Reading
	err      error
}

func (f *fakePanels) LatestPanel(_ context.Context, _ biomarker.ListFilter) (biomarker.Panel, error) {
	if f.err != nil {
		return biomarker.Panel{}, f.err
	}
	return biomarker.NewPanel(f.readings), nil
}

func reading(name string, value float64) *biomarker.Reading {
	return &biomarker.Reading{
		Name: name, Value: value, Unit: "u",
		OptimalMin: 10, OptimalMax: 20, ConventionalMin: 5, ConventionalMax: 30,
		MeasuredAt: time.Now(),
	}
}

func newTestService(readings ...*biomarker.Reading) (*Service, *mockReportRepo, *fakePanels) {
	repo := newMockReportRepo()
	panels := &fakePanels{readings: readings}
	return NewService(repo, panels, db.NoTx), repo, panels
}

func strPtr(s string) *string { return &s }

func TestService_Generate(t *testing.T) {
	// one out of range, one caution, two optimal: (2+1)/8 = 37.5 -> 38
	svc, repo, _ := newTestService(reading("A", 40), reading("B", 25), reading("C", 15), reading("D", 12))

	detail, err := svc.Generate(context.Background(), GenerateInput{
		PatientID: uuid.New(),
		Diagnosis: strPtr("  Déficit leve de hierro "),
		Actions: []*Action{
			{Title: "Revisar dieta", Priority: "low"},
			{Title: "Analítica de control", Priority: "high"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.Status != StatusDraft || detail.Title != "Informe de salud" {
		t.Errorf("unexpected report %+v", detail.Report)
	}
	if detail.RiskScore != 38 || detail.RiskLevel != RiskModerate {
		t.Errorf("expected 38/moderate, got %d/%s", detail.RiskScore, detail.RiskLevel)
	}
	if *detail.Diagnosis != "Déficit leve de hierro" {
		t.Errorf("diagnosis not trimmed: %q", *detail.Diagnosis)
	}
	if detail.Panel.Readings[0].Name != "A" {
		t.Errorf("expected out of range reading first, got %s", detail.Panel.Readings[0].Name)
	}
	if detail.Actions[0].Priority != PriorityHigh {
		t.Error("expected high priority group first")
	}
	if len(repo.actions[detail.ID]) != 2 {
		t.Error("actions not stored")
	}
}

func TestService_Generate_Errors(t *testing.T) {
	svc, _, panels := newTestService()
	_, err := svc.Generate(context.Background(), GenerateInput{PatientID: uuid.New(), Actions: []*Action{{Title: " "}}})
	if err == nil {
		t.Error("expected error for blank action title")
	}

	panels.err = errors.New("db down")
	if _, err := svc.Generate(context.Background(), GenerateInput{PatientID: uuid.New()}); err == nil {
		t.Error("expected error when biomarkers cannot load")
	}
}

func TestService_DraftLifecycle(t *testing.T) {
	svc, _, panels := newTestService(reading("A", 15))
	ctx := context.Background()

	d, err := svc.Generate(ctx, GenerateInput{PatientID: uuid.New(), Title: "Revisión anual"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if d.RiskScore != 0 {
		t.Fatalf("expected score 0, got %d", d.RiskScore)
	}

	// New readings rescore a draft.
	panels.readings = append(panels.readings, reading("B", 50))
	actions := []*Action{{Title: "Repetir analítica", Priority: "high"}}
	d, err = svc.UpdateDraft(ctx, d.ID, DraftUpdate{Diagnosis: strPtr("Glucosa elevada"), Actions: &actions})
	if err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	if d.RiskScore != 50 || d.RiskLevel != RiskModerate {
		t.Errorf("expected rescored draft 50/moderate, got %d/%s", d.RiskScore, d.RiskLevel)
	}
	if len(d.Actions) != 1 || d.Title != "Revisión anual" {
		t.Errorf("unexpected detail %+v", d)
	}

	f, err := svc.Finalize(ctx, d.ID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if f.Status != StatusFinal {
		t.Error("expected final status")
	}

	// A final report keeps its signed score.
	panels.readings = []*biomarker.Reading{reading("A", 15)}
	got, _ := svc.GetDetail(ctx, d.ID)
	if got.RiskScore != 50 {
		t.Errorf("final score changed to %d", got.RiskScore)
	}

	if _, err := svc.UpdateDraft(ctx, d.ID, DraftUpdate{Title: strPtr("x")}); !errors.Is(err, ErrReportFinal) {
		t.Errorf("expected ErrReportFinal, got %v", err)
	}
	if _, err := svc.Finalize(ctx, d.ID); !errors.Is(err, ErrReportFinal) {
		t.Errorf("expected ErrReportFinal on second finalize, got %v", err)
	}
}

func TestService_GetDetail_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.GetDetail(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
