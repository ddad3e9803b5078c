package form

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/domain/questionnaire"
	"github.com/healz/reports/internal/platform/db"
)

// -- Mock Repositories --

type mockFormRepo struct {
	forms   map[uuid.UUID]*Instance
	answers map[uuid.UUID][]*StoredAnswer
	files   map[uuid.UUID][]*FileRecord
	expired int
}

func newMockFormRepo() *mockFormRepo {
	return &mockFormRepo{
		forms:   make(map[uuid.UUID]*Instance),
		answers: make(map[uuid.UUID][]*StoredAnswer),
		files:   make(map[uuid.UUID][]*FileRecord),
	}
}

func (m *mockFormRepo) Create(_ context.Context, f *Instance) error {
	f.ID = uuid.New()
	f.CreatedAt = time.Now()
	m.forms[f.ID] = f
	return nil
}

func (m *mockFormRepo) GetByID(_ context.Context, id uuid.UUID) (*Instance, error) {
	f, ok := m.forms[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	return f, nil
}

func (m *mockFormRepo) GetByToken(_ context.Context, token string) (*Instance, error) {
	for _, f := range m.forms {
		if f.Token == token {
			return f, nil
		}
	}
	return nil, db.ErrNoRows
}

func (m *mockFormRepo) LockByToken(ctx context.Context, token string) (*Instance, error) {
	return m.GetByToken(ctx, token)
}

func (m *mockFormRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	var result []*Instance
	for _, f := range m.forms {
		if f.PatientID == patientID {
			result = append(result, f)
		}
	}
	return result, len(result), nil
}

func (m *mockFormRepo) MarkCompleted(_ context.Context, f *Instance) error {
	now := time.Now()
	f.Status = StatusCompleted
	f.CompletedAt = &now
	return nil
}

func (m *mockFormRepo) MarkExpired(_ context.Context, id uuid.UUID) error {
	m.expired++
	return nil
}

func (m *mockFormRepo) SaveAnswers(_ context.Context, formID uuid.UUID, answers []*StoredAnswer) error {
	m.answers[formID] = append(m.answers[formID], answers...)
	return nil
}

func (m *mockFormRepo) ListAnswers(_ context.Context, formID uuid.UUID) ([]*StoredAnswer, error) {
	return m.answers[formID], nil
}

func (m *mockFormRepo) SaveFiles(_ context.Context, formID uuid.UUID, files []*FileRecord) error {
	m.files[formID] = append(m.files[formID], files...)
	return nil
}

func (m *mockFormRepo) ListFiles(_ context.Context, formID uuid.UUID) ([]*FileRecord, error) {
	return m.files[formID], nil
}

type mockQuestionRepo struct {
	questions map[uuid.UUID]*questionnaire.Question
	lists     int
	onList    func()
}

func newMockQuestionRepo() *mockQuestionRepo {
	return &mockQuestionRepo{questions: make(map[uuid.UUID]*questionnaire.Question)}
}

func (m *mockQuestionRepo) Create(_ context.Context, q *questionnaire.Question) error {
	q.ID = uuid.New()
	m.questions[q.ID] = q
	return nil
}

func (m *mockQuestionRepo) GetByID(_ context.Context, id uuid.UUID) (*questionnaire.Question, error) {
	q, ok := m.questions[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	return q, nil
}

func (m *mockQuestionRepo) Update(_ context.Context, q *questionnaire.Question) error {
	if _, ok := m.questions[q.ID]; !ok {
		return db.ErrNoRows
	}
	m.questions[q.ID] = q
	return nil
}

func (m *mockQuestionRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.questions, id)
	return nil
}

func (m *mockQuestionRepo) List(_ context.Context) ([]*questionnaire.Question, error) {
	m.lists++
	var out []*questionnaire.Question
	for _, q := range m.questions {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	if hook := m.onList; hook != nil {
		m.onList = nil
		hook()
	}
	return out, nil
}

type recordingListener struct{ completed []uuid.UUID }

func (l *recordingListener) FormCompleted(_ context.Context, f *Instance) error {
	l.completed = append(l.completed, f.ID)
	return nil
}

func newTestService() (*Service, *mockFormRepo, *mockQuestionRepo) {
	forms, questions := newMockFormRepo(), newMockQuestionRepo()
	return NewService(forms, questions, db.NoTx, time.Hour, zerolog.Nop()), forms, questions
}

func TestCreateForm(t *testing.T) {
	svc, _, _ := newTestService()
	f, err := svc.CreateForm(context.Background(), uuid.New(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Status != StatusPending {
		t.Errorf("expected pending, got %s", f.Status)
	}
	if len(f.Token) != 26 {
		t.Errorf("expected 26-char token, got %q", f.Token)
	}
	if ttl := time.Until(f.ExpiresAt); ttl < 59*time.Minute || ttl > time.Hour {
		t.Errorf("expected default ttl of one hour, got %s", ttl)
	}
	if _, err := svc.CreateForm(context.Background(), uuid.Nil, 0); err == nil {
		t.Error("expected error for missing patient")
	}
}

func TestNewToken_Unique(t *testing.T) {
	now := time.Now()
	if NewToken(now) == NewToken(now) {
		t.Error("tokens must not repeat")
	}
}

func TestResolveByToken_TerminalStates(t *testing.T) {
	svc, forms, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.ResolveByToken(ctx, "nope"); !errors.Is(err, ErrFormNotFound) {
		t.Errorf("expected ErrFormNotFound, got %v", err)
	}

	f, _ := svc.CreateForm(ctx, uuid.New(), time.Hour)
	got, err := svc.ResolveByToken(ctx, f.Token)
	if err != nil || got.ID != f.ID {
		t.Fatalf("expected pending form, got %v", err)
	}

	f.ExpiresAt = time.Now().Add(-time.Minute)
	got, err = svc.ResolveByToken(ctx, f.Token)
	if !errors.Is(err, ErrFormExpired) {
		t.Errorf("expected ErrFormExpired, got %v", err)
	}
	if got == nil || got.Status != StatusExpired || forms.expired != 1 {
		t.Error("expected the form to be marked expired")
	}

	done, _ := svc.CreateForm(ctx, uuid.New(), time.Hour)
	done.Status = StatusCompleted
	if _, err := svc.ResolveByToken(ctx, done.Token); !errors.Is(err, ErrFormCompleted) {
		t.Errorf("expected ErrFormCompleted, got %v", err)
	}
}

func TestSubmitCompleted_OnlyOnce(t *testing.T) {
	svc, forms, _ := newTestService()
	l := &recordingListener{}
	svc.OnCompleted(l)
	ctx := context.Background()
	f, _ := svc.CreateForm(ctx, uuid.New(), time.Hour)

	qid, fileQ := uuid.New(), uuid.New()
	env := &Envelope{
		FormID: f.ID,
		Token:  f.Token,
		Answers: questionnaire.AnswerMap{
			qid:   questionnaire.TextAnswer("Ana"),
			fileQ: questionnaire.FileAnswer(questionnaire.FileRef{FileName: "lab.pdf", Error: "timeout"}),
		},
		Files: []FileMetadata{{QuestionID: fileQ, FileName: "lab.pdf", MimeType: "application/pdf", Size: 10, Error: "timeout"}},
	}
	got, err := svc.SubmitCompleted(ctx, env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Error("expected form completed")
	}
	if len(forms.answers[f.ID]) != 2 || len(forms.files[f.ID]) != 1 {
		t.Errorf("expected 2 answers and 1 file stored")
	}
	if rec := forms.files[f.ID][0]; rec.Error == nil || rec.StoragePath != nil {
		t.Errorf("expected error recorded without a path, got %+v", rec)
	}
	if len(l.completed) != 1 {
		t.Errorf("expected listener to fire once, got %d", len(l.completed))
	}

	if _, err := svc.SubmitCompleted(ctx, env); !errors.Is(err, ErrFormCompleted) {
		t.Errorf("expected ErrFormCompleted on resubmit, got %v", err)
	}
	if len(l.completed) != 1 {
		t.Error("listener must not fire for a rejected submission")
	}
}

func TestSubmitCompleted_ExpiredOrUnknown(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.SubmitCompleted(ctx, &Envelope{Token: "missing"}); !errors.Is(err, ErrFormNotFound) {
		t.Errorf("expected ErrFormNotFound, got %v", err)
	}
	f, _ := svc.CreateForm(ctx, uuid.New(), time.Hour)
	f.ExpiresAt = time.Now().Add(-time.Second)
	if _, err := svc.SubmitCompleted(ctx, &Envelope{Token: f.Token}); !errors.Is(err, ErrFormExpired) {
		t.Errorf("expected ErrFormExpired, got %v", err)
	}
}

func TestGetSubmission_StepOrder(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	life := &questionnaire.Question{Text: "Dieta", Type: questionnaire.TypeText, Category: questionnaire.CategoryLifestyle, Order: 1}
	general := &questionnaire.Question{Text: "Nombre", Type: questionnaire.TypeText, Category: questionnaire.CategoryGeneralInfo, Order: 5}
	for _, q := range []*questionnaire.Question{life, general} {
		if err := svc.CreateQuestion(ctx, q); err != nil {
			t.Fatalf("create question: %v", err)
		}
	}
	f, _ := svc.CreateForm(ctx, uuid.New(), time.Hour)
	_, err := svc.SubmitCompleted(ctx, &Envelope{Token: f.Token, Answers: questionnaire.AnswerMap{
		life.ID:    questionnaire.TextAnswer("vegana"),
		general.ID: questionnaire.TextAnswer("Ana"),
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	sub, err := svc.GetSubmission(ctx, f.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.Answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(sub.Answers))
	}
	if sub.Answers[0].Question != "Nombre" || sub.Answers[1].Value != "vegana" {
		t.Errorf("unexpected order: %+v", sub.Answers)
	}
}

func TestCatalog_CachedUntilWrite(t *testing.T) {
	svc, _, questions := newTestService()
	ctx := context.Background()
	svc.CreateQuestion(ctx, &questionnaire.Question{Text: "a", Type: questionnaire.TypeText, Category: questionnaire.CategoryGoals})

	svc.Catalog(ctx)
	svc.Catalog(ctx)
	if questions.lists != 1 {
		t.Errorf("expected one load, got %d", questions.lists)
	}
	svc.CreateQuestion(ctx, &questionnaire.Question{Text: "b", Type: questionnaire.TypeText, Category: questionnaire.CategoryGoals})
	c, _ := svc.Catalog(ctx)
	if questions.lists != 2 || c.Len() != 2 {
		t.Errorf("expected reload after write, lists=%d len=%d", questions.lists, c.Len())
	}
}

func TestCatalog_WriteDuringLoadIsNotCached(t *testing.T) {
	svc, _, questions := newTestService()
	ctx := context.Background()
	svc.CreateQuestion(ctx, &questionnaire.Question{Text: "a", Type: questionnaire.TypeText, Category: questionnaire.CategoryGoals})

	questions.onList = func() {
		svc.CreateQuestion(ctx, &questionnaire.Question{Text: "b", Type: questionnaire.TypeText, Category: questionnaire.CategoryGoals})
	}
	first, err := svc.Catalog(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Len() != 1 {
		t.Fatalf("expected the snapshot taken before the write, got %d questions", first.Len())
	}

	c, _ := svc.Catalog(ctx)
	if c.Len() != 2 {
		t.Errorf("expected the concurrent write to be visible, got %d questions", c.Len())
	}
	if questions.lists != 2 {
		t.Errorf("expected a reload after the stale load, got %d loads", questions.lists)
	}
}

func TestCreateQuestion_Invalid(t *testing.T) {
	svc, _, _ := newTestService()
	err := svc.CreateQuestion(context.Background(), &questionnaire.Question{Text: "x", Type: questionnaire.TypeSelect, Category: "goals"})
	if err == nil {
		t.Error("expected error for select without choices")
	}
}
