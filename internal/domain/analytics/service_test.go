package analytics

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/domain/processing"
	"github.com/healz/reports/internal/platform/blobstore"
	"github.com/healz/reports/internal/platform/db"
)

// -- Mocks --

type mockRepo struct {
	items map[uuid.UUID]*Analytics
	err   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Analytics)}
}

func (m *mockRepo) Create(_ context.Context, a *Analytics) error {
	if m.err != nil {
		return m.err
	}
	a.CreatedAt = time.Now()
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Analytics, error) {
	a, ok := m.items[id]
	if !ok {
		return nil, db.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Analytics, int, error) {
	var out []*Analytics
	for _, a := range m.items {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, len(out), nil
}

type fakeQueue struct {
	inputs []processing.JobInput
	err    error
}

func (f *fakeQueue) Enqueue(_ context.Context, in processing.JobInput) (*processing.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &processing.Job{ID: uuid.New(), PatientID: in.PatientID, AnalyticsID: in.AnalyticsID, Status: processing.StatusPending, Attempts: 1}, nil
}

// flakyStore fails the first failures uploads.
type flakyStore struct {
	*blobstore.MemoryStore
	failures int
	calls    int
}

func (s *flakyStore) Upload(ctx context.Context, bucket, objectPath string, content []byte, contentType string) (string, error) {
	s.calls++
	if s.calls <= s.failures {
		return "", errors.New("connection reset")
	}
	return s.MemoryStore.Upload(ctx, bucket, objectPath, content, contentType)
}

type testEnv struct {
	svc   *Service
	repo  *mockRepo
	store *flakyStore
	queue *fakeQueue
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:  newMockRepo(),
		store: &flakyStore{MemoryStore: blobstore.NewMemoryStore("http://files.test")},
		queue: &fakeQueue{},
	}
	env.svc = NewService(env.repo, env.store, env.queue, Config{Bucket: "labs", MaxAttempts: 3, BackoffStep: time.Millisecond}, zerolog.Nop())
	return env
}

var pdf = []byte("%PDF-1.4\n%analitica")

// -- Tests --

func TestService_Upload(t *testing.T) {
	env := newTestEnv()
	patientID := uuid.New()

	up, err := env.svc.Upload(context.Background(), patientID, "hemograma.pdf", "application/pdf", pdf)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	a := up.Analytics
	if a.SizeBytes != int64(len(pdf)) || a.MimeType != "application/pdf" || a.FileName != "hemograma.pdf" {
		t.Errorf("unexpected record: %+v", a)
	}
	if !strings.HasPrefix(a.StoragePath, "analytics/"+patientID.String()+"/") || !strings.HasSuffix(a.StoragePath, "-hemograma.pdf") {
		t.Errorf("unexpected storage path %s", a.StoragePath)
	}
	if a.URL != "http://files.test/labs/"+a.StoragePath {
		t.Errorf("unexpected url %s", a.URL)
	}
	if env.store.Len() != 1 {
		t.Errorf("expected one stored object, got %d", env.store.Len())
	}
	if len(env.queue.inputs) != 1 || *env.queue.inputs[0].AnalyticsID != a.ID || env.queue.inputs[0].FormID != nil {
		t.Errorf("expected one job for the analytics, got %+v", env.queue.inputs)
	}
	if up.Job == nil || up.Job.Status != processing.StatusPending {
		t.Errorf("expected a pending job, got %+v", up.Job)
	}
}

func TestService_Upload_RetriesTransientFailures(t *testing.T) {
	env := newTestEnv()
	env.store.failures = 2
	if _, err := env.svc.Upload(context.Background(), uuid.New(), "lab.pdf", "application/pdf", pdf); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if env.store.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", env.store.calls)
	}
}

func TestService_Upload_GivesUp(t *testing.T) {
	env := newTestEnv()
	env.store.failures = 3
	_, err := env.svc.Upload(context.Background(), uuid.New(), "lab.pdf", "application/pdf", pdf)
	if err == nil {
		t.Fatal("expected error after 3 failed attempts")
	}
	if env.store.calls != 3 || len(env.repo.items) != 0 || len(env.queue.inputs) != 0 {
		t.Errorf("nothing should be recorded: calls=%d items=%d jobs=%d", env.store.calls, len(env.repo.items), len(env.queue.inputs))
	}
}

func TestService_Upload_Rejects(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if _, err := env.svc.Upload(ctx, uuid.New(), "a.pdf", "application/pdf", nil); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("expected ErrEmptyFile, got %v", err)
	}
	if _, err := env.svc.Upload(ctx, uuid.New(), "a.exe", "application/x-msdownload", pdf); !errors.Is(err, blobstore.ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}

	small := NewService(env.repo, env.store, env.queue, Config{MaxSize: 4}, zerolog.Nop())
	if _, err := small.Upload(ctx, uuid.New(), "a.pdf", "application/pdf", pdf); !errors.Is(err, blobstore.ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
	if env.store.calls != 0 {
		t.Errorf("rejected files must not reach storage, got %d calls", env.store.calls)
	}
}

func TestService_Upload_RecordFailureRemovesObject(t *testing.T) {
	env := newTestEnv()
	env.repo.err = errors.New("db down")
	if _, err := env.svc.Upload(context.Background(), uuid.New(), "lab.pdf", "application/pdf", pdf); err == nil {
		t.Fatal("expected error")
	}
	if env.store.Len() != 0 {
		t.Errorf("expected stored object removed, %d left", env.store.Len())
	}
}

func TestService_Upload_QueueFailureKeepsRecord(t *testing.T) {
	env := newTestEnv()
	env.queue.err = errors.New("db down")
	up, err := env.svc.Upload(context.Background(), uuid.New(), "lab.pdf", "application/pdf", pdf)
	if err == nil {
		t.Fatal("expected error")
	}
	if up == nil || up.Analytics == nil || up.Job != nil {
		t.Fatalf("expected the stored analytics without a job, got %+v", up)
	}
	if _, ok := env.repo.items[up.Analytics.ID]; !ok {
		t.Error("analytics record should be kept")
	}
}

func TestService_GetAndOpen(t *testing.T) {
	env := newTestEnv()
	up, _ := env.svc.Upload(context.Background(), uuid.New(), "lab.pdf", "application/pdf", pdf)

	a, rc, err := env.svc.Open(context.Background(), up.Analytics.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != string(pdf) || a.FileName != "lab.pdf" {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := env.svc.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestObjectPath(t *testing.T) {
	p, u := uuid.New(), uuid.New()
	got := ObjectPath(p, u, "../../etc/passwd")
	if strings.Contains(got, "..") {
		t.Errorf("path traversal survived: %s", got)
	}
	if got := ObjectPath(p, u, "  "); !strings.HasSuffix(got, u.String()+"-file") {
		t.Errorf("expected placeholder name, got %s", got)
	}
}
