package form

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/domain/questionnaire"
	"github.com/healz/reports/internal/platform/db"
)

// DefaultTokenTTL applies when neither the caller nor configuration sets one.
const DefaultTokenTTL = 30 * 24 * time.Hour

// CompletionListener is notified after a form submission commits.
type CompletionListener interface {
	FormCompleted(ctx context.Context, f *Instance) error
}

type Service struct {
	forms     FormRepository
	questions QuestionRepository
	tx        db.Transactor
	tokenTTL  time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	listeners []CompletionListener

	mu         sync.RWMutex
	catalog    *questionnaire.Catalog
	catalogGen uint64
}

func NewService(forms FormRepository, questions QuestionRepository, tx db.Transactor, tokenTTL time.Duration, logger zerolog.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	if tx == nil {
		tx = db.NoTx
	}
	return &Service{
		forms:     forms,
		questions: questions,
		tx:        tx,
		tokenTTL:  tokenTTL,
		logger:    logger.With().Str("component", "form").Logger(),
		now:       time.Now,
	}
}

// OnCompleted registers l to run after each successful submission.
func (s *Service) OnCompleted(l CompletionListener) {
	s.listeners = append(s.listeners, l)
}

// NewToken returns an opaque access token.
func NewToken(now time.Time) string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(now), rand.Reader).String())
}

// -- Form Instances --

func (s *Service) CreateForm(ctx context.Context, patientID uuid.UUID, ttl time.Duration) (*Instance, error) {
	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if ttl <= 0 {
		ttl = s.tokenTTL
	}
	now := s.now()
	f := &Instance{
		PatientID: patientID,
		Token:     NewToken(now),
		Status:    StatusPending,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.forms.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}
	return f, nil
}

func (s *Service) GetForm(ctx context.Context, id uuid.UUID) (*Instance, error) {
	f, err := s.forms.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrFormNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	return s.forms.ListByPatient(ctx, patientID, limit, offset)
}

// ResolveByToken returns the form behind token. Completed and expired forms
// come back together with ErrFormCompleted or ErrFormExpired so callers can
// render the matching terminal page.
func (s *Service) ResolveByToken(ctx context.Context, token string) (*Instance, error) {
	if token == "" {
		return nil, ErrFormNotFound
	}
	f, err := s.forms.GetByToken(ctx, token)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrFormNotFound
		}
		return nil, fmt.Errorf("resolve form: %w", err)
	}
	if err := f.Check(s.now()); err != nil {
		if errors.Is(err, ErrFormExpired) && f.Status == StatusPending {
			if merr := s.forms.MarkExpired(ctx, f.ID); merr != nil {
				s.logger.Warn().Err(merr).Str("form_id", f.ID.String()).Msg("mark form expired")
			} else {
				f.Status = StatusExpired
			}
		}
		return f, err
	}
	return f, nil
}

// SubmitCompleted stores the envelope's answers and files and marks the form
// completed, all in one transaction. A second submission for the same token
// gets ErrFormCompleted.
func (s *Service) SubmitCompleted(ctx context.Context, env *Envelope) (*Instance, error) {
	if env == nil || env.Token == "" {
		return nil, fmt.Errorf("envelope token is required")
	}

	stored := make([]*StoredAnswer, 0, len(env.Answers))
	for qid, a := range env.Answers {
		raw, err := a.StoredValue()
		if err != nil {
			return nil, fmt.Errorf("encode answer %s: %w", qid, err)
		}
		stored = append(stored, &StoredAnswer{QuestionID: qid, Kind: a.Kind(), Value: raw})
	}
	files := make([]*FileRecord, 0, len(env.Files))
	for _, m := range env.Files {
		files = append(files, &FileRecord{
			QuestionID:  m.QuestionID,
			FileName:    m.FileName,
			MimeType:    m.MimeType,
			SizeBytes:   m.Size,
			StoragePath: optional(m.Path),
			URL:         optional(m.URL),
			Error:       optional(m.Error),
		})
	}

	var f *Instance
	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.forms.LockByToken(ctx, env.Token)
		if err != nil {
			if db.IsNotFound(err) {
				return ErrFormNotFound
			}
			return err
		}
		if env.FormID != uuid.Nil && f.ID != env.FormID {
			return ErrFormNotFound
		}
		if err := f.Check(s.now()); err != nil {
			return err
		}
		if err := s.forms.SaveAnswers(ctx, f.ID, stored); err != nil {
			return err
		}
		if err := s.forms.SaveFiles(ctx, f.ID, files); err != nil {
			return err
		}
		return s.forms.MarkCompleted(ctx, f)
	})
	if err != nil {
		return nil, err
	}

	for _, l := range s.listeners {
		if lerr := l.FormCompleted(ctx, f); lerr != nil {
			s.logger.Error().Err(lerr).Str("form_id", f.ID.String()).Msg("completion listener failed")
		}
	}
	return f, nil
}

// GetSubmission returns a form's stored answers joined with their questions,
// in step order.
func (s *Service) GetSubmission(ctx context.Context, formID uuid.UUID) (*Submission, error) {
	f, err := s.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	stored, err := s.forms.ListAnswers(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	files, err := s.forms.ListFiles(ctx, formID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	cat, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]AnswerView, 0, len(stored))
	for _, sa := range stored {
		a, err := questionnaire.DecodeAnswer(sa.Kind, sa.Value)
		if err != nil {
			return nil, err
		}
		v := AnswerView{QuestionID: sa.QuestionID, Kind: string(sa.Kind), Value: a.Value(), Order: -1}
		if q, ok := cat.Get(sa.QuestionID); ok {
			v.Question, v.Category, v.Order = q.Text, q.Category, q.Order
		}
		views = append(views, v)
	}
	sort.SliceStable(views, func(i, j int) bool {
		ri, rj := rank(views[i].Category), rank(views[j].Category)
		if ri != rj {
			return ri < rj
		}
		return views[i].Order < views[j].Order
	})
	return &Submission{Form: f, Answers: views, Files: files}, nil
}

func rank(category string) int {
	if r := questionnaire.CategoryRank(category); r >= 0 {
		return r
	}
	return 1 << 10
}

// -- Question Catalog --

func (s *Service) invalidate() {
	s.mu.Lock()
	s.catalog = nil
	s.catalogGen++
	s.mu.Unlock()
}

func (s *Service) CreateQuestion(ctx context.Context, q *questionnaire.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if err := s.questions.Create(ctx, q); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) GetQuestion(ctx context.Context, id uuid.UUID) (*questionnaire.Question, error) {
	return s.questions.GetByID(ctx, id)
}

func (s *Service) UpdateQuestion(ctx context.Context, q *questionnaire.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if err := s.questions.Update(ctx, q); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	if err := s.questions.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

func (s *Service) ListQuestions(ctx context.Context) ([]*questionnaire.Question, error) {
	return s.questions.List(ctx)
}

// Catalog returns the grouped question catalog, rebuilt after any question
// write.
func (s *Service) Catalog(ctx context.Context) (*questionnaire.Catalog, error) {
	s.mu.RLock()
	c, gen := s.catalog, s.catalogGen
	s.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	qs, err := s.questions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	flat := make([]questionnaire.Question, len(qs))
	for i, q := range qs {
		flat[i] = *q
	}
	c, err = questionnaire.NewCatalog(flat)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	// A write that landed while loading makes c stale; serve it but don't cache it.
	s.mu.Lock()
	if s.catalogGen == gen {
		s.catalog = c
	}
	s.mu.Unlock()
	return c, nil
}
