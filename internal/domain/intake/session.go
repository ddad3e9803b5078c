// Package intake runs the public questionnaire: one in-memory session per
// form token, file staging, and the submission assembler that uploads
// attachments and hands the envelope to the form service.
package intake

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healz/reports/internal/domain/form"
	"github.com/healz/reports/internal/domain/questionnaire"
	"github.com/healz/reports/internal/platform/blobstore"
)

var (
	ErrSessionConsumed  = errors.New("form session already submitted")
	ErrSubmitInProgress = errors.New("submission already in progress")
	ErrUnknownQuestion  = errors.New("question is not part of this form")
	ErrNotFileQuestion  = errors.New("question does not accept files")
	ErrFileQuestion     = errors.New("file questions take an upload, not a value")
	ErrEmptyFile        = errors.New("file is empty")
)

// StagedFile is an attachment held in memory until submission.
type StagedFile struct {
	QuestionID uuid.UUID
	FileName   string
	MimeType   string
	Size       int64
	Data       []byte
}

// Session is the state of one respondent filling in one form. All methods
// are safe for concurrent use; mutations are serialised.
type Session struct {
	mu sync.Mutex

	form    *form.Instance
	catalog *questionnaire.Catalog
	nav     *questionnaire.Navigator
	answers questionnaire.AnswerMap
	staged  map[uuid.UUID]*StagedFile

	submitting bool
	consumed   bool
	lastSeen   time.Time
}

func NewSession(f *form.Instance, c *questionnaire.Catalog, now time.Time) *Session {
	return &Session{
		form:     f,
		catalog:  c,
		nav:      questionnaire.NewNavigator(c),
		answers:  make(questionnaire.AnswerMap),
		staged:   make(map[uuid.UUID]*StagedFile),
		lastSeen: now,
	}
}

func (s *Session) Form() *form.Instance { return s.form }

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen), s.submitting
}

// mutable must be called with mu held.
func (s *Session) mutable() error {
	if s.consumed {
		return ErrSessionConsumed
	}
	if s.submitting {
		return ErrSubmitInProgress
	}
	return nil
}

// SetAnswer validates raw against the question type and stores it.
func (s *Session) SetAnswer(questionID uuid.UUID, raw any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	q, ok := s.catalog.Get(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if q.Type == questionnaire.TypeFile {
		return ErrFileQuestion
	}
	a, err := questionnaire.NewAnswer(q, raw)
	if err != nil {
		return err
	}
	s.answers[questionID] = a
	return nil
}

// StageFile keeps data for a file question until submission. A second file
// for the same question replaces the first.
func (s *Session) StageFile(questionID uuid.UUID, fileName, mimeType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	q, ok := s.catalog.Get(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if q.Type != questionnaire.TypeFile {
		return ErrNotFileQuestion
	}
	if len(data) == 0 {
		return ErrEmptyFile
	}
	if !blobstore.IsAllowedContentType(mimeType, q.Options.Accept) {
		return fmt.Errorf("%w: %s", blobstore.ErrInvalidContentType, mimeType)
	}
	limit := int64(blobstore.MaxFileSize)
	if q.Options.MaxSizeBytes > 0 && q.Options.MaxSizeBytes < limit {
		limit = q.Options.MaxSizeBytes
	}
	if int64(len(data)) > limit {
		return fmt.Errorf("%w: %d bytes, limit %d", blobstore.ErrFileTooLarge, len(data), limit)
	}

	sf := &StagedFile{
		QuestionID: questionID,
		FileName:   fileName,
		MimeType:   mimeType,
		Size:       int64(len(data)),
		Data:       data,
	}
	s.staged[questionID] = sf
	s.answers[questionID] = questionnaire.FileAnswer(questionnaire.FileRef{
		FileName: sf.FileName,
		MimeType: sf.MimeType,
		Size:     sf.Size,
	})
	return nil
}

// ClearFile drops the staged file and its placeholder answer.
func (s *Session) ClearFile(questionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	q, ok := s.catalog.Get(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if q.Type != questionnaire.TypeFile {
		return ErrNotFileQuestion
	}
	delete(s.staged, questionID)
	delete(s.answers, questionID)
	return nil
}

// MissingRequired lists unanswered required questions of the current step.
func (s *Session) MissingRequired() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nav.MissingRequired(s.answers)
}

// Next moves forward one step. It does not validate; see MissingRequired.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	s.nav.Next(s.answers)
	return nil
}

func (s *Session) Previous() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	s.nav.Previous(s.answers)
	return nil
}

// begin freezes the session for submission and returns copies of its state.
func (s *Session) begin() (questionnaire.AnswerMap, []*StagedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return nil, nil, err
	}
	s.submitting = true
	staged := make([]*StagedFile, 0, len(s.staged))
	for _, sf := range s.staged {
		staged = append(staged, sf)
	}
	return s.answers.Clone(), staged, nil
}

// finish ends a submission. A consumed session rejects every later call.
func (s *Session) finish(consumed bool) {
	s.mu.Lock()
	s.submitting = false
	if consumed {
		s.consumed = true
		s.staged = nil
	}
	s.mu.Unlock()
}

func (s *Session) Consumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed
}

// -- Views --

// FileInfo describes a staged attachment without its content.
type FileInfo struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type QuestionView struct {
	*questionnaire.Question
	Answer *questionnaire.Answer `json:"answer,omitempty"`
	File   *FileInfo             `json:"file,omitempty"`
}

// View is what the public page renders for the current step.
type View struct {
	Token      string         `json:"token"`
	ExpiresAt  time.Time      `json:"expires_at"`
	StepIndex  int            `json:"step_index"`
	StepCount  int            `json:"step_count"`
	Category   string         `json:"category"`
	Categories []string       `json:"categories"`
	Questions  []QuestionView `json:"questions"`
	Missing    []uuid.UUID    `json:"missing"`
	CanAdvance bool           `json:"can_advance"`
	IsLast     bool           `json:"is_last"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps := s.catalog.Steps(s.answers)
	v := View{
		Token:     s.form.Token,
		ExpiresAt: s.form.ExpiresAt,
		StepCount: len(steps),
		Missing:   s.nav.MissingRequired(s.answers),
		IsLast:    s.nav.IsLast(s.answers),
	}
	v.CanAdvance = len(v.Missing) == 0
	for _, st := range steps {
		v.Categories = append(v.Categories, st.Category)
	}
	step, ok := s.nav.Current(s.answers)
	if !ok {
		return v
	}
	v.StepIndex = s.nav.Index(s.answers)
	v.Category = step.Category
	for _, q := range step.Questions {
		qv := QuestionView{Question: q}
		if a, ok := s.answers[q.ID]; ok {
			a := a
			qv.Answer = &a
		}
		if sf, ok := s.staged[q.ID]; ok {
			qv.File = &FileInfo{FileName: sf.FileName, MimeType: sf.MimeType, Size: sf.Size}
		}
		v.Questions = append(v.Questions, qv)
	}
	return v
}
