package intake

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/healz/reports/internal/domain/form"
	"github.com/healz/reports/internal/domain/questionnaire"
	"github.com/healz/reports/internal/platform/backoff"
	"github.com/healz/reports/internal/platform/blobstore"
)

// ErrAlreadyCompleted means another submission for the same token won. It is
// a terminal state, not a failure of this request.
var ErrAlreadyCompleted = form.ErrFormCompleted

// SubmissionError is a failure to deliver the envelope itself, as opposed to
// a degraded attachment. The session stays open so the respondent can retry.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return "submission failed: " + e.Err.Error() }
func (e *SubmissionError) Unwrap() error { return e.Err }

// ValidationError lists required questions left unanswered anywhere in the
// form.
type ValidationError struct {
	Missing []uuid.UUID
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d required questions are unanswered", len(e.Missing))
}

// Submitter persists a completed envelope.
type Submitter interface {
	SubmitCompleted(ctx context.Context, env *form.Envelope) (*form.Instance, error)
}

// EncodedFile is a staged file ready for transfer. Name, MIME type and size
// travel with the payload.
type EncodedFile struct {
	QuestionID uuid.UUID `json:"question_id"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Data       string    `json:"data"`
}

// Decode returns the raw bytes and checks them against Size.
func (e EncodedFile) Decode() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(e.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.FileName, err)
	}
	if int64(len(b)) != e.Size {
		return nil, fmt.Errorf("decode %s: size %d does not match %d", e.FileName, len(b), e.Size)
	}
	return b, nil
}

// PrepareFiles encodes every staged file, keyed by question.
func PrepareFiles(staged []*StagedFile) map[uuid.UUID]EncodedFile {
	out := make(map[uuid.UUID]EncodedFile, len(staged))
	for _, sf := range staged {
		out[sf.QuestionID] = EncodedFile{
			QuestionID: sf.QuestionID,
			FileName:   sf.FileName,
			MimeType:   sf.MimeType,
			Size:       sf.Size,
			Data:       base64.StdEncoding.EncodeToString(sf.Data),
		}
	}
	return out
}

type AssemblerConfig struct {
	Bucket      string
	MaxAttempts int
	BackoffStep time.Duration
	// Parallelism caps concurrent uploads per submission.
	Parallelism int
}

func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		Bucket:      "healz-files",
		MaxAttempts: 3,
		BackoffStep: 500 * time.Millisecond,
		Parallelism: 4,
	}
}

// Assembler uploads a session's files and submits the envelope once.
type Assembler struct {
	store     blobstore.Store
	submitter Submitter
	cfg       AssemblerConfig
	logger    zerolog.Logger
}

func NewAssembler(store blobstore.Store, submitter Submitter, cfg AssemblerConfig, logger zerolog.Logger) *Assembler {
	def := DefaultAssemblerConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = def.Bucket
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = def.Parallelism
	}
	return &Assembler{
		store:     store,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger.With().Str("component", "intake_assembler").Logger(),
	}
}

// Result of a delivered submission. Degraded lists attachments replaced by
// an error marker.
type Result struct {
	Form     *form.Instance          `json:"form"`
	Files    []form.FileMetadata     `json:"files"`
	Degraded []form.FileMetadata     `json:"degraded,omitempty"`
	Answers  questionnaire.AnswerMap `json:"-"`
}

// Submit uploads staged files, waits for every upload to settle, then sends
// the envelope exactly once. A file that fails every attempt is replaced by
// an error marker and does not stop the submission.
func (a *Assembler) Submit(ctx context.Context, s *Session) (*Result, error) {
	answers, staged, err := s.begin()
	if err != nil {
		return nil, err
	}
	consumed := false
	defer func() { s.finish(consumed) }()

	if missing := s.catalog.MissingAll(answers); len(missing) > 0 {
		return nil, &ValidationError{Missing: missing}
	}
	// Answers to questions hidden by the final state are not submitted.
	for _, id := range s.catalog.HiddenIDs(answers) {
		delete(answers, id)
	}

	metas := a.uploadAll(ctx, s.form.ID, PrepareFiles(staged), answers)

	res := &Result{Files: metas, Answers: answers}
	for _, m := range metas {
		if m.Error != "" {
			res.Degraded = append(res.Degraded, m)
		}
	}

	env := &form.Envelope{FormID: s.form.ID, Token: s.form.Token, Answers: answers, Files: metas}
	f, err := a.submitter.SubmitCompleted(ctx, env)
	if err != nil {
		switch {
		case errors.Is(err, form.ErrFormCompleted), errors.Is(err, form.ErrFormExpired), errors.Is(err, form.ErrFormNotFound):
			consumed = true
			return nil, err
		}
		a.logger.Error().Err(err).Str("form_id", s.form.ID.String()).Msg("envelope submission failed")
		return nil, &SubmissionError{Err: err}
	}
	consumed = true
	res.Form = f
	return res, nil
}

type uploadOutcome struct {
	meta form.FileMetadata
	ref  questionnaire.FileRef
}

// uploadAll runs one upload per file and returns after all of them settle.
// Hidden file questions are skipped.
func (a *Assembler) uploadAll(ctx context.Context, formID uuid.UUID, files map[uuid.UUID]EncodedFile, answers questionnaire.AnswerMap) []form.FileMetadata {
	p := pool.NewWithResults[uploadOutcome]().WithMaxGoroutines(a.cfg.Parallelism)
	for qid, ef := range files {
		if _, ok := answers[qid]; !ok {
			continue
		}
		ef := ef
		p.Go(func() uploadOutcome { return a.uploadOne(ctx, formID, ef) })
	}
	outcomes := p.Wait()

	metas := make([]form.FileMetadata, 0, len(outcomes))
	for _, o := range outcomes {
		answers[o.meta.QuestionID] = questionnaire.FileAnswer(o.ref)
		metas = append(metas, o.meta)
	}
	return metas
}

func (a *Assembler) uploadOne(ctx context.Context, formID uuid.UUID, ef EncodedFile) uploadOutcome {
	ref := questionnaire.FileRef{FileName: ef.FileName, MimeType: ef.MimeType, Size: ef.Size}
	meta := form.FileMetadata{QuestionID: ef.QuestionID, FileName: ef.FileName, MimeType: ef.MimeType, Size: ef.Size}
	log := a.logger.With().Str("form_id", formID.String()).Str("question_id", ef.QuestionID.String()).Str("file", ef.FileName).Logger()

	objectPath := ObjectPath(formID, ef.QuestionID, ef.FileName)
	err := backoff.Do(ctx, a.cfg.BackoffStep, a.cfg.MaxAttempts, func(ctx context.Context, attempt int) error {
		data, err := ef.Decode()
		if err != nil {
			return err
		}
		stored, err := a.store.Upload(ctx, a.cfg.Bucket, objectPath, data, ef.MimeType)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("attachment upload failed")
			if permanentUploadError(err) {
				return err
			}
			return backoff.Retryable(err)
		}
		ref.Path = stored
		ref.URL = a.store.PublicURL(a.cfg.Bucket, stored)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("attachment dropped after retries")
		ref.Path, ref.URL = "", ""
		ref.Error = questionnaire.UploadErrorMarker(ef.FileName)
		meta.Error = ref.Error
		return uploadOutcome{meta: meta, ref: ref}
	}
	meta.Path, meta.URL = ref.Path, ref.URL
	return uploadOutcome{meta: meta, ref: ref}
}

func permanentUploadError(err error) bool {
	return errors.Is(err, blobstore.ErrInvalidPath) ||
		errors.Is(err, blobstore.ErrFileTooLarge) ||
		errors.Is(err, blobstore.ErrInvalidContentType)
}

// ObjectPath is where a form attachment is stored.
func ObjectPath(formID, questionID uuid.UUID, fileName string) string {
	return path.Join("forms", formID.String(), questionID.String(), safeName(fileName))
}

func safeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
	if name == "" {
		return "file"
	}
	return name
}
