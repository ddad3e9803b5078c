package form

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/healz/reports/internal/domain/questionnaire"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
)

// The three terminal outcomes of resolving a token. Each gets its own
// message on the public page.
var (
	ErrFormNotFound  = errors.New("form not found")
	ErrFormExpired   = errors.New("form link has expired")
	ErrFormCompleted = errors.New("form has already been completed")
)

// Instance maps to the forms table.
type Instance struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	Token       string     `db:"token" json:"token"`
	Status      string     `db:"status" json:"status"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// State resolves the effective status at now; a pending form past its
// expiry reads as expired.
func (f *Instance) State(now time.Time) string {
	if f.Status == StatusPending && !now.Before(f.ExpiresAt) {
		return StatusExpired
	}
	return f.Status
}

// Check returns the terminal error for f at now, or nil when it can still
// be filled in.
func (f *Instance) Check(now time.Time) error {
	switch f.State(now) {
	case StatusCompleted:
		return ErrFormCompleted
	case StatusExpired:
		return ErrFormExpired
	}
	return nil
}

// StoredAnswer maps to the form_answers table.
type StoredAnswer struct {
	ID         uuid.UUID                `db:"id" json:"id"`
	FormID     uuid.UUID                `db:"form_id" json:"form_id"`
	QuestionID uuid.UUID                `db:"question_id" json:"question_id"`
	Kind       questionnaire.AnswerKind `db:"kind" json:"kind"`
	Value      json.RawMessage          `db:"value" json:"value"`
	CreatedAt  time.Time                `db:"created_at" json:"created_at"`
}

// FileRecord maps to the form_files table.
type FileRecord struct {
	ID          uuid.UUID `db:"id" json:"id"`
	FormID      uuid.UUID `db:"form_id" json:"form_id"`
	QuestionID  uuid.UUID `db:"question_id" json:"question_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	MimeType    string    `db:"mime_type" json:"mime_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	StoragePath *string   `db:"storage_path" json:"storage_path,omitempty"`
	URL         *string   `db:"url" json:"url,omitempty"`
	Error       *string   `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Envelope is the write-once submission of a completed form. File answers
// in Answers are already resolved to a storage reference or an upload error
// marker.
type Envelope struct {
	FormID  uuid.UUID
	Token   string
	Answers questionnaire.AnswerMap
	Files   []FileMetadata
}

// FileMetadata describes one attachment of an envelope.
type FileMetadata struct {
	QuestionID uuid.UUID `json:"question_id"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	Path       string    `json:"path,omitempty"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// AnswerView is one answer joined with its question for practitioner
// review.
type AnswerView struct {
	QuestionID uuid.UUID `json:"question_id"`
	Question   string    `json:"question"`
	Category   string    `json:"category"`
	Order      int       `json:"order"`
	Kind       string    `json:"kind"`
	Value      any       `json:"value"`
}

// Submission is a completed form with its answers and files.
type Submission struct {
	Form    *Instance     `json:"form"`
	Answers []AnswerView  `json:"answers"`
	Files   []*FileRecord `json:"files"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
