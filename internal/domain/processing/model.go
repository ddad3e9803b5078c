// Package processing tracks the jobs handed to the external workflow that
// extracts biomarkers and drafts a diagnosis, and applies its callbacks.
package processing

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/healz/reports/internal/domain/biomarker"
	"github.com/healz/reports/internal/domain/report"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var transitions = map[string]map[string]bool{
	StatusPending:    {StatusProcessing: true, StatusCompleted: true, StatusFailed: true},
	StatusProcessing: {StatusCompleted: true, StatusFailed: true},
}

var (
	ErrJobNotFound       = errors.New("processing job not found")
	ErrNotRetryable      = errors.New("only failed jobs can be retried")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrBadSignature      = errors.New("invalid callback signature")
)

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

func CanTransition(from, to string) bool {
	return transitions[from][to]
}

type Job struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	FormID      *uuid.UUID `db:"form_id" json:"form_id,omitempty"`
	AnalyticsID *uuid.UUID `db:"analytics_id" json:"analytics_id,omitempty"`
	Status      string     `db:"status" json:"status"`
	Error       *string    `db:"error" json:"error,omitempty"`
	Attempts    int        `db:"attempts" json:"attempts"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

func (j *Job) Terminal() bool { return IsTerminal(j.Status) }

// JobInput is what a job is (re)triggered from.
type JobInput struct {
	PatientID   uuid.UUID
	FormID      *uuid.UUID
	AnalyticsID *uuid.UUID
}

// Callback is the body the workflow posts back. Readings and the report
// fields are only read when Status is completed.
type Callback struct {
	JobID     uuid.UUID            `json:"job_id" validate:"required"`
	Status    string               `json:"status" validate:"required,oneof=processing completed failed"`
	Error     string               `json:"error,omitempty"`
	Readings  []*biomarker.Reading `json:"readings,omitempty" validate:"dive"`
	Diagnosis *string              `json:"diagnosis,omitempty"`
	Actions   []*report.Action     `json:"actions,omitempty" validate:"dive"`
}

func (cb *Callback) hasReport() bool {
	return cb.Diagnosis != nil || len(cb.Actions) > 0
}
