package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/domain/biomarker"
	"github.com/healz/reports/internal/domain/form"
	"github.com/healz/reports/internal/domain/report"
	"github.com/healz/reports/internal/platform/db"
	"github.com/healz/reports/internal/platform/workflow"
)

// Trigger delivers an event to the workflow webhook.
type Trigger interface {
	Trigger(ctx context.Context, ev workflow.Event) (*workflow.Delivery, error)
}

type ReadingSink interface {
	RecordBatch(ctx context.Context, patientID uuid.UUID, analyticsID *uuid.UUID, readings []*biomarker.Reading) error
	ReplaceForAnalytics(ctx context.Context, patientID, analyticsID uuid.UUID, readings []*biomarker.Reading) error
}

type ReportSink interface {
	Generate(ctx context.Context, in report.GenerateInput) (*report.Detail, error)
}

// DefaultDispatchTimeout bounds one workflow delivery including its retries.
// It stays below the API request timeout so the caller sees the outcome.
const DefaultDispatchTimeout = 45 * time.Second

const statusWriteTimeout = 10 * time.Second

type Service struct {
	jobs            JobRepository
	trigger         Trigger
	readings        ReadingSink
	reports         ReportSink
	tx              db.Transactor
	logger          zerolog.Logger
	now             func() time.Time
	dispatchTimeout time.Duration
}

type Option func(*Service)

// WithDispatchTimeout overrides DefaultDispatchTimeout.
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.dispatchTimeout = d
		}
	}
}

func NewService(jobs JobRepository, trigger Trigger, readings ReadingSink, reports ReportSink, tx db.Transactor, logger zerolog.Logger, opts ...Option) *Service {
	if tx == nil {
		tx = db.NoTx
	}
	s := &Service{
		jobs:            jobs,
		trigger:         trigger,
		readings:        readings,
		reports:         reports,
		tx:              tx,
		logger:          logger.With().Str("component", "processing").Logger(),
		now:             time.Now,
		dispatchTimeout: DefaultDispatchTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Job, error) {
	j, err := s.jobs.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.get(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, f ListFilter, limit, offset int) ([]*Job, int, error) {
	return s.jobs.List(ctx, f, limit, offset)
}

// Enqueue stores a pending job and hands it to the workflow. A failed
// delivery leaves the job failed and retryable; the job is returned either
// way.
func (s *Service) Enqueue(ctx context.Context, in JobInput) (*Job, error) {
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if in.FormID == nil && in.AnalyticsID == nil {
		return nil, fmt.Errorf("a job needs a form or an analytics batch")
	}
	j := &Job{
		PatientID:   in.PatientID,
		FormID:      in.FormID,
		AnalyticsID: in.AnalyticsID,
		Status:      StatusPending,
	}
	if err := s.jobs.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create processing job: %w", err)
	}

	evType := workflow.EventFormCompleted
	if in.AnalyticsID != nil {
		evType = workflow.EventAnalyticsUploaded
	}
	if err := s.dispatch(ctx, j, evType); err != nil {
		return nil, err
	}
	return j, nil
}

// Retry re-sends a failed job's original inputs to the workflow.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*Job, error) {
	var j *Job
	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		j, err = s.jobs.LockByID(ctx, id)
		if db.IsNotFound(err) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if j.Status != StatusFailed {
			return ErrNotRetryable
		}
		j.Status = StatusPending
		j.Error = nil
		j.CompletedAt = nil
		return s.jobs.Update(ctx, j)
	})
	if err != nil {
		return nil, err
	}
	if err := s.dispatch(ctx, j, workflow.EventJobRetried); err != nil {
		return nil, err
	}
	return j, nil
}

// dispatch triggers the workflow and records the outcome on the job. Both
// run detached from the caller's cancellation so an abandoned or timed-out
// request still leaves the job failed and retryable rather than pending.
func (s *Service) dispatch(ctx context.Context, j *Job, evType string) error {
	base := context.WithoutCancel(ctx)
	triggerCtx, cancel := context.WithTimeout(base, s.dispatchTimeout)
	defer cancel()

	ev := workflow.Event{
		Type:      evType,
		JobID:     j.ID.String(),
		PatientID: j.PatientID.String(),
		Timestamp: s.now().UTC(),
	}
	if j.FormID != nil {
		ev.FormID = j.FormID.String()
	}
	if j.AnalyticsID != nil {
		ev.AnalyticsID = j.AnalyticsID.String()
	}

	j.Attempts++
	d, err := s.trigger.Trigger(triggerCtx, ev)
	log := s.logger.With().Str("job_id", j.ID.String()).Str("event_type", evType).Logger()
	switch {
	case errors.Is(err, workflow.ErrNotConfigured):
		log.Warn().Msg("workflow webhook not configured; job left pending")
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("workflow did not answer within %s: %w", s.dispatchTimeout, err)
		}
		msg := err.Error()
		now := s.now()
		j.Status = StatusFailed
		j.Error = &msg
		j.CompletedAt = &now
		log.Error().Err(err).Msg("workflow delivery failed")
	default:
		log.Info().Int("attempts", d.Attempts).Int("status_code", d.StatusCode).Msg("workflow triggered")
	}
	writeCtx, cancelWrite := context.WithTimeout(base, statusWriteTimeout)
	defer cancelWrite()
	if err := s.jobs.Update(writeCtx, j); err != nil {
		return fmt.Errorf("update processing job: %w", err)
	}
	return nil
}

// ApplyCallback moves a job along its status machine. Redelivery of the
// callback that already closed a job is a no-op.
func (s *Service) ApplyCallback(ctx context.Context, cb Callback) (*Job, error) {
	var j *Job
	err := s.tx(ctx, func(ctx context.Context) error {
		var err error
		j, err = s.jobs.LockByID(ctx, cb.JobID)
		if db.IsNotFound(err) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if j.Terminal() && j.Status == cb.Status {
			return nil
		}
		if !CanTransition(j.Status, cb.Status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, j.Status, cb.Status)
		}

		j.Status = cb.Status
		j.Error = nil
		switch cb.Status {
		case StatusFailed:
			msg := cb.Error
			if msg == "" {
				msg = "workflow reported a failure"
			}
			j.Error = &msg
			now := s.now()
			j.CompletedAt = &now
		case StatusCompleted:
			if err := s.complete(ctx, j, cb); err != nil {
				return err
			}
			now := s.now()
			j.CompletedAt = &now
		}
		return s.jobs.Update(ctx, j)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("job_id", j.ID.String()).Str("status", j.Status).Msg("workflow callback applied")
	return j, nil
}

func (s *Service) complete(ctx context.Context, j *Job, cb Callback) error {
	var err error
	if j.AnalyticsID != nil {
		err = s.readings.ReplaceForAnalytics(ctx, j.PatientID, *j.AnalyticsID, cb.Readings)
	} else {
		err = s.readings.RecordBatch(ctx, j.PatientID, nil, cb.Readings)
	}
	if err != nil {
		return fmt.Errorf("record biomarkers: %w", err)
	}
	if !cb.hasReport() && len(cb.Readings) == 0 {
		return nil
	}
	_, err = s.reports.Generate(ctx, report.GenerateInput{
		PatientID:   j.PatientID,
		FormID:      j.FormID,
		AnalyticsID: j.AnalyticsID,
		Diagnosis:   cb.Diagnosis,
		Actions:     cb.Actions,
	})
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}
	return nil
}

// FormCompleted queues diagnosis generation for a submitted form.
func (s *Service) FormCompleted(ctx context.Context, f *form.Instance) error {
	id := f.ID
	_, err := s.Enqueue(ctx, JobInput{PatientID: f.PatientID, FormID: &id})
	return err
}
