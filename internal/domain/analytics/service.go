package analytics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healz/reports/internal/domain/processing"
	"github.com/healz/reports/internal/platform/backoff"
	"github.com/healz/reports/internal/platform/blobstore"
	"github.com/healz/reports/internal/platform/db"
)

// Enqueuer starts processing for a stored upload.
type Enqueuer interface {
	Enqueue(ctx context.Context, in processing.JobInput) (*processing.Job, error)
}

type Config struct {
	Bucket      string
	MaxAttempts int
	BackoffStep time.Duration
	MaxSize     int64
}

type Service struct {
	repo   Repository
	store  blobstore.Store
	queue  Enqueuer
	cfg    Config
	logger zerolog.Logger
}

func NewService(repo Repository, store blobstore.Store, queue Enqueuer, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Bucket == "" {
		cfg.Bucket = "healz-files"
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = blobstore.MaxFileSize
	}
	return &Service{
		repo:   repo,
		store:  store,
		queue:  queue,
		cfg:    cfg,
		logger: logger.With().Str("component", "analytics").Logger(),
	}
}

// Upload stores a lab file, records it and queues it for biomarker
// extraction. The stored object is removed again when the record cannot be
// written.
func (s *Service) Upload(ctx context.Context, patientID uuid.UUID, fileName, mimeType string, data []byte) (*Upload, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.cfg.MaxSize {
		return nil, blobstore.ErrFileTooLarge
	}
	if !blobstore.IsAllowedContentType(mimeType, nil) {
		return nil, fmt.Errorf("%w: %s", blobstore.ErrInvalidContentType, mimeType)
	}

	a := &Analytics{
		ID:        uuid.New(),
		PatientID: patientID,
		FileName:  strings.TrimSpace(fileName),
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
	}
	objectPath := ObjectPath(patientID, a.ID, fileName)
	log := s.logger.With().Str("analytics_id", a.ID.String()).Str("path", objectPath).Logger()

	err := backoff.Do(ctx, s.cfg.BackoffStep, s.cfg.MaxAttempts, func(ctx context.Context, attempt int) error {
		stored, err := s.store.Upload(ctx, s.cfg.Bucket, objectPath, data, mimeType)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("lab file upload failed")
			if errors.Is(err, blobstore.ErrInvalidPath) {
				return err
			}
			return backoff.Retryable(err)
		}
		a.StoragePath = stored
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", a.FileName, err)
	}
	a.URL = s.store.PublicURL(s.cfg.Bucket, a.StoragePath)

	if err := s.repo.Create(ctx, a); err != nil {
		if derr := s.store.Delete(ctx, s.cfg.Bucket, a.StoragePath); derr != nil {
			log.Error().Err(derr).Msg("orphaned lab file")
		}
		return nil, fmt.Errorf("record analytics: %w", err)
	}

	id := a.ID
	job, err := s.queue.Enqueue(ctx, processing.JobInput{PatientID: patientID, AnalyticsID: &id})
	if err != nil {
		return &Upload{Analytics: a}, fmt.Errorf("queue analytics %s: %w", a.ID, err)
	}
	log.Info().Str("job_id", job.ID.String()).Str("job_status", job.Status).Msg("lab file accepted")
	return &Upload{Analytics: a, Job: job}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Analytics, error) {
	a, err := s.repo.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Analytics, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Open streams the stored file back.
func (s *Service) Open(ctx context.Context, id uuid.UUID) (*Analytics, io.ReadCloser, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Download(ctx, s.cfg.Bucket, a.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return a, rc, nil
}
