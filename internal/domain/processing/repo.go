package processing

import (
	"context"

	"github.com/google/uuid"
)

type ListFilter struct {
	Status    string
	PatientID *uuid.UUID
}

type JobRepository interface {
	Create(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)
	// LockByID reads a job with a row lock held until the transaction ends.
	LockByID(ctx context.Context, id uuid.UUID) (*Job, error)
	Update(ctx context.Context, j *Job) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Job, int, error)
}
