package report

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, id uuid.UUID) (*Report, error)
	Update(ctx context.Context, r *Report) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error)
	ReplaceActions(ctx context.Context, reportID uuid.UUID, actions []*Action) error
	ListActions(ctx context.Context, reportID uuid.UUID) ([]*Action, error)
}
