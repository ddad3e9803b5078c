package analytics

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Analytics) error
	GetByID(ctx context.Context, id uuid.UUID) (*Analytics, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Analytics, int, error)
}
