package biomarker

import (
	"context"

	"github.com/google/uuid"
)

type ListFilter struct {
	PatientID   uuid.UUID
	AnalyticsID *uuid.UUID
	Name        string
}

type Repository interface {
	CreateBatch(ctx context.Context, readings []*Reading) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reading, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Reading, int, error)
	DeleteByAnalytics(ctx context.Context, analyticsID uuid.UUID) error
}
