package form

import (
	"context"

	"github.com/google/uuid"

	"github.com/healz/reports/internal/domain/questionnaire"
)

type FormRepository interface {
	Create(ctx context.Context, f *Instance) error
	GetByID(ctx context.Context, id uuid.UUID) (*Instance, error)
	GetByToken(ctx context.Context, token string) (*Instance, error)
	// LockByToken reads the form with a row lock held for the surrounding
	// transaction.
	LockByToken(ctx context.Context, token string) (*Instance, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error)
	MarkCompleted(ctx context.Context, f *Instance) error
	MarkExpired(ctx context.Context, id uuid.UUID) error

	SaveAnswers(ctx context.Context, formID uuid.UUID, answers []*StoredAnswer) error
	ListAnswers(ctx context.Context, formID uuid.UUID) ([]*StoredAnswer, error)
	SaveFiles(ctx context.Context, formID uuid.UUID, files []*FileRecord) error
	ListFiles(ctx context.Context, formID uuid.UUID) ([]*FileRecord, error)
}

type QuestionRepository interface {
	Create(ctx context.Context, q *questionnaire.Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*questionnaire.Question, error)
	Update(ctx context.Context, q *questionnaire.Question) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns every question ordered by category then sort order.
	List(ctx context.Context) ([]*questionnaire.Question, error)
}
