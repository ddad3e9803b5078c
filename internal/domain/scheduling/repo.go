package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RangeFilter selects appointments starting in [From, To). Zero values are
// unbounded.
type RangeFilter struct {
	PractitionerID string
	PatientID      *uuid.UUID
	Status         string
	From           time.Time
	To             time.Time
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f RangeFilter, limit, offset int) ([]*Appointment, int, error)
	// Overlapping returns open appointments of the practitioner that
	// intersect [start, end), ignoring exclude.
	Overlapping(ctx context.Context, practitionerID string, start, end time.Time, exclude uuid.UUID) ([]*Appointment, error)
	// LockPractitioner serialises bookings for one practitioner until the
	// surrounding transaction ends.
	LockPractitioner(ctx context.Context, practitionerID string) error
}
