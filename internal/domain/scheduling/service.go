package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healz/reports/internal/platform/db"
)

// weekLimit caps how many appointments one calendar week loads.
const weekLimit = 500

type Service struct {
	appointments AppointmentRepository
	tx           db.Transactor
}

func NewService(appt AppointmentRepository, tx db.Transactor) *Service {
	if tx == nil {
		tx = db.NoTx
	}
	return &Service{appointments: appt, tx: tx}
}

func validateTimes(a *Appointment) error {
	if a.StartsAt.IsZero() || a.EndsAt.IsZero() {
		return fmt.Errorf("starts_at and ends_at are required")
	}
	if !a.EndsAt.After(a.StartsAt) {
		return fmt.Errorf("ends_at must be after starts_at")
	}
	if a.Duration() > 12*time.Hour {
		return fmt.Errorf("appointment cannot last more than 12 hours")
	}
	return nil
}

// reserve checks the practitioner's calendar and runs write while holding
// the practitioner lock.
func (s *Service) reserve(ctx context.Context, a *Appointment, write func(ctx context.Context) error) error {
	return s.tx(ctx, func(ctx context.Context) error {
		if err := s.appointments.LockPractitioner(ctx, a.PractitionerID); err != nil {
			return err
		}
		clash, err := s.appointments.Overlapping(ctx, a.PractitionerID, a.StartsAt, a.EndsAt, a.ID)
		if err != nil {
			return err
		}
		if len(clash) > 0 {
			return fmt.Errorf("%w: %s at %s", ErrOverlap, clash[0].Title, clash[0].StartsAt.Format(time.RFC3339))
		}
		return write(ctx)
	})
}

func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	a.PractitionerID = strings.TrimSpace(a.PractitionerID)
	if a.PractitionerID == "" {
		return fmt.Errorf("practitioner_id is required")
	}
	a.Title = strings.TrimSpace(a.Title)
	if a.Title == "" {
		return fmt.Errorf("title is required")
	}
	if a.Kind == "" {
		a.Kind = "consultation"
	}
	if !validKinds[a.Kind] {
		return fmt.Errorf("invalid appointment kind: %s", a.Kind)
	}
	if err := validateTimes(a); err != nil {
		return err
	}
	a.Status = StatusScheduled
	return s.reserve(ctx, a, func(ctx context.Context) error {
		return s.appointments.Create(ctx, a)
	})
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// AppointmentUpdate carries editable fields; nil fields are kept. Changing
// the time re-checks the practitioner's calendar.
type AppointmentUpdate struct {
	Title    *string    `json:"title" validate:"omitempty,max=255"`
	Kind     *string    `json:"kind" validate:"omitempty,oneof=consultation follow_up lab_review telehealth"`
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
	Notes    *string    `json:"notes"`
}

func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, u AppointmentUpdate) (*Appointment, error) {
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Open() {
		return nil, ErrClosed
	}
	if u.Title != nil && strings.TrimSpace(*u.Title) != "" {
		a.Title = strings.TrimSpace(*u.Title)
	}
	if u.Kind != nil {
		if !validKinds[*u.Kind] {
			return nil, fmt.Errorf("invalid appointment kind: %s", *u.Kind)
		}
		a.Kind = *u.Kind
	}
	if u.Notes != nil {
		a.Notes = u.Notes
	}
	moved := false
	if u.StartsAt != nil && !u.StartsAt.Equal(a.StartsAt) {
		a.StartsAt, moved = *u.StartsAt, true
	}
	if u.EndsAt != nil && !u.EndsAt.Equal(a.EndsAt) {
		a.EndsAt, moved = *u.EndsAt, true
	}
	if !moved {
		return a, s.appointments.Update(ctx, a)
	}
	if err := validateTimes(a); err != nil {
		return nil, err
	}
	// A moved appointment needs confirming again.
	a.Status = StatusScheduled
	err = s.reserve(ctx, a, func(ctx context.Context) error {
		return s.appointments.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Transition moves an appointment to status if the state machine allows it.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, status)
	}
	a.Status = status
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	return s.appointments.Delete(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f RangeFilter, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.List(ctx, f, limit, offset)
}

// Week builds the Monday-first calendar containing day, in day's location.
func (s *Service) Week(ctx context.Context, practitionerID string, day time.Time) (Week, error) {
	start := WeekStart(day)
	appts, _, err := s.appointments.List(ctx, RangeFilter{
		PractitionerID: practitionerID,
		From:           start,
		To:             start.AddDate(0, 0, 7),
	}, weekLimit, 0)
	if err != nil {
		return Week{}, err
	}
	return NewWeek(day, appts), nil
}
