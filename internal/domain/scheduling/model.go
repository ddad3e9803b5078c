package scheduling

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

var validKinds = map[string]bool{
	"consultation": true, "follow_up": true, "lab_review": true, "telehealth": true,
}

// transitions lists the statuses reachable from each status.
var transitions = map[string][]string{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrOverlap           = errors.New("practitioner already has an appointment in that time range")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrClosed            = errors.New("appointment can no longer be changed")
)

type Appointment struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id" validate:"required"`
	PractitionerID string    `db:"practitioner_id" json:"practitioner_id" validate:"max=64"`
	Title          string    `db:"title" json:"title" validate:"required,max=255"`
	Kind           string    `db:"kind" json:"kind" validate:"omitempty,oneof=consultation follow_up lab_review telehealth"`
	Status         string    `db:"status" json:"status"`
	StartsAt       time.Time `db:"starts_at" json:"starts_at" validate:"required"`
	EndsAt         time.Time `db:"ends_at" json:"ends_at" validate:"required,gtfield=StartsAt"`
	Notes          *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func (a *Appointment) Duration() time.Duration { return a.EndsAt.Sub(a.StartsAt) }

// Open appointments block the practitioner's time and can still be edited.
func (a *Appointment) Open() bool {
	return a.Status == StatusScheduled || a.Status == StatusConfirmed
}

func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartsAt.Before(end) && start.Before(a.EndsAt)
}

func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Day is one column of the week calendar.
type Day struct {
	Date         time.Time      `json:"date"`
	Appointments []*Appointment `json:"appointments"`
}

type Week struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  [7]Day    `json:"days"`
}

// WeekStart returns local midnight of the Monday on or before t.
func WeekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, t.Location())
}

// NewWeek buckets appointments into the Monday-first week containing day,
// each day sorted by start time. Appointments outside the week are ignored.
func NewWeek(day time.Time, appts []*Appointment) Week {
	start := WeekStart(day)
	w := Week{Start: start, End: start.AddDate(0, 0, 7)}
	for i := range w.Days {
		w.Days[i] = Day{Date: start.AddDate(0, 0, i), Appointments: []*Appointment{}}
	}
	loc := day.Location()
	for _, a := range appts {
		local := a.StartsAt.In(loc)
		if local.Before(w.Start) || !local.Before(w.End) {
			continue
		}
		y, m, d := local.Date()
		idx := int(time.Date(y, m, d, 0, 0, 0, 0, loc).Sub(start).Hours()+12) / 24
		w.Days[idx].Appointments = append(w.Days[idx].Appointments, a)
	}
	for i := range w.Days {
		appts := w.Days[i].Appointments
		sort.SliceStable(appts, func(x, y int) bool { return appts[x].StartsAt.Before(appts[y].StartsAt) })
	}
	return w
}
