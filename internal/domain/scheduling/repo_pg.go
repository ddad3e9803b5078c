package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healz/reports/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_id, practitioner_id, title, kind, status, starts_at, ends_at, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.PractitionerID, &a.Title, &a.Kind, &a.Status,
		&a.StartsAt, &a.EndsAt, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var appts []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, practitioner_id, title, kind, status, starts_at, ends_at, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.PractitionerID, a.Title, a.Kind, a.Status, a.StartsAt, a.EndsAt, a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET title=$2, kind=$3, status=$4, starts_at=$5, ends_at=$6, notes=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Title, a.Kind, a.Status, a.StartsAt, a.EndsAt, a.Notes,
	).Scan(&a.UpdatedAt)
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	return err
}

func (r *appointmentRepoPG) List(ctx context.Context, f RangeFilter, limit, offset int) ([]*Appointment, int, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PractitionerID != "" {
		add("practitioner_id = $%d", f.PractitionerID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("starts_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("starts_at < $%d", f.To)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM appointments%s ORDER BY starts_at LIMIT $%d OFFSET $%d`,
		apptCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	appts, err := collect(rows)
	return appts, total, err
}

func (r *appointmentRepoPG) Overlapping(ctx context.Context, practitionerID string, start, end time.Time, exclude uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE practitioner_id = $1 AND status IN ('scheduled', 'confirmed')
			AND starts_at < $3 AND ends_at > $2 AND id <> $4
		ORDER BY starts_at`, practitionerID, start, end, exclude)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *appointmentRepoPG) LockPractitioner(ctx context.Context, practitionerID string) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "appointments:"+practitionerID)
	return err
}
