package processing

import (
	"context"
	"fmt"
	"strings"

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

type jobRepoPG struct{ pool *pgxpool.Pool }

func NewJobRepoPG(pool *pgxpool.Pool) JobRepository {
	return &jobRepoPG{pool: pool}
}

func (r *jobRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const jobCols = `id, patient_id, form_id, analytics_id, status, error, attempts, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.PatientID, &j.FormID, &j.AnalyticsID, &j.Status, &j.Error,
		&j.Attempts, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *jobRepoPG) Create(ctx context.Context, j *Job) error {
	j.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO processing_queue (id, patient_id, form_id, analytics_id, status, error, attempts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		j.ID, j.PatientID, j.FormID, j.AnalyticsID, j.Status, j.Error, j.Attempts,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *jobRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	return scanJob(r.conn(ctx).QueryRow(ctx, `SELECT `+jobCols+` FROM processing_queue WHERE id = $1`, id))
}

func (r *jobRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	return scanJob(r.conn(ctx).QueryRow(ctx, `SELECT `+jobCols+` FROM processing_queue WHERE id = $1 FOR UPDATE`, id))
}

func (r *jobRepoPG) Update(ctx context.Context, j *Job) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE processing_queue SET status=$2, error=$3, attempts=$4, completed_at=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		j.ID, j.Status, j.Error, j.Attempts, j.CompletedAt,
	).Scan(&j.UpdatedAt)
}

func (r *jobRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Job, int, error) {
	var where []string
	var args []interface{}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM processing_queue`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM processing_queue%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}
