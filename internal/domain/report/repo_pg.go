package report

import (
	"context"

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
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const reportCols = `id, patient_id, form_id, analytics_id, title, status, diagnosis, risk_score, risk_level, created_at, updated_at`

func scanReport(row pgx.Row) (*Report, error) {
	var rp Report
	err := row.Scan(&rp.ID, &rp.PatientID, &rp.FormID, &rp.AnalyticsID, &rp.Title, &rp.Status,
		&rp.Diagnosis, &rp.RiskScore, &rp.RiskLevel, &rp.CreatedAt, &rp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rp, nil
}

func (r *reportRepoPG) Create(ctx context.Context, rp *Report) error {
	rp.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reports (id, patient_id, form_id, analytics_id, title, status, diagnosis, risk_score, risk_level)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		rp.ID, rp.PatientID, rp.FormID, rp.AnalyticsID, rp.Title, rp.Status, rp.Diagnosis, rp.RiskScore, rp.RiskLevel,
	).Scan(&rp.CreatedAt, &rp.UpdatedAt)
}

func (r *reportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Report, error) {
	return scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
}

func (r *reportRepoPG) Update(ctx context.Context, rp *Report) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE reports SET title=$2, status=$3, diagnosis=$4, risk_score=$5, risk_level=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rp.ID, rp.Title, rp.Status, rp.Diagnosis, rp.RiskScore, rp.RiskLevel,
	).Scan(&rp.UpdatedAt)
	return err
}

func (r *reportRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Report, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reports WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reportCols+` FROM reports WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var reports []*Report
	for rows.Next() {
		rp, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, rp)
	}
	return reports, total, rows.Err()
}

// ReplaceActions deletes and reinserts the action plan in one round trip.
// Callers run it inside a transaction.
func (r *reportRepoPG) ReplaceActions(ctx context.Context, reportID uuid.UUID, actions []*Action) error {
	b := &pgx.Batch{}
	b.Queue(`DELETE FROM report_actions WHERE report_id = $1`, reportID)
	for _, a := range actions {
		a := a
		a.ID = uuid.New()
		a.ReportID = reportID
		b.Queue(`INSERT INTO report_actions (id, report_id, title, description, category, priority)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`,
			a.ID, a.ReportID, a.Title, a.Description, a.Category, a.Priority).QueryRow(func(row pgx.Row) error {
			return row.Scan(&a.CreatedAt)
		})
	}
	return r.conn(ctx).SendBatch(ctx, b).Close()
}

func (r *reportRepoPG) ListActions(ctx context.Context, reportID uuid.UUID) ([]*Action, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, report_id, title, description, category, priority, created_at
		FROM report_actions WHERE report_id = $1 ORDER BY created_at`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.ReportID, &a.Title, &a.Description, &a.Category, &a.Priority, &a.CreatedAt); err != nil {
			return nil, err
		}
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}
