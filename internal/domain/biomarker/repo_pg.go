package biomarker

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
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type readingRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &readingRepoPG{pool: pool}
}

func (r *readingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const readingCols = `id, patient_id, analytics_id, name, value, unit, optimal_min, optimal_max,
	conventional_min, conventional_max, measured_at, created_at`

func scanReading(row pgx.Row) (*Reading, error) {
	var b Reading
	err := row.Scan(&b.ID, &b.PatientID, &b.AnalyticsID, &b.Name, &b.Value, &b.Unit,
		&b.OptimalMin, &b.OptimalMax, &b.ConventionalMin, &b.ConventionalMax, &b.MeasuredAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBatch inserts readings with COPY. Workflow batches can hold a few
// hundred values.
func (r *readingRepoPG) CreateBatch(ctx context.Context, readings []*Reading) error {
	if len(readings) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]interface{}, len(readings))
	for i, b := range readings {
		if b.ID == uuid.Nil {
			b.ID = uuid.New()
		}
		b.CreatedAt = now
		rows[i] = []interface{}{b.ID, b.PatientID, b.AnalyticsID, b.Name, b.Value, b.Unit,
			b.OptimalMin, b.OptimalMax, b.ConventionalMin, b.ConventionalMax, b.MeasuredAt, b.CreatedAt}
	}
	_, err := r.conn(ctx).CopyFrom(ctx, pgx.Identifier{"biomarker_readings"},
		[]string{"id", "patient_id", "analytics_id", "name", "value", "unit", "optimal_min", "optimal_max",
			"conventional_min", "conventional_max", "measured_at", "created_at"},
		pgx.CopyFromRows(rows))
	return err
}

func (r *readingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reading, error) {
	return scanReading(r.conn(ctx).QueryRow(ctx, `SELECT `+readingCols+` FROM biomarker_readings WHERE id = $1`, id))
}

func (r *readingRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Reading, int, error) {
	where := []string{"patient_id = $1"}
	args := []interface{}{f.PatientID}
	if f.AnalyticsID != nil {
		args = append(args, *f.AnalyticsID)
		where = append(where, fmt.Sprintf("analytics_id = $%d", len(args)))
	}
	if name := strings.TrimSpace(f.Name); name != "" {
		args = append(args, "%"+name+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM biomarker_readings`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM biomarker_readings%s ORDER BY measured_at DESC, name LIMIT $%d OFFSET $%d`,
		readingCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var readings []*Reading
	for rows.Next() {
		b, err := scanReading(rows)
		if err != nil {
			return nil, 0, err
		}
		readings = append(readings, b)
	}
	return readings, total, rows.Err()
}

func (r *readingRepoPG) DeleteByAnalytics(ctx context.Context, analyticsID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM biomarker_readings WHERE analytics_id = $1`, analyticsID)
	return err
}
