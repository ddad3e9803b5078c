package form

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healz/reports/internal/domain/questionnaire"
	"github.com/healz/reports/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Form Repository ===========

type formRepoPG struct{ pool *pgxpool.Pool }

func NewFormRepoPG(pool *pgxpool.Pool) FormRepository {
	return &formRepoPG{pool: pool}
}

func (r *formRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const formCols = `id, patient_id, token, status, expires_at, completed_at, created_at`

func scanForm(row pgx.Row) (*Instance, error) {
	var f Instance
	if err := row.Scan(&f.ID, &f.PatientID, &f.Token, &f.Status, &f.ExpiresAt, &f.CompletedAt, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *formRepoPG) Create(ctx context.Context, f *Instance) error {
	f.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO forms (id, patient_id, token, status, expires_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		f.ID, f.PatientID, f.Token, f.Status, f.ExpiresAt,
	).Scan(&f.CreatedAt)
}

func (r *formRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return scanForm(r.conn(ctx).QueryRow(ctx, `SELECT `+formCols+` FROM forms WHERE id = $1`, id))
}

func (r *formRepoPG) GetByToken(ctx context.Context, token string) (*Instance, error) {
	return scanForm(r.conn(ctx).QueryRow(ctx, `SELECT `+formCols+` FROM forms WHERE token = $1`, token))
}

func (r *formRepoPG) LockByToken(ctx context.Context, token string) (*Instance, error) {
	return scanForm(r.conn(ctx).QueryRow(ctx, `SELECT `+formCols+` FROM forms WHERE token = $1 FOR UPDATE`, token))
}

func (r *formRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Instance, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM forms WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+formCols+` FROM forms WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var forms []*Instance
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, 0, err
		}
		forms = append(forms, f)
	}
	return forms, total, rows.Err()
}

func (r *formRepoPG) MarkCompleted(ctx context.Context, f *Instance) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE forms SET status = 'completed', completed_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING status, completed_at`, f.ID,
	).Scan(&f.Status, &f.CompletedAt)
}

func (r *formRepoPG) MarkExpired(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE forms SET status = 'expired' WHERE id = $1 AND status = 'pending'`, id)
	return err
}

func (r *formRepoPG) SaveAnswers(ctx context.Context, formID uuid.UUID, answers []*StoredAnswer) error {
	for _, a := range answers {
		a.ID = uuid.New()
		a.FormID = formID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO form_answers (id, form_id, question_id, kind, value)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (form_id, question_id) DO UPDATE SET kind = EXCLUDED.kind, value = EXCLUDED.value`,
			a.ID, a.FormID, a.QuestionID, string(a.Kind), []byte(a.Value)); err != nil {
			return fmt.Errorf("save answer %s: %w", a.QuestionID, err)
		}
	}
	return nil
}

func (r *formRepoPG) ListAnswers(ctx context.Context, formID uuid.UUID) ([]*StoredAnswer, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, form_id, question_id, kind, value, created_at
		FROM form_answers WHERE form_id = $1`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []*StoredAnswer
	for rows.Next() {
		var a StoredAnswer
		var kind string
		var value []byte
		if err := rows.Scan(&a.ID, &a.FormID, &a.QuestionID, &kind, &value, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = questionnaire.AnswerKind(kind)
		a.Value = value
		answers = append(answers, &a)
	}
	return answers, rows.Err()
}

func (r *formRepoPG) SaveFiles(ctx context.Context, formID uuid.UUID, files []*FileRecord) error {
	for _, f := range files {
		f.ID = uuid.New()
		f.FormID = formID
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO form_files (id, form_id, question_id, file_name, mime_type, size_bytes, storage_path, url, error)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			f.ID, f.FormID, f.QuestionID, f.FileName, f.MimeType, f.SizeBytes, f.StoragePath, f.URL, f.Error); err != nil {
			return fmt.Errorf("save file %s: %w", f.FileName, err)
		}
	}
	return nil
}

func (r *formRepoPG) ListFiles(ctx context.Context, formID uuid.UUID) ([]*FileRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, form_id, question_id, file_name, mime_type, size_bytes, storage_path, url, error, created_at
		FROM form_files WHERE form_id = $1 ORDER BY created_at`, formID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.ID, &f.FormID, &f.QuestionID, &f.FileName, &f.MimeType, &f.SizeBytes,
			&f.StoragePath, &f.URL, &f.Error, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

// =========== Question Repository ===========

type questionRepoPG struct{ pool *pgxpool.Pool }

func NewQuestionRepoPG(pool *pgxpool.Pool) QuestionRepository {
	return &questionRepoPG{pool: pool}
}

func (r *questionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const questionCols = `id, text, type, required, category, sort_order, options`

func scanQuestion(row pgx.Row) (*questionnaire.Question, error) {
	var q questionnaire.Question
	var typ string
	var opts []byte
	if err := row.Scan(&q.ID, &q.Text, &typ, &q.Required, &q.Category, &q.Order, &opts); err != nil {
		return nil, err
	}
	q.Type = questionnaire.QuestionType(typ)
	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &q.Options); err != nil {
			return nil, fmt.Errorf("question %s options: %w", q.ID, err)
		}
	}
	return &q, nil
}

func (r *questionRepoPG) Create(ctx context.Context, q *questionnaire.Question) error {
	q.ID = uuid.New()
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO questions (id, text, type, required, category, sort_order, options)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		q.ID, q.Text, string(q.Type), q.Required, q.Category, q.Order, opts)
	return err
}

func (r *questionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*questionnaire.Question, error) {
	return scanQuestion(r.conn(ctx).QueryRow(ctx, `SELECT `+questionCols+` FROM questions WHERE id = $1`, id))
}

func (r *questionRepoPG) Update(ctx context.Context, q *questionnaire.Question) error {
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE questions SET text=$2, type=$3, required=$4, category=$5, sort_order=$6, options=$7
		WHERE id = $1`,
		q.ID, q.Text, string(q.Type), q.Required, q.Category, q.Order, opts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNoRows
	}
	return nil
}

func (r *questionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	return err
}

func (r *questionRepoPG) List(ctx context.Context) ([]*questionnaire.Question, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+questionCols+` FROM questions ORDER BY category, sort_order, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var qs []*questionnaire.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, rows.Err()
}
