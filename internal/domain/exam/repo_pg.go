package exam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rvu/rvu/internal/platform/db"
)

type examRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &examRepoPG{pool: pool}
}

func (r *examRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// queryable abstracts pgxpool.Pool and pgx.Tx.
type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

const examColumns = `id, import_id, dictated_at, description, exam_code, wrvu,
	modality, body_regions, body_part, exam_name, created_at`

var examCopyColumns = []string{
	"id", "import_id", "dictated_at", "description", "exam_code", "wrvu",
	"modality", "body_regions", "body_part", "exam_name", "created_at",
}

func (r *examRepoPG) CreateBatch(ctx context.Context, exams []*StoredExam) (int, error) {
	if len(exams) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]interface{}, len(exams))
	for i, e := range exams {
		e.ID = uuid.New()
		e.CreatedAt = now
		rows[i] = []interface{}{
			e.ID, e.ImportID, e.DictatedAt, e.Description, e.ExamCode, e.WRVU,
			e.Modality, e.BodyRegions, e.BodyPart, e.ExamName, e.CreatedAt,
		}
	}
	n, err := r.conn(ctx).CopyFrom(ctx, pgx.Identifier{"exam_record"}, examCopyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy exam records: %w", err)
	}
	return int(n), nil
}

func (r *examRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*StoredExam, error) {
	e, err := r.scanExam(r.conn(ctx).QueryRow(ctx, `SELECT `+examColumns+` FROM exam_record WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *examRepoPG) List(ctx context.Context, filter ExamFilter, limit, offset int) ([]*StoredExam, int, error) {
	where, args := filterClause(filter)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM exam_record`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM exam_record%s ORDER BY dictated_at, id LIMIT $%d OFFSET $%d`,
		examColumns, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []*StoredExam
	for rows.Next() {
		e, err := r.scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

// filterClause renders the WHERE clause for a filter with positional args.
func filterClause(f ExamFilter) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(clause, len(args))
	}

	if f.Modality != "" {
		add(` AND modality = $%d`, f.Modality)
	}
	if f.BodyPart != "" {
		add(` AND body_part = $%d`, f.BodyPart)
	}
	if f.From != nil {
		add(` AND dictated_at >= $%d`, *f.From)
	}
	if f.To != nil {
		add(` AND dictated_at < $%d`, *f.To)
	}
	if f.Hour != nil {
		add(` AND EXTRACT(HOUR FROM dictated_at) = $%d`, *f.Hour)
	}
	if f.Weekday != nil {
		add(` AND EXTRACT(DOW FROM dictated_at) = $%d`, int(*f.Weekday))
	}
	if f.ImportID != nil {
		add(` AND import_id = $%d`, *f.ImportID)
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *examRepoPG) scanExam(row rowScanner) (*StoredExam, error) {
	var e StoredExam
	err := row.Scan(
		&e.ID, &e.ImportID, &e.DictatedAt, &e.Description, &e.ExamCode, &e.WRVU,
		&e.Modality, &e.BodyRegions, &e.BodyPart, &e.ExamName, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
