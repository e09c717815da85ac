package medrecord

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klinik/klinik/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `id, visit_id, kind, author_id, author_role, subjective, objective,
	assessment, plan, progress_note, instructions, is_draft, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, rec *Record) error {
	rec.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_record
			(id, visit_id, kind, author_id, author_role, subjective, objective,
			 assessment, plan, progress_note, instructions, is_draft)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		rec.ID, rec.VisitID, rec.Kind, rec.AuthorID, rec.AuthorRole,
		rec.Subjective, rec.Objective, rec.Assessment, rec.Plan,
		rec.ProgressNote, rec.Instructions, rec.IsDraft,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	rec, err := scanRecord(r.conn(ctx).QueryRow(ctx,
		`SELECT `+recordCols+` FROM medical_record WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *repoPG) ListByVisit(ctx context.Context, visitID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medical_record WHERE visit_id = $1`, visitID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+recordCols+` FROM medical_record
		 WHERE visit_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		visitID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectRecords(rows, total)
}

// Update re-asserts the edit window and the visit lock inside the statement.
// Zero rows affected means the predicate no longer holds, reported as
// ErrConflict so the caller re-reads and returns the precise policy error.
func (r *repoPG) Update(ctx context.Context, rec *Record, now time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medical_record mr SET
			subjective = $2, objective = $3, assessment = $4, plan = $5,
			progress_note = $6, instructions = $7, is_draft = $8, updated_at = now()
		FROM visit v
		WHERE mr.id = $1
		  AND v.id = mr.visit_id
		  AND v.is_locked = FALSE
		  AND mr.created_at >= $9`,
		rec.ID, rec.Subjective, rec.Objective, rec.Assessment, rec.Plan,
		rec.ProgressNote, rec.Instructions, rec.IsDraft, now.Add(-EditWindow),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM medical_record mr
		USING visit v
		WHERE mr.id = $1
		  AND v.id = mr.visit_id
		  AND v.is_locked = FALSE
		  AND mr.created_at >= $2`,
		id, now.Add(-DeleteWindow),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *repoPG) CountByVisitAndKind(ctx context.Context, visitID uuid.UUID, kind Kind) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medical_record WHERE visit_id = $1 AND kind = $2`,
		visitID, kind).Scan(&n)
	return n, err
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.VisitID, &rec.Kind, &rec.AuthorID, &rec.AuthorRole,
		&rec.Subjective, &rec.Objective, &rec.Assessment, &rec.Plan,
		&rec.ProgressNote, &rec.Instructions, &rec.IsDraft,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows, total int) ([]*Record, int, error) {
	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}
