package pharmacy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/klinik/klinik/internal/domain/medrecord"
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

const prescriptionCols = `id, visit_id, medication, dosage, quantity, unit_price,
	instructions, prescribed_by, is_fulfilled, fulfilled_by, fulfilled_at, created_at`

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription
			(id, visit_id, medication, dosage, quantity, unit_price, instructions, prescribed_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		p.ID, p.VisitID, p.Medication, p.Dosage, p.Quantity, p.UnitPrice,
		p.Instructions, p.PrescribedBy,
	).Scan(&p.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *repoPG) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*Prescription, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+prescriptionCols+` FROM prescription WHERE visit_id = $1 ORDER BY created_at ASC`,
		visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPrescriptions(rows)
}

func (r *repoPG) ListUnfulfilled(ctx context.Context, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prescription WHERE is_fulfilled = FALSE`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+prescriptionCols+` FROM prescription
		 WHERE is_fulfilled = FALSE ORDER BY created_at ASC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	prescriptions, err := collectPrescriptions(rows)
	return prescriptions, total, err
}

func (r *repoPG) Fulfill(ctx context.Context, id uuid.UUID, fulfilledBy string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription
		SET is_fulfilled = TRUE, fulfilled_by = $2, fulfilled_at = $3
		WHERE id = $1 AND is_fulfilled = FALSE`,
		id, fulfilledBy, at)
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
		DELETE FROM prescription p
		USING visit v
		WHERE p.id = $1
		  AND v.id = p.visit_id
		  AND v.is_locked = FALSE
		  AND p.is_fulfilled = FALSE
		  AND p.created_at >= $2`,
		id, now.Add(-medrecord.DeleteWindow))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(
		&p.ID, &p.VisitID, &p.Medication, &p.Dosage, &p.Quantity, &p.UnitPrice,
		&p.Instructions, &p.PrescribedBy, &p.IsFulfilled, &p.FulfilledBy,
		&p.FulfilledAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPrescriptions(rows pgx.Rows) ([]*Prescription, error) {
	var prescriptions []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		prescriptions = append(prescriptions, p)
	}
	return prescriptions, rows.Err()
}
