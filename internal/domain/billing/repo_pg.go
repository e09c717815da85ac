package billing

import (
	"context"
	"errors"

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

func (r *repoPG) AddCharge(ctx context.Context, c *Charge) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO charge (id, visit_id, kind, description, quantity, unit_price, amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		c.ID, c.VisitID, c.Kind, c.Description, c.Quantity, c.UnitPrice, c.Amount,
	).Scan(&c.CreatedAt)
}

func (r *repoPG) ListCharges(ctx context.Context, visitID uuid.UUID) ([]*Charge, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, kind, description, quantity, unit_price, amount, is_voided, created_at
		FROM charge WHERE visit_id = $1 ORDER BY created_at ASC`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []*Charge
	for rows.Next() {
		var c Charge
		if err := rows.Scan(&c.ID, &c.VisitID, &c.Kind, &c.Description,
			&c.Quantity, &c.UnitPrice, &c.Amount, &c.IsVoided, &c.CreatedAt); err != nil {
			return nil, err
		}
		charges = append(charges, &c)
	}
	return charges, rows.Err()
}

func (r *repoPG) VoidCharges(ctx context.Context, visitID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE charge SET is_voided = TRUE WHERE visit_id = $1 AND is_voided = FALSE`, visitID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) AddPayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment (id, visit_id, amount, method, received_by)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		p.ID, p.VisitID, p.Amount, p.Method, p.ReceivedBy,
	).Scan(&p.CreatedAt)
}

func (r *repoPG) ListPayments(ctx context.Context, visitID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, amount, method, received_by, created_at
		FROM payment WHERE visit_id = $1 ORDER BY created_at ASC`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.VisitID, &p.Amount, &p.Method, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

func (r *repoPG) AddAdjustment(ctx context.Context, a *Adjustment) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO adjustment (id, visit_id, kind, amount, justification, authorized_by)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		a.ID, a.VisitID, a.Kind, a.Amount, a.Justification, a.AuthorizedBy,
	).Scan(&a.CreatedAt)
}

func (r *repoPG) ListAdjustments(ctx context.Context, visitID uuid.UUID) ([]*Adjustment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_id, kind, amount, justification, authorized_by, created_at
		FROM adjustment WHERE visit_id = $1 ORDER BY created_at ASC`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var adjustments []*Adjustment
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.VisitID, &a.Kind, &a.Amount,
			&a.Justification, &a.AuthorizedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, &a)
	}
	return adjustments, rows.Err()
}

func (r *repoPG) CreateInvoice(ctx context.Context, inv *Invoice) error {
	inv.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice (id, visit_id, number, subtotal, payments, adjustments, total, issued_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING issued_at`,
		inv.ID, inv.VisitID, inv.Number, inv.Subtotal, inv.Payments,
		inv.Adjustments, inv.Total, inv.IssuedBy,
	).Scan(&inv.IssuedAt)
}

func (r *repoPG) GetInvoiceByVisit(ctx context.Context, visitID uuid.UUID) (*Invoice, error) {
	var inv Invoice
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, visit_id, number, subtotal, payments, adjustments, total, issued_by, issued_at
		FROM invoice WHERE visit_id = $1 ORDER BY issued_at DESC LIMIT 1`, visitID).
		Scan(&inv.ID, &inv.VisitID, &inv.Number, &inv.Subtotal, &inv.Payments,
			&inv.Adjustments, &inv.Total, &inv.IssuedBy, &inv.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repoPG) Totals(ctx context.Context, visitID uuid.UUID) (*Totals, error) {
	var t Totals
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COALESCE((SELECT SUM(amount) FROM charge WHERE visit_id = $1 AND is_voided = FALSE), 0),
			COALESCE((SELECT SUM(amount) FROM payment WHERE visit_id = $1), 0),
			COALESCE((SELECT SUM(amount) FROM adjustment WHERE visit_id = $1), 0)`,
		visitID).Scan(&t.Charges, &t.Payments, &t.Adjustments)
	if err != nil {
		return nil, err
	}
	t.Remaining = t.Charges - t.Payments - t.Adjustments
	return &t, nil
}
