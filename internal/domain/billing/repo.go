package billing

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence port for billing. Totals always reflects the
// current rows; nothing is cached.
type Repository interface {
	AddCharge(ctx context.Context, c *Charge) error
	ListCharges(ctx context.Context, visitID uuid.UUID) ([]*Charge, error)
	// VoidCharges marks every non-voided charge of the visit as voided and
	// returns how many rows it touched.
	VoidCharges(ctx context.Context, visitID uuid.UUID) (int, error)

	AddPayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, visitID uuid.UUID) ([]*Payment, error)

	AddAdjustment(ctx context.Context, a *Adjustment) error
	ListAdjustments(ctx context.Context, visitID uuid.UUID) ([]*Adjustment, error)

	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoiceByVisit(ctx context.Context, visitID uuid.UUID) (*Invoice, error)

	// Totals aggregates non-voided charges, payments and adjustments for
	// the visit in one round trip.
	Totals(ctx context.Context, visitID uuid.UUID) (*Totals, error)
}
