package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klinik/klinik/internal/domain/visit"
)

// VisitGate is the slice of the visit workflow billing depends on.
// *visit.Service satisfies it.
type VisitGate interface {
	Get(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
}

type Service struct {
	repo   Repository
	visits VisitGate
}

func NewService(repo Repository, visits VisitGate) *Service {
	return &Service{repo: repo, visits: visits}
}

// AddCharge accrues a billable item. Charges accumulate throughout the visit
// (a prescription fulfilled during examination posts its medication charge
// immediately); only terminal visits refuse new charges.
func (s *Service) AddCharge(ctx context.Context, c *Charge) error {
	if !ValidChargeKind(c.Kind) {
		return fmt.Errorf("invalid charge kind %q", c.Kind)
	}
	if c.Quantity <= 0 {
		return errors.New("charge quantity must be positive")
	}
	if c.UnitPrice < 0 {
		return errors.New("charge unit price cannot be negative")
	}
	v, err := s.visits.Get(ctx, c.VisitID)
	if err != nil {
		return err
	}
	if visit.IsTerminal(v.Status) {
		return fmt.Errorf("cannot add charges to a visit in status %s", v.Status)
	}
	c.Amount = float64(c.Quantity) * c.UnitPrice
	return s.repo.AddCharge(ctx, c)
}

func (s *Service) ListCharges(ctx context.Context, visitID uuid.UUID) ([]*Charge, error) {
	return s.repo.ListCharges(ctx, visitID)
}

// AddPayment records money received. Payments are accepted from billing
// onward; recording one against a terminal visit is a bookkeeping error.
func (s *Service) AddPayment(ctx context.Context, p *Payment, receivedBy string) error {
	if p.Amount <= 0 {
		return errors.New("payment amount must be positive")
	}
	v, err := s.visits.Get(ctx, p.VisitID)
	if err != nil {
		return err
	}
	if visit.IsTerminal(v.Status) {
		return fmt.Errorf("cannot record payments for a visit in status %s", v.Status)
	}
	p.ReceivedBy = receivedBy
	return s.repo.AddPayment(ctx, p)
}

func (s *Service) ListPayments(ctx context.Context, visitID uuid.UUID) ([]*Payment, error) {
	return s.repo.ListPayments(ctx, visitID)
}

// AddAdjustment authorizes a discount or insurance coverage. The written
// justification is mandatory; it is the audit trail for overriding the
// billing gate.
func (s *Service) AddAdjustment(ctx context.Context, a *Adjustment, authorizedBy string) error {
	if a.Kind != AdjustmentDiscount && a.Kind != AdjustmentInsurance {
		return fmt.Errorf("invalid adjustment kind %q", a.Kind)
	}
	if a.Amount <= 0 {
		return errors.New("adjustment amount must be positive")
	}
	if a.Justification == "" {
		return errors.New("adjustment requires a justification")
	}
	if _, err := s.visits.Get(ctx, a.VisitID); err != nil {
		return err
	}
	a.AuthorizedBy = authorizedBy
	return s.repo.AddAdjustment(ctx, a)
}

func (s *Service) ListAdjustments(ctx context.Context, visitID uuid.UUID) ([]*Adjustment, error) {
	return s.repo.ListAdjustments(ctx, visitID)
}

// CreateInvoice issues the billing snapshot. Only visits that have reached
// billing may be invoiced.
func (s *Service) CreateInvoice(ctx context.Context, visitID uuid.UUID, issuedBy string) (*Invoice, error) {
	v, err := s.visits.Get(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if !visit.CanCreateBilling(v.Status) {
		return nil, fmt.Errorf("cannot invoice a visit in status %s", v.Status)
	}
	t, err := s.repo.Totals(ctx, visitID)
	if err != nil {
		return nil, err
	}
	inv := &Invoice{
		VisitID:     visitID,
		Number:      invoiceNumber(visitID),
		Subtotal:    t.Charges,
		Payments:    t.Payments,
		Adjustments: t.Adjustments,
		Total:       t.Remaining,
		IssuedBy:    issuedBy,
	}
	if err := s.repo.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) GetInvoice(ctx context.Context, visitID uuid.UUID) (*Invoice, error) {
	return s.repo.GetInvoiceByVisit(ctx, visitID)
}

func (s *Service) VisitTotals(ctx context.Context, visitID uuid.UUID) (*Totals, error) {
	return s.repo.Totals(ctx, visitID)
}

// DischargeEligibility recomputes the balance and decides whether the visit
// may be completed. Never cached: charges can change up to the moment of
// discharge.
func (s *Service) DischargeEligibility(ctx context.Context, visitID uuid.UUID) (*visit.DischargeEligibility, error) {
	t, err := s.repo.Totals(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if t.Remaining <= 0 {
		return &visit.DischargeEligibility{CanDischarge: true, RemainingAmount: 0}, nil
	}
	reason := fmt.Sprintf("outstanding balance Rp %.0f must be settled or adjusted", t.Remaining)
	return &visit.DischargeEligibility{
		CanDischarge:    false,
		Reason:          &reason,
		RemainingAmount: t.Remaining,
	}, nil
}

// VoidUnpaidCharges supports cancelling a visit after billing has begun. If
// any payment has been recorded the cancellation is refused; the money must
// be handled explicitly first.
func (s *Service) VoidUnpaidCharges(ctx context.Context, visitID uuid.UUID) error {
	t, err := s.repo.Totals(ctx, visitID)
	if err != nil {
		return err
	}
	if t.Payments > 0 {
		return ErrPaymentsExist
	}
	_, err = s.repo.VoidCharges(ctx, visitID)
	return err
}

// PostMedicationCharge is the hook the pharmacy uses when a prescription is
// fulfilled.
func (s *Service) PostMedicationCharge(ctx context.Context, visitID uuid.UUID, description string, quantity int, unitPrice float64) error {
	return s.AddCharge(ctx, &Charge{
		VisitID:     visitID,
		Kind:        ChargeMedication,
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
	})
}

func invoiceNumber(visitID uuid.UUID) string {
	return fmt.Sprintf("INV-%s-%s", time.Now().UTC().Format("20060102"), visitID.String()[:8])
}
