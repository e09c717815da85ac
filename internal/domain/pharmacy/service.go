package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klinik/klinik/internal/domain/medrecord"
	"github.com/klinik/klinik/internal/domain/visit"
	"github.com/klinik/klinik/internal/platform/db"
)

// VisitGate is the slice of the visit workflow the pharmacy depends on.
// *visit.Service satisfies it.
type VisitGate interface {
	Get(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
}

// ChargePoster posts the medication charge when a prescription is dispensed.
// *billing.Service satisfies it.
type ChargePoster interface {
	PostMedicationCharge(ctx context.Context, visitID uuid.UUID, description string, quantity int, unitPrice float64) error
}

type Service struct {
	repo    Repository
	visits  VisitGate
	charges ChargePoster
	now     func() time.Time
	tx      db.TxRunner
}

func NewService(repo Repository, visits VisitGate, charges ChargePoster) *Service {
	return &Service{repo: repo, visits: visits, charges: charges, now: time.Now, tx: db.Direct}
}

// SetTxRunner makes multi-write operations atomic.
func (s *Service) SetTxRunner(tx db.TxRunner) {
	s.tx = tx
}

// Prescribe writes a medication order. Doctors only; the visit must be in
// examination and unlocked.
func (s *Service) Prescribe(ctx context.Context, p *Prescription, actorID, role string) error {
	if role != medrecord.RoleDoctor {
		return &medrecord.RoleMismatchError{Role: role, Field: "prescription"}
	}
	if p.Medication == "" {
		return errors.New("medication name is required")
	}
	if p.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if p.UnitPrice < 0 {
		return errors.New("unit price cannot be negative")
	}

	v, err := s.visits.Get(ctx, p.VisitID)
	if err != nil {
		return err
	}
	if v.IsLocked {
		return lockedErr(v)
	}
	if !visit.CanCreateMedicalRecord(v.Status) {
		return fmt.Errorf("cannot prescribe for a visit in status %s", v.Status)
	}

	p.PrescribedBy = actorID
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*Prescription, error) {
	return s.repo.ListByVisit(ctx, visitID)
}

func (s *Service) ListUnfulfilled(ctx context.Context, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListUnfulfilled(ctx, limit, offset)
}

// Fulfill dispenses the medication and posts the charge. Fulfillment is
// one-way; a fulfilled prescription cannot be deleted afterwards, so billing
// and the clinical record stay consistent with the dispensed stock.
func (s *Service) Fulfill(ctx context.Context, id uuid.UUID, actorID string) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsFulfilled {
		return nil, ErrAlreadyFulfilled
	}
	v, err := s.visits.Get(ctx, p.VisitID)
	if err != nil {
		return nil, err
	}
	if visit.IsTerminal(v.Status) {
		return nil, fmt.Errorf("cannot dispense for a visit in status %s", v.Status)
	}

	// A prescription marked fulfilled without its charge would dispense
	// stock for free, so the two writes go together.
	at := s.now().UTC()
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.repo.Fulfill(ctx, id, actorID, at); err != nil {
			return err
		}
		return s.charges.PostMedicationCharge(ctx, p.VisitID, p.Medication, p.Quantity, p.UnitPrice)
	})
	if err != nil {
		return nil, err
	}

	p.IsFulfilled = true
	p.FulfilledBy = &actorID
	p.FulfilledAt = &at
	return p, nil
}

// Delete removes an unfulfilled prescription inside the delete window. All
// three checks fail closed, and the repository re-asserts them in the write.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p.IsFulfilled {
		return ErrAlreadyFulfilled
	}
	v, err := s.visits.Get(ctx, p.VisitID)
	if err != nil {
		return err
	}
	if v.IsLocked {
		return lockedErr(v)
	}
	now := s.now()
	if !medrecord.CanDelete(p.CreatedAt, now, p.IsFulfilled) {
		return &medrecord.WindowExpiredError{
			Op:      "delete",
			Elapsed: now.Sub(p.CreatedAt),
			Limit:   medrecord.DeleteWindow,
		}
	}
	return s.repo.Delete(ctx, id, now)
}

func lockedErr(v *visit.Visit) error {
	source := ""
	if v.LockSource != nil {
		source = *v.LockSource
	}
	return &visit.LockedError{VisitID: v.ID.String(), Source: source}
}
