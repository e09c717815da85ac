package visit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klinik/klinik/internal/platform/db"
)

// BillingGate is the billing collaboration the visit lifecycle needs. It is
// implemented by the billing service.
type BillingGate interface {
	// DischargeEligibility recomputes the outstanding balance for the visit.
	// It is never cached: charges can change up to the moment of discharge.
	DischargeEligibility(ctx context.Context, visitID uuid.UUID) (*DischargeEligibility, error)
	// VoidUnpaidCharges voids open charge lines as the compensating action
	// for cancelling a visit. It fails when payments have been recorded.
	VoidUnpaidCharges(ctx context.Context, visitID uuid.UUID) error
}

type Service struct {
	repo    Repository
	billing BillingGate
	tx      db.TxRunner
}

func NewService(repo Repository, billing BillingGate) *Service {
	return &Service{repo: repo, billing: billing, tx: db.Direct}
}

// SetBillingGate wires the billing collaborator after construction. The visit
// and billing services reference each other, so one of them has to be wired
// second.
func (s *Service) SetBillingGate(billing BillingGate) {
	s.billing = billing
}

// SetTxRunner makes multi-write operations atomic. Without it they run
// write-by-write against the repository.
func (s *Service) SetTxRunner(tx db.TxRunner) {
	s.tx = tx
}

// Register creates a visit in its initial status.
func (s *Service) Register(ctx context.Context, v *Visit) error {
	if v.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if !ValidType(v.Type) {
		return fmt.Errorf("invalid visit type: %s", v.Type)
	}
	v.Status = InitialStatus(v.Type)
	if v.ArrivalTime.IsZero() {
		v.ArrivalTime = time.Now().UTC()
	}
	return s.repo.Create(ctx, v)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Visit, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Visit, int, error) {
	if !Valid(status) {
		return nil, 0, fmt.Errorf("invalid status: %s", status)
	}
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

// Transition moves the visit to target if the edge is legal and all gates
// pass. isAdmin permits the administrative backward edges. The returned visit
// reflects the applied state.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, actorID string, isAdmin bool) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	newStatus, err := Transition(v.Status, target)
	if err != nil {
		return nil, err
	}
	if IsElevated(v.Status, target) && !isAdmin {
		return nil, &ElevatedTransitionError{From: v.Status, To: target}
	}

	// The eligibility check, the compensating void and the status write must
	// land together: a void without the cancellation would leave the visit
	// billed with its charges gone.
	err = s.tx(ctx, func(ctx context.Context) error {
		if target == StatusCompleted {
			elig, err := s.billing.DischargeEligibility(ctx, id)
			if err != nil {
				return fmt.Errorf("discharge eligibility: %w", err)
			}
			if !elig.CanDischarge {
				return &DischargeBlockedError{RemainingAmount: elig.RemainingAmount}
			}
		}

		if target == StatusCancelled {
			if err := s.billing.VoidUnpaidCharges(ctx, id); err != nil {
				return fmt.Errorf("cancel visit %s: %w", id, err)
			}
		}

		from := v.Status
		now := time.Now().UTC()
		v.Status = newStatus
		if newStatus == StatusInExamination && v.StartTime == nil {
			v.StartTime = &now
		}
		if IsTerminal(newStatus) {
			v.EndTime = &now
		}

		if err := s.repo.UpdateStatus(ctx, v, from); err != nil {
			return err
		}
		if err := s.repo.AddStatusHistory(ctx, &StatusHistory{
			VisitID:   v.ID,
			From:      from,
			To:        newStatus,
			ActorID:   actorID,
			ChangedAt: now,
		}); err != nil {
			return fmt.Errorf("record status history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// SetDisposition records the outcome classification of an emergency visit.
func (s *Service) SetDisposition(ctx context.Context, id uuid.UUID, disposition string) error {
	if !ValidDisposition(disposition) {
		return fmt.Errorf("invalid disposition: %s", disposition)
	}
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if IsTerminal(v.Status) {
		return fmt.Errorf("visit is %s and can no longer be modified", v.Status)
	}
	if v.IsLocked {
		return &LockedError{VisitID: v.ID.String(), Source: lockSource(v)}
	}
	return s.repo.SetDisposition(ctx, id, disposition)
}

// Lock finalizes the visit's medical record. A discharge-summary lock also
// advances the visit toward billing.
func (s *Service) Lock(ctx context.Context, id uuid.UUID, actorID, source string) error {
	if source != LockSourceFinalizedRecord && source != LockSourceDischargeSummary {
		return fmt.Errorf("invalid lock source: %s", source)
	}
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if v.IsLocked {
		return &LockedError{VisitID: v.ID.String(), Source: lockSource(v)}
	}
	if !CanLockMedicalRecord(v.Status) {
		return fmt.Errorf("record can only be locked while the visit is %s, current status is %s",
			StatusExamined, v.Status)
	}
	if v.Type == TypeEmergency && v.Disposition == nil {
		return fmt.Errorf("emergency visit requires a disposition before the record can be locked")
	}
	if source == LockSourceDischargeSummary && v.Type != TypeInpatient {
		return fmt.Errorf("discharge summaries apply to inpatient visits only")
	}

	return s.tx(ctx, func(ctx context.Context) error {
		if err := s.repo.Lock(ctx, id, source, actorID); err != nil {
			return err
		}
		if source == LockSourceDischargeSummary {
			if _, err := s.Transition(ctx, id, StatusReadyForBilling, actorID, false); err != nil {
				return fmt.Errorf("advance to billing after discharge summary: %w", err)
			}
		}
		return nil
	})
}

// Unlock reverses a lock to correct mistakes. It is a distinct, audited
// action and leaves the visit status untouched.
func (s *Service) Unlock(ctx context.Context, id uuid.UUID, actorID, reason string) error {
	if reason == "" {
		return fmt.Errorf("unlock reason is required")
	}
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !v.IsLocked {
		return fmt.Errorf("visit is not locked")
	}
	return s.tx(ctx, func(ctx context.Context) error {
		if err := s.repo.Unlock(ctx, id); err != nil {
			return err
		}
		return s.repo.AddUnlockAudit(ctx, &UnlockAudit{
			VisitID:    id,
			ActorID:    actorID,
			Reason:     reason,
			UnlockedAt: time.Now().UTC(),
		})
	})
}

// CheckLocked returns a human-readable block reason when the visit is locked,
// or the empty string when mutation is permitted. Lookup failures propagate
// as errors so callers fail closed.
func (s *Service) CheckLocked(ctx context.Context, id uuid.UUID) (string, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !v.IsLocked {
		return "", nil
	}
	le := &LockedError{VisitID: v.ID.String(), Source: lockSource(v)}
	return le.Error(), nil
}

func (s *Service) StatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistory, error) {
	return s.repo.GetStatusHistory(ctx, visitID)
}

func (s *Service) UnlockAudits(ctx context.Context, visitID uuid.UUID) ([]*UnlockAudit, error) {
	return s.repo.GetUnlockAudits(ctx, visitID)
}

func lockSource(v *Visit) string {
	if v.LockSource != nil {
		return *v.LockSource
	}
	return LockSourceFinalizedRecord
}
