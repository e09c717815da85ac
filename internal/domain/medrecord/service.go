package medrecord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klinik/klinik/internal/domain/visit"
	"github.com/klinik/klinik/internal/platform/db"
)

// VisitGate is the slice of the visit workflow the record service depends on.
// *visit.Service satisfies it.
type VisitGate interface {
	Get(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
	Lock(ctx context.Context, id uuid.UUID, actorID, source string) error
}

type Service struct {
	repo   Repository
	visits VisitGate
	now    func() time.Time
	tx     db.TxRunner
}

func NewService(repo Repository, visits VisitGate) *Service {
	return &Service{repo: repo, visits: visits, now: time.Now, tx: db.Direct}
}

// SetTxRunner makes multi-write operations atomic.
func (s *Service) SetTxRunner(tx db.TxRunner) {
	s.tx = tx
}

// Create attaches a new clinical entry to a visit. The author fields are
// stamped from the session; the visit must be in examination and unlocked.
func (s *Service) Create(ctx context.Context, rec *Record, actorID, role string) error {
	v, err := s.visits.Get(ctx, rec.VisitID)
	if err != nil {
		return err
	}
	if v.IsLocked {
		return lockedErr(v)
	}
	if !visit.CanCreateMedicalRecord(v.Status) {
		return fmt.Errorf("cannot add records to a visit in status %s", v.Status)
	}
	if rec.Kind == KindDischargeSummary {
		return errors.New("discharge summaries are created through the discharge endpoint")
	}
	if rec.Kind == "" {
		rec.Kind = KindProgress
		if rec.HasSOAP() {
			rec.Kind = KindSOAP
		}
	}
	if !ValidKind(rec.Kind) {
		return fmt.Errorf("invalid record kind %q", rec.Kind)
	}
	StampAuthor(rec, actorID, role)
	if err := ValidateAuthoring(rec, role); err != nil {
		return err
	}
	rec.IsDraft = true
	return s.repo.Create(ctx, rec)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByVisit(ctx context.Context, visitID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.repo.ListByVisit(ctx, visitID, limit, offset)
}

// Update applies the role-writable fields of in to the stored record. The lock
// gate is checked before the time window; the repository re-asserts both in
// the write condition, so a concurrent lock between read and write surfaces as
// a conflict rather than a silent mutation.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in *Record, actorID, role string) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v, err := s.visits.Get(ctx, rec.VisitID)
	if err != nil {
		return nil, err
	}
	if v.IsLocked {
		return nil, lockedErr(v)
	}
	now := s.now()
	if err := CheckEdit(rec.CreatedAt, now); err != nil {
		return nil, err
	}

	rec.Subjective = in.Subjective
	rec.Objective = in.Objective
	rec.Assessment = in.Assessment
	rec.Plan = in.Plan
	rec.ProgressNote = in.ProgressNote
	rec.Instructions = in.Instructions
	StampAuthor(rec, actorID, role)
	if err := ValidateAuthoring(rec, role); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, rec, now); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a record while its delete window is open and the visit is
// unlocked. Both checks fail closed.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	v, err := s.visits.Get(ctx, rec.VisitID)
	if err != nil {
		return err
	}
	if v.IsLocked {
		return lockedErr(v)
	}
	now := s.now()
	if err := CheckDelete(rec.CreatedAt, now); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id, now)
}

// Finalize marks the record as final and locks the visit, closing all further
// clinical writes. Emergency visits must carry a disposition first; the visit
// service enforces that.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, actorID string) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Kind == KindDischargeSummary {
		return nil, errors.New("discharge summaries are finalized at creation")
	}
	// Leaving the record final while the lock failed would close edits on a
	// visit that is still open, so both writes go together.
	err = s.tx(ctx, func(ctx context.Context) error {
		if rec.IsDraft {
			rec.IsDraft = false
			if err := s.repo.Update(ctx, rec, s.now()); err != nil {
				return err
			}
		}
		return s.visits.Lock(ctx, rec.VisitID, actorID, visit.LockSourceFinalizedRecord)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateDischargeSummary writes the single discharge summary of an inpatient
// visit and locks it, advancing the visit toward billing. The visit service
// rejects non-inpatient visits and visits not yet examined.
func (s *Service) CreateDischargeSummary(ctx context.Context, rec *Record, actorID, role string) error {
	if role != RoleDoctor {
		return &RoleMismatchError{Role: role, Field: "discharge summary"}
	}
	existing, err := s.repo.CountByVisitAndKind(ctx, rec.VisitID, KindDischargeSummary)
	if err != nil {
		return err
	}
	if existing > 0 {
		return errors.New("visit already has a discharge summary")
	}
	rec.Kind = KindDischargeSummary
	rec.IsDraft = false
	StampAuthor(rec, actorID, role)
	if err := ValidateAuthoring(rec, role); err != nil {
		return err
	}
	return s.tx(ctx, func(ctx context.Context) error {
		if err := s.visits.Lock(ctx, rec.VisitID, actorID, visit.LockSourceDischargeSummary); err != nil {
			return err
		}
		return s.repo.Create(ctx, rec)
	})
}

func lockedErr(v *visit.Visit) error {
	source := ""
	if v.LockSource != nil {
		source = *v.LockSource
	}
	return &visit.LockedError{VisitID: v.ID.String(), Source: source}
}
