package medrecord

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence port for clinical records. Update and Delete
// re-assert the time window and the owning visit's lock state in the write
// condition and return ErrConflict when no row matched, so a record locked by
// a concurrent actor between read and write is never mutated.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	ListByVisit(ctx context.Context, visitID uuid.UUID, limit, offset int) ([]*Record, int, error)

	// Update persists the mutable fields of r only if the record is still
	// inside the edit window at now and the owning visit is unlocked.
	Update(ctx context.Context, r *Record, now time.Time) error
	// Delete removes the record only if it is still inside the delete
	// window at now and the owning visit is unlocked.
	Delete(ctx context.Context, id uuid.UUID, now time.Time) error

	// CountByVisitAndKind supports the one-discharge-summary-per-visit rule.
	CountByVisitAndKind(ctx context.Context, visitID uuid.UUID, kind Kind) (int, error)
}
