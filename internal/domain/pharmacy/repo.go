package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence port for prescriptions. Fulfill and Delete
// re-assert their preconditions in the write condition and return ErrConflict
// when no row matched.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]*Prescription, error)
	ListUnfulfilled(ctx context.Context, limit, offset int) ([]*Prescription, int, error)

	// Fulfill marks the prescription dispensed only if it is not already
	// fulfilled.
	Fulfill(ctx context.Context, id uuid.UUID, fulfilledBy string, at time.Time) error
	// Delete removes the prescription only if it is unfulfilled, inside the
	// delete window at now, and the owning visit is unlocked.
	Delete(ctx context.Context, id uuid.UUID, now time.Time) error
}
