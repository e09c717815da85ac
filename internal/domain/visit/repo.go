package visit

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence port for visits. Conditional writes
// (UpdateStatus, Lock, Unlock) must re-assert the expected prior state in the
// write condition and return ErrConflict when no row matched.
type Repository interface {
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	List(ctx context.Context, limit, offset int) ([]*Visit, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Visit, int, error)

	// UpdateStatus applies v's status and timestamps only if the stored
	// status still equals expected.
	UpdateStatus(ctx context.Context, v *Visit, expected Status) error
	SetDisposition(ctx context.Context, id uuid.UUID, disposition string) error

	// Lock sets the lock flag only if the visit is currently unlocked.
	Lock(ctx context.Context, id uuid.UUID, source, actorID string) error
	// Unlock clears the lock flag only if the visit is currently locked.
	Unlock(ctx context.Context, id uuid.UUID) error

	AddStatusHistory(ctx context.Context, h *StatusHistory) error
	GetStatusHistory(ctx context.Context, visitID uuid.UUID) ([]*StatusHistory, error)
	AddUnlockAudit(ctx context.Context, a *UnlockAudit) error
	GetUnlockAudits(ctx context.Context, visitID uuid.UUID) ([]*UnlockAudit, error)
}
