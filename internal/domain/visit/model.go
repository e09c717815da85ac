package visit

import (
	"time"

	"github.com/google/uuid"
)

// Visit maps to the visit table.
type Visit struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	Type        Type       `db:"visit_type" json:"visit_type"`
	Status      Status     `db:"status" json:"status"`
	ArrivalTime time.Time  `db:"arrival_time" json:"arrival_time"`
	StartTime   *time.Time `db:"start_time" json:"start_time,omitempty"`
	EndTime     *time.Time `db:"end_time" json:"end_time,omitempty"`
	Disposition *string    `db:"disposition" json:"disposition,omitempty"`
	IsLocked    bool       `db:"is_locked" json:"is_locked"`
	LockSource  *string    `db:"lock_source" json:"lock_source,omitempty"`
	LockedBy    *string    `db:"locked_by" json:"locked_by,omitempty"`
	LockedAt    *time.Time `db:"locked_at" json:"locked_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Dispositions for emergency visits.
const (
	DispositionDischarged  = "discharged"
	DispositionAdmitted    = "admitted"
	DispositionReferred    = "referred"
	DispositionObservation = "observation"
)

var validDispositions = map[string]bool{
	DispositionDischarged:  true,
	DispositionAdmitted:    true,
	DispositionReferred:    true,
	DispositionObservation: true,
}

// ValidDisposition reports whether d is a known disposition value.
func ValidDisposition(d string) bool { return validDispositions[d] }

// StatusHistory maps to the visit_status_history table. One row is appended
// for every applied transition.
type StatusHistory struct {
	ID        uuid.UUID `db:"id" json:"id"`
	VisitID   uuid.UUID `db:"visit_id" json:"visit_id"`
	From      Status    `db:"from_status" json:"from_status"`
	To        Status    `db:"to_status" json:"to_status"`
	ActorID   string    `db:"actor_id" json:"actor_id"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
}

// UnlockAudit maps to the visit_unlock_audit table. Unlocking a finalized
// record is an exceptional action and every occurrence is recorded.
type UnlockAudit struct {
	ID         uuid.UUID `db:"id" json:"id"`
	VisitID    uuid.UUID `db:"visit_id" json:"visit_id"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	Reason     string    `db:"reason" json:"reason"`
	UnlockedAt time.Time `db:"unlocked_at" json:"unlocked_at"`
}
