package visit

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a visit does not exist.
var ErrNotFound = errors.New("visit not found")

// ErrConflict is returned when a conditional write matched no rows because a
// concurrent actor changed the visit's status or lock state first.
var ErrConflict = errors.New("visit changed concurrently, retry")

// TransitionError reports an illegal status transition. Terminal is set when
// the source state has no outgoing edges at all; otherwise Allowed lists the
// legal next states for diagnostic display.
type TransitionError struct {
	From     Status
	To       Status
	Terminal bool
	Allowed  []Status
}

func (e *TransitionError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("visit status %q is terminal, no transition to %q is possible", e.From, e.To)
	}
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("unknown visit status %q", e.From)
	}
	names := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		names[i] = string(s)
	}
	return fmt.Sprintf("cannot transition visit from %q to %q, allowed: %s",
		e.From, e.To, strings.Join(names, ", "))
}

// ElevatedTransitionError is returned when a backward edge is requested
// without administrative permission.
type ElevatedTransitionError struct {
	From Status
	To   Status
}

func (e *ElevatedTransitionError) Error() string {
	return fmt.Sprintf("transition from %q to %q is an administrative override and requires an admin role", e.From, e.To)
}

// Lock sources.
const (
	LockSourceFinalizedRecord  = "finalized_record"
	LockSourceDischargeSummary = "discharge_summary"
)

// LockedError rejects a mutation because the visit's record is locked.
// Source tells the caller whether the lock came from a finalized record or a
// discharge summary.
type LockedError struct {
	VisitID string
	Source  string
}

func (e *LockedError) Error() string {
	switch e.Source {
	case LockSourceDischargeSummary:
		return "visit is locked: a discharge summary has been created; an administrator must unlock it before further changes"
	default:
		return "visit is locked: the medical record has been finalized; an administrator must unlock it before further changes"
	}
}

// DischargeEligibility is the billing gate result: whether the visit can be
// completed, and if not, an actionable reason and the outstanding amount.
type DischargeEligibility struct {
	CanDischarge    bool    `json:"can_discharge"`
	Reason          *string `json:"reason"`
	RemainingAmount float64 `json:"remaining_amount"`
}

// DischargeBlockedError rejects completion while a balance is outstanding.
type DischargeBlockedError struct {
	RemainingAmount float64
}

func (e *DischargeBlockedError) Error() string {
	return fmt.Sprintf("visit cannot be completed: outstanding balance Rp %.0f must be settled or adjusted first", e.RemainingAmount)
}
