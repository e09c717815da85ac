package visit

// Status is the lifecycle state of a visit. Transitions are restricted to the
// edge set in transitions; nothing outside this package may invent a status.
type Status string

const (
	StatusRegistered      Status = "registered"
	StatusWaiting         Status = "waiting"
	StatusInExamination   Status = "in_examination"
	StatusExamined        Status = "examined"
	StatusReadyForBilling Status = "ready_for_billing"
	StatusBilled          Status = "billed"
	StatusPaid            Status = "paid"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// Type distinguishes outpatient, inpatient and emergency visits.
type Type string

const (
	TypeOutpatient Type = "outpatient"
	TypeInpatient  Type = "inpatient"
	TypeEmergency  Type = "emergency"
)

var validTypes = map[Type]bool{
	TypeOutpatient: true,
	TypeInpatient:  true,
	TypeEmergency:  true,
}

// ValidType reports whether t is a known visit type.
func ValidType(t Type) bool { return validTypes[t] }

// transitions is the legal edge set of the visit status machine.
// Terminal states have no outgoing edges.
var transitions = map[Status][]Status{
	StatusRegistered:      {StatusWaiting, StatusCancelled},
	StatusWaiting:         {StatusInExamination, StatusCancelled},
	StatusInExamination:   {StatusExamined, StatusWaiting, StatusCancelled},
	StatusExamined:        {StatusReadyForBilling, StatusInExamination, StatusCancelled},
	StatusReadyForBilling: {StatusBilled, StatusCancelled},
	StatusBilled:          {StatusPaid, StatusCancelled},
	StatusPaid:            {StatusCompleted},
	StatusCompleted:       {},
	StatusCancelled:       {},
}

// elevated marks backward edges that exist for administrative correction
// (doctor unavailable, re-examination) and require elevated permission.
var elevated = map[[2]Status]bool{
	{StatusInExamination, StatusWaiting}:  true,
	{StatusExamined, StatusInExamination}: true,
}

// Valid reports whether s is a known visit status.
func Valid(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s Status) bool {
	edges, ok := transitions[s]
	return ok && len(edges) == 0
}

// AllowedNext returns the legal target statuses from s, in table order.
func AllowedNext(s Status) []Status {
	edges := transitions[s]
	out := make([]Status, len(edges))
	copy(out, edges)
	return out
}

// IsElevated reports whether the edge from->to is an administrative override.
func IsElevated(from, to Status) bool {
	return elevated[[2]Status{from, to}]
}

// Transition validates the requested status change and returns the new status.
// It has no side effects; the caller applies the result together with any
// dependent writes (timestamps, history) in one atomic update.
func Transition(from, to Status) (Status, error) {
	edges, ok := transitions[from]
	if !ok {
		return "", &TransitionError{From: from, To: to}
	}
	if len(edges) == 0 {
		return "", &TransitionError{From: from, To: to, Terminal: true}
	}
	for _, next := range edges {
		if next == to {
			return to, nil
		}
	}
	return "", &TransitionError{From: from, To: to, Allowed: AllowedNext(from)}
}

// InitialStatus returns the status a freshly registered visit starts in.
// All visit types currently start at registered; the visit type parameter is
// the extension point for type-specific intake flows.
func InitialStatus(t Type) Status {
	switch t {
	case TypeOutpatient, TypeInpatient, TypeEmergency:
		return StatusRegistered
	default:
		return StatusRegistered
	}
}

// CanCreateBilling reports whether billing documents may be created for a
// visit in status s.
func CanCreateBilling(s Status) bool {
	return s == StatusReadyForBilling || s == StatusBilled
}

// CanCompleteVisit reports whether a visit in status s may be completed.
func CanCompleteVisit(s Status) bool {
	return s == StatusPaid
}

// CanCreateMedicalRecord reports whether clinical entries may be added to a
// visit in status s.
func CanCreateMedicalRecord(s Status) bool {
	return s == StatusInExamination || s == StatusExamined
}

// CanLockMedicalRecord reports whether the visit's record may be finalized.
func CanLockMedicalRecord(s Status) bool {
	return s == StatusExamined
}
