package medrecord

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a clinical entry. SOAP entries and progress notes share one
// table; discharge summaries are a distinct kind created only for inpatient
// visits and only once.
type Kind string

const (
	KindSOAP             Kind = "soap"
	KindProgress         Kind = "progress"
	KindDischargeSummary Kind = "discharge_summary"
)

var validKinds = map[Kind]bool{
	KindSOAP:             true,
	KindProgress:         true,
	KindDischargeSummary: true,
}

// ValidKind reports whether k is a known record kind.
func ValidKind(k Kind) bool { return validKinds[k] }

// Record is a clinical entry attached to a visit. The SOAP fields are
// doctor-only; progress note and instructions are writable by both roles.
// AuthorID and AuthorRole are always derived from the authenticated session,
// never taken from the request body.
type Record struct {
	ID         uuid.UUID `db:"id" json:"id"`
	VisitID    uuid.UUID `db:"visit_id" json:"visit_id"`
	Kind       Kind      `db:"kind" json:"kind"`
	AuthorID   string    `db:"author_id" json:"author_id"`
	AuthorRole string    `db:"author_role" json:"author_role"`

	Subjective *string `db:"subjective" json:"subjective,omitempty"`
	Objective  *string `db:"objective" json:"objective,omitempty"`
	Assessment *string `db:"assessment" json:"assessment,omitempty"`
	Plan       *string `db:"plan" json:"plan,omitempty"`

	ProgressNote *string `db:"progress_note" json:"progress_note,omitempty"`
	Instructions *string `db:"instructions" json:"instructions,omitempty"`

	IsDraft   bool      `db:"is_draft" json:"is_draft"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasSOAP reports whether any doctor-only field is set.
func (r *Record) HasSOAP() bool {
	return r.Subjective != nil || r.Objective != nil || r.Assessment != nil || r.Plan != nil
}
