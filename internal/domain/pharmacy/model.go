package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

// Prescription is a medication order attached to a visit. Once fulfilled it
// can never be deleted: the dispensed stock and the posted medication charge
// must keep their paper trail.
type Prescription struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	VisitID      uuid.UUID  `db:"visit_id" json:"visit_id"`
	Medication   string     `db:"medication" json:"medication"`
	Dosage       string     `db:"dosage" json:"dosage"`
	Quantity     int        `db:"quantity" json:"quantity"`
	UnitPrice    float64    `db:"unit_price" json:"unit_price"`
	Instructions *string    `db:"instructions" json:"instructions,omitempty"`
	PrescribedBy string     `db:"prescribed_by" json:"prescribed_by"`
	IsFulfilled  bool       `db:"is_fulfilled" json:"is_fulfilled"`
	FulfilledBy  *string    `db:"fulfilled_by" json:"fulfilled_by,omitempty"`
	FulfilledAt  *time.Time `db:"fulfilled_at" json:"fulfilled_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}
