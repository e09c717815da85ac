package billing

import (
	"time"

	"github.com/google/uuid"
)

// ChargeKind classifies a billable line item.
type ChargeKind string

const (
	ChargeRoom       ChargeKind = "room"
	ChargeMaterial   ChargeKind = "material"
	ChargeMedication ChargeKind = "medication"
	ChargeProcedure  ChargeKind = "procedure"
	ChargeService    ChargeKind = "service"
)

var validChargeKinds = map[ChargeKind]bool{
	ChargeRoom:       true,
	ChargeMaterial:   true,
	ChargeMedication: true,
	ChargeProcedure:  true,
	ChargeService:    true,
}

// ValidChargeKind reports whether k is a known charge kind.
func ValidChargeKind(k ChargeKind) bool { return validChargeKinds[k] }

// Charge is a billable line item accrued against a visit. Amounts are rupiah.
type Charge struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	VisitID     uuid.UUID  `db:"visit_id" json:"visit_id"`
	Kind        ChargeKind `db:"kind" json:"kind"`
	Description string     `db:"description" json:"description"`
	Quantity    int        `db:"quantity" json:"quantity"`
	UnitPrice   float64    `db:"unit_price" json:"unit_price"`
	Amount      float64    `db:"amount" json:"amount"`
	IsVoided    bool       `db:"is_voided" json:"is_voided"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Payment records money received against a visit's balance.
type Payment struct {
	ID         uuid.UUID `db:"id" json:"id"`
	VisitID    uuid.UUID `db:"visit_id" json:"visit_id"`
	Amount     float64   `db:"amount" json:"amount"`
	Method     string    `db:"method" json:"method"`
	ReceivedBy string    `db:"received_by" json:"received_by"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Adjustment reduces a visit's balance outside of payment: a discount or an
// insurance coverage. A written justification is mandatory; the authorizer is
// stamped from the session.
type Adjustment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	VisitID       uuid.UUID `db:"visit_id" json:"visit_id"`
	Kind          string    `db:"kind" json:"kind"`
	Amount        float64   `db:"amount" json:"amount"`
	Justification string    `db:"justification" json:"justification"`
	AuthorizedBy  string    `db:"authorized_by" json:"authorized_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Adjustment kinds.
const (
	AdjustmentDiscount  = "discount"
	AdjustmentInsurance = "insurance"
)

// Invoice is a billing snapshot issued once the visit reaches billing. The
// live balance is always recomputed from charges, payments and adjustments;
// the invoice records what was presented to the patient.
type Invoice struct {
	ID          uuid.UUID `db:"id" json:"id"`
	VisitID     uuid.UUID `db:"visit_id" json:"visit_id"`
	Number      string    `db:"number" json:"number"`
	Subtotal    float64   `db:"subtotal" json:"subtotal"`
	Payments    float64   `db:"payments" json:"payments"`
	Adjustments float64   `db:"adjustments" json:"adjustments"`
	Total       float64   `db:"total" json:"total"`
	IssuedBy    string    `db:"issued_by" json:"issued_by"`
	IssuedAt    time.Time `db:"issued_at" json:"issued_at"`
}

// Totals is the aggregate balance picture of a visit, recomputed on demand.
type Totals struct {
	Charges     float64 `json:"charges"`
	Payments    float64 `json:"payments"`
	Adjustments float64 `json:"adjustments"`
	Remaining   float64 `json:"remaining"`
}
