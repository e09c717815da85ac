package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table.
type Patient struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	MRN          string     `db:"mrn" json:"mrn"`
	Active       bool       `db:"active" json:"active"`
	FirstName    string     `db:"first_name" json:"first_name"`
	LastName     string     `db:"last_name" json:"last_name"`
	BirthDate    *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender       *string    `db:"gender" json:"gender,omitempty"`
	NIKHash      *string    `db:"nik_hash" json:"-"`
	BPJSNumber   *string    `db:"bpjs_number" json:"bpjs_number,omitempty"`
	PhoneMobile  *string    `db:"phone_mobile" json:"phone_mobile,omitempty"`
	Email        *string    `db:"email" json:"email,omitempty"`
	AddressLine1 *string    `db:"address_line1" json:"address_line1,omitempty"`
	AddressLine2 *string    `db:"address_line2" json:"address_line2,omitempty"`
	City         *string    `db:"city" json:"city,omitempty"`
	District     *string    `db:"district" json:"district,omitempty"`
	Province     *string    `db:"province" json:"province,omitempty"`
	PostalCode   *string    `db:"postal_code" json:"postal_code,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
