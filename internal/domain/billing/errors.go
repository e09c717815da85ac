package billing

import "errors"

var (
	ErrNotFound = errors.New("billing record not found")

	// ErrPaymentsExist blocks voiding charges for a visit that has recorded
	// payments: the money must be refunded through an explicit adjustment
	// before the visit can be cancelled.
	ErrPaymentsExist = errors.New("payments recorded for this visit; refund before cancelling")
)
