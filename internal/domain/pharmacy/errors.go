package pharmacy

import "errors"

var (
	ErrNotFound = errors.New("prescription not found")
	ErrConflict = errors.New("prescription changed concurrently")

	// ErrAlreadyFulfilled rejects fulfilling or deleting a prescription the
	// pharmacy has already dispensed.
	ErrAlreadyFulfilled = errors.New("prescription has already been fulfilled")
)
