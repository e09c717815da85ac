package medrecord

import "time"

// Mutation windows, measured from the record's creation time. Corrections are
// tolerated longer than removal: once downstream actors (pharmacy, billing)
// may have seen an entry, deleting it erases evidence of care given.
const (
	EditWindow   = 2 * time.Hour
	DeleteWindow = 1 * time.Hour
)

// CanEdit reports whether a record created at createdAt is still editable at
// now. The boundary instant itself is allowed.
func CanEdit(createdAt, now time.Time) bool {
	return now.Sub(createdAt) <= EditWindow
}

// CanDelete reports whether a record created at createdAt is still deletable
// at now. Fulfilled prescription entries are never deletable.
func CanDelete(createdAt, now time.Time, fulfilled bool) bool {
	if fulfilled {
		return false
	}
	return now.Sub(createdAt) <= DeleteWindow
}

// CheckEdit returns a WindowExpiredError when the edit window has passed.
func CheckEdit(createdAt, now time.Time) error {
	if elapsed := now.Sub(createdAt); elapsed > EditWindow {
		return &WindowExpiredError{Op: "edit", Elapsed: elapsed, Limit: EditWindow}
	}
	return nil
}

// CheckDelete returns a WindowExpiredError when the delete window has passed.
func CheckDelete(createdAt, now time.Time) error {
	if elapsed := now.Sub(createdAt); elapsed > DeleteWindow {
		return &WindowExpiredError{Op: "delete", Elapsed: elapsed, Limit: DeleteWindow}
	}
	return nil
}
