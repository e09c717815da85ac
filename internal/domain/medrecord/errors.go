package medrecord

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("medical record not found")
	ErrConflict = errors.New("medical record was modified concurrently")
)

// WindowExpiredError reports that a mutation fell outside its time window.
// Elapsed and Limit are surfaced so the caller can render how long ago the
// window closed.
type WindowExpiredError struct {
	Op      string // "edit" or "delete"
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *WindowExpiredError) Error() string {
	over := e.Elapsed - e.Limit
	return fmt.Sprintf("%s window expired %s ago (limit %s)", e.Op, over.Round(time.Second), e.Limit)
}

// RoleMismatchError reports a write touching fields the author's role may not
// set, e.g. a nurse writing SOAP fields.
type RoleMismatchError struct {
	Role  string
	Field string
}

func (e *RoleMismatchError) Error() string {
	return fmt.Sprintf("role %s may not write field %s", e.Role, e.Field)
}
