package store

import (
	"errors"
	"fmt"
)

// Sentinel errors used for control flow via errors.Is, matching spec.md §7's
// error-kind taxonomy for kinds 1 (as a wrapped transient) and 2.
var (
	// ErrNotFound is returned when a document does not exist. Normal on
	// read and on release; never a failure by itself.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a create collides with an existing
	// document's primary key (HTTP 409 on Phase-1 insert).
	ErrConflict = errors.New("store: conflict")
	// ErrCASMismatch is returned when a conditional write's If-Match does
	// not match the current ETag.
	ErrCASMismatch = errors.New("store: etag mismatch")
)

// Fault carries transport-neutral diagnostic context for kind-5 "all other"
// store errors, preserving the original status code so the caller can
// reproduce the failure.
type Fault struct {
	Op         string
	HTTPStatus int
	SubStatus  int
	Detail     string
	Err        error
}

func (f *Fault) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("store: %s failed (status=%d substatus=%d): %s", f.Op, f.HTTPStatus, f.SubStatus, f.Detail)
	}
	return fmt.Sprintf("store: %s failed (status=%d substatus=%d)", f.Op, f.HTTPStatus, f.SubStatus)
}

func (f *Fault) Unwrap() error { return f.Err }

type transientError struct {
	err error
}

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// NewTransientError marks err as retryable (spec.md §7 kind 1).
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked as retryable.
func IsTransient(err error) bool {
	var te transientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err indicates a missing document.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err indicates a primary-key collision on
// Phase-1 insert.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsCASMismatch reports whether err indicates a failed conditional write.
func IsCASMismatch(err error) bool { return errors.Is(err, ErrCASMismatch) }

// IsPhase2Retryable reports whether a status/substatus pair from the Phase-2
// conflict-arbitration script matches spec.md §4.3's retryable table:
// HTTP 400/409 ("Conflicting request") or HTTP 449/0 ("Retry to avoid
// conflicts").
func IsPhase2Retryable(httpStatus, subStatus int) bool {
	switch {
	case httpStatus == 400 && subStatus == 409:
		return true
	case httpStatus == 449 && subStatus == 0:
		return true
	default:
		return false
	}
}
