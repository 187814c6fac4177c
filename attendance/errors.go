/*
errors.go - Error types for the attendance engine

ERROR CATEGORIES:
  1. Policy rejection  - The cutoff rule forbids the transition (ErrPostCutoffPresent)
  2. Input errors      - Malformed or unauthorized requests
  3. Persistence       - The write failed; state is unchanged (PersistenceError)
  4. Payment request   - The write succeeded but the delayed payment request
                         did not (PaymentRequestError). Needs reconciliation.

USAGE:
  if errors.Is(err, attendance.ErrConcurrentModification) {
      // someone else toggled first, reload and try again
  }
  var perr *attendance.PaymentRequestError
  if errors.As(err, &perr) {
      // perr.RecordID is present but unpaid
  }
*/
package attendance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrPostCutoffPresent is the policy rejection for undoing a present mark
	// once payout processing has started.
	ErrPostCutoffPresent = errors.New("cannot mark an existing present attendance status after the cutoff")

	// ErrInvalidStatus is returned for a status outside the tri-state enum.
	ErrInvalidStatus = errors.New("invalid attendance status")

	// ErrInvalidInput is returned when a transition input is missing fields.
	ErrInvalidInput = errors.New("invalid transition input")

	// ErrUnauthorized is returned when the caller may not mark this fellow.
	ErrUnauthorized = errors.New("not authorized to mark attendance for this fellow")

	// ErrConcurrentModification is returned when the stored status no longer
	// matches the status the caller toggled from.
	ErrConcurrentModification = errors.New("attendance was modified concurrently")

	// ErrNotConfirmable is returned when a confirmed commit is requested for a
	// transition that does not need confirmation.
	ErrNotConfirmable = errors.New("transition does not require confirmation")

	// ErrSessionRequired is returned when a late present is confirmed for a
	// session that has not been scheduled; the payment request needs one.
	ErrSessionRequired = errors.New("a scheduled session is required for a delayed payment request")

	// ErrSupervisorRequired is returned when a late present is confirmed for a
	// fellow without a supervisor.
	ErrSupervisorRequired = errors.New("a supervisor is required for a delayed payment request")

	// ErrPersistenceFailed marks storage failures.
	ErrPersistenceFailed = errors.New("failed to persist attendance")

	// ErrPaymentRequestFailed marks delayed payment request failures.
	ErrPaymentRequestFailed = errors.New("failed to submit delayed payment request")

	// ErrPaymentsNotConfigured is returned when a late present is confirmed on
	// an engine without a payments collaborator. Nothing is written.
	ErrPaymentsNotConfigured = errors.New("no payments collaborator configured")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// PersistenceError wraps a storage failure for a key. The stored record is
// unchanged when this is returned.
type PersistenceError struct {
	Key Key
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist attendance %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceFailed, e.Err}
}

// PaymentRequestError reports a delayed payment request that failed after the
// present mark was persisted. The record shows present but nothing will pay it.
type PaymentRequestError struct {
	RecordID     RecordID
	FellowID     string
	SupervisorID string
	SessionID    string
	Err          error
}

func (e *PaymentRequestError) Error() string {
	return fmt.Sprintf("delayed payment request for attendance %s (fellow %s, session %s): %v",
		e.RecordID, e.FellowID, e.SessionID, e.Err)
}

func (e *PaymentRequestError) Unwrap() []error {
	return []error{ErrPaymentRequestFailed, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the same toggle might succeed after reloading.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNotConfirmable) ||
		errors.Is(err, ErrSessionRequired) ||
		errors.Is(err, ErrSupervisorRequired) ||
		errors.Is(err, ErrPostCutoffPresent)
}

// NeedsReconciliation returns true if the error left a present mark without
// a delayed payment request.
func NeedsReconciliation(err error) bool {
	return errors.Is(err, ErrPaymentRequestFailed)
}
