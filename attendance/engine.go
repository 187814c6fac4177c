/*
engine.go - Attendance toggle lifecycle

PURPOSE:
  Decides what a toggle click does and carries it out:
  1. Validate input and the caller's authorization
  2. Apply the cutoff rule (reject / ask for confirmation / apply)
  3. Persist the new status with a compare-and-swap
  4. For a confirmed late present, submit a delayed payment request

TOGGLE FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  Evaluate ──▶ Decide ──┬── reject ───────────▶ Rejected          │
  │                        ├── confirm ──────────▶ RequiresConfirm.  │
  │                        └── apply ──▶ CAS ────▶ Applied           │
  │                                                                  │
  │  CommitConfirmed ──▶ Decide == confirm ──▶ CAS ──▶ payment req.  │
  │                                             │          │         │
  │                                             ▼          ▼         │
  │                                          Failed    Applied(paid) │
  │                                                    or Failed     │
  │                                                    (reconcile)   │
  └──────────────────────────────────────────────────────────────────┘

ORDERING:
  The payment request is only attempted after the write is confirmed. A
  payment request for a write that failed would be wrong; a write without
  its payment request is reported as Critical and flagged on the record
  (DelayedPayment) so reconciliation can find it.

CLOCK:
  The engine never reads the wall clock. Callers pass Now.

EXAMPLE:
  engine := attendance.NewEngine(store, paymentsSvc, attendance.DefaultSchedule(nairobi))

  out := engine.Evaluate(ctx, input)
  if out.Kind == attendance.OutcomeRequiresConfirmation {
      // ask the user, then
      out = engine.CommitConfirmed(ctx, input)
  }
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shamiri/attendance-engine/report"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// DelayedPaymentInput is what the payments collaborator needs to create a
// delayed payment request.
type DelayedPaymentInput struct {
	FellowID           string
	SupervisorID       string
	SessionID          string
	AttendanceRecordID RecordID
	At                 time.Time
}

// PaymentRequester submits delayed payment requests. It returns the id of
// the created request.
type PaymentRequester interface {
	SubmitDelayedPaymentRequest(ctx context.Context, in DelayedPaymentInput) (string, error)
}

// =============================================================================
// TRANSITION INPUT
// =============================================================================

// TransitionInput describes one toggle.
type TransitionInput struct {
	FellowID     string
	SchoolID     string
	SupervisorID string
	Label        SessionLabel

	// SessionID and SessionDate describe the scheduled occurrence. Both are
	// empty for a session that has not been scheduled yet.
	SessionID   string
	SessionDate *time.Time

	// CurrentStatus is the status the caller observed and is toggling from.
	CurrentStatus Status

	Now     time.Time
	ActorID string

	// Authorized is the result of the caller's authorization check. The
	// engine does not compute it.
	Authorized bool
}

func (in TransitionInput) Key() Key {
	return Key{FellowID: in.FellowID, SchoolID: in.SchoolID, Label: in.Label}
}

func (in TransitionInput) validate() error {
	switch {
	case in.FellowID == "":
		return fmt.Errorf("%w: fellow id is required", ErrInvalidInput)
	case in.SchoolID == "":
		return fmt.Errorf("%w: school id is required", ErrInvalidInput)
	case in.Label == "":
		return fmt.Errorf("%w: session label is required", ErrInvalidInput)
	case in.Now.IsZero():
		return fmt.Errorf("%w: now is required", ErrInvalidInput)
	case !in.CurrentStatus.Valid():
		return fmt.Errorf("%w: %q", ErrInvalidStatus, in.CurrentStatus)
	}
	return nil
}

func (in TransitionInput) fields() report.Fields {
	return report.Fields{
		"fellow":  in.FellowID,
		"school":  in.SchoolID,
		"label":   in.Label,
		"session": in.SessionID,
		"from":    in.CurrentStatus,
		"actor":   in.ActorID,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine evaluates and commits attendance toggles.
type Engine struct {
	Store    Store
	Payments PaymentRequester
	Schedule Schedule
	Reporter report.Reporter
}

// NewEngine creates an engine that reports to report.Discard until a
// Reporter is set.
func NewEngine(store Store, payments PaymentRequester, schedule Schedule) *Engine {
	return &Engine{
		Store:    store,
		Payments: payments,
		Schedule: schedule,
		Reporter: report.Discard,
	}
}

func (e *Engine) reporter() report.Reporter {
	if e.Reporter == nil {
		return report.Discard
	}
	return e.Reporter
}

// Cutoff returns the boundary for a session date, or the zero time for an
// unscheduled session.
func (e *Engine) Cutoff(sessionDate *time.Time) time.Time {
	if sessionDate == nil || sessionDate.IsZero() {
		return time.Time{}
	}
	return e.Schedule.BoundaryFor(*sessionDate)
}

// Evaluate handles a toggle click. It applies the transition directly when
// the cutoff rule allows it; a late present returns RequiresConfirmation and
// writes nothing.
func (e *Engine) Evaluate(ctx context.Context, in TransitionInput) Outcome {
	cutoff := e.Cutoff(in.SessionDate)
	if err := e.precheck(in); err != nil {
		return failed(err, cutoff)
	}

	switch e.Schedule.Decide(in.CurrentStatus, in.SessionDate, in.Now) {
	case DecisionReject:
		e.reporter().Warn("attendance toggle rejected after cutoff", in.fields())
		return rejected(cutoff)
	case DecisionConfirm:
		return requiresConfirmation(cutoff)
	}

	rec, err := e.persist(ctx, in, false)
	if err != nil {
		return failed(err, cutoff)
	}

	e.reporter().Info("attendance applied", in.fields(), report.Fields{"to": rec.Status, "record": rec.ID})
	return applied(rec, cutoff)
}

// CommitConfirmed commits a late present the user has confirmed: it writes
// the present mark and then submits the delayed payment request.
//
// It only accepts inputs for which Evaluate would return RequiresConfirmation.
// A payment request failure returns a Failed outcome whose Cause is a
// *PaymentRequestError; NewStatus and RecordID are set because the write
// itself succeeded.
func (e *Engine) CommitConfirmed(ctx context.Context, in TransitionInput) Outcome {
	cutoff := e.Cutoff(in.SessionDate)
	if err := e.precheck(in); err != nil {
		return failed(err, cutoff)
	}

	switch e.Schedule.Decide(in.CurrentStatus, in.SessionDate, in.Now) {
	case DecisionReject:
		e.reporter().Warn("attendance confirm rejected after cutoff", in.fields())
		return rejected(cutoff)
	case DecisionApply:
		return failed(ErrNotConfirmable, cutoff)
	}

	if in.SessionID == "" {
		return failed(ErrSessionRequired, cutoff)
	}
	if in.SupervisorID == "" {
		return failed(ErrSupervisorRequired, cutoff)
	}
	if e.Payments == nil {
		return failed(ErrPaymentsNotConfigured, cutoff)
	}

	rec, err := e.persist(ctx, in, true)
	if err != nil {
		return failed(err, cutoff)
	}

	requestID, err := e.Payments.SubmitDelayedPaymentRequest(ctx, DelayedPaymentInput{
		FellowID:           in.FellowID,
		SupervisorID:       in.SupervisorID,
		SessionID:          in.SessionID,
		AttendanceRecordID: rec.ID,
		At:                 in.Now,
	})
	if err != nil {
		perr := &PaymentRequestError{
			RecordID:     rec.ID,
			FellowID:     in.FellowID,
			SupervisorID: in.SupervisorID,
			SessionID:    in.SessionID,
			Err:          err,
		}
		e.reporter().Critical("late present persisted without delayed payment request",
			in.fields(), report.Fields{"record": rec.ID}, perr)

		out := failed(perr, cutoff)
		out.NewStatus = rec.Status
		out.RecordID = rec.ID
		return out
	}

	e.reporter().Info("late attendance confirmed", in.fields(),
		report.Fields{"record": rec.ID, "payment_request": requestID})

	out := applied(rec, cutoff)
	out.PaymentRequestTriggered = true
	out.PaymentRequestID = requestID
	return out
}

func (e *Engine) precheck(in TransitionInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	if !in.Authorized {
		e.reporter().Warn("unauthorized attendance toggle", in.fields())
		return ErrUnauthorized
	}
	return nil
}

// persist performs the compare-and-swap. Storage failures come back as
// *PersistenceError; a lost race also matches ErrConcurrentModification.
func (e *Engine) persist(ctx context.Context, in TransitionInput, delayedPayment bool) (Record, error) {
	rec, err := e.Store.CompareAndSwap(ctx, Write{
		Key:            in.Key(),
		SessionID:      in.SessionID,
		Expected:       in.CurrentStatus,
		Next:           in.CurrentStatus.Next(),
		At:             in.Now,
		ActorID:        in.ActorID,
		DelayedPayment: delayedPayment,
	})
	if err != nil {
		perr := &PersistenceError{Key: in.Key(), Err: err}
		if errors.Is(err, ErrConcurrentModification) {
			e.reporter().Warn("attendance toggle lost a concurrent update", in.fields())
		} else {
			e.reporter().Error("attendance write failed", in.fields(), perr)
		}
		return Record{}, perr
	}
	return rec, nil
}
