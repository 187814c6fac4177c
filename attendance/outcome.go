package attendance

import "time"

// OutcomeKind is the result category of a toggle.
type OutcomeKind string

const (
	OutcomeApplied              OutcomeKind = "applied"
	OutcomeRejected             OutcomeKind = "rejected"
	OutcomeRequiresConfirmation OutcomeKind = "requires_confirmation"
	OutcomeFailed               OutcomeKind = "failed"
)

// RejectionReason explains a policy rejection.
type RejectionReason string

const ReasonPostCutoffPresentImmutable RejectionReason = "post-cutoff-present-immutable"

// Outcome is what a toggle produced. Which fields are set depends on Kind:
//
//	Applied:              NewStatus, RecordID, PaymentRequestTriggered (+ PaymentRequestID)
//	Rejected:             Reason
//	RequiresConfirmation: ProposedStatus
//	Failed:               Cause (NewStatus/RecordID too when the record was persisted
//	                      but the payment request failed)
//
// Cutoff is the boundary the decision was made against; zero when the
// session is unscheduled.
type Outcome struct {
	Kind OutcomeKind

	Reason         RejectionReason
	ProposedStatus Status

	NewStatus               Status
	RecordID                RecordID
	PaymentRequestTriggered bool
	PaymentRequestID        string

	Cutoff time.Time
	Cause  error
}

// Err returns the error carried by a Rejected or Failed outcome.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeRejected:
		return ErrPostCutoffPresent
	case OutcomeFailed:
		return o.Cause
	}
	return nil
}

func applied(rec Record, cutoff time.Time) Outcome {
	return Outcome{
		Kind:      OutcomeApplied,
		NewStatus: rec.Status,
		RecordID:  rec.ID,
		Cutoff:    cutoff,
	}
}

func rejected(cutoff time.Time) Outcome {
	return Outcome{
		Kind:   OutcomeRejected,
		Reason: ReasonPostCutoffPresentImmutable,
		Cutoff: cutoff,
	}
}

func requiresConfirmation(cutoff time.Time) Outcome {
	return Outcome{
		Kind:           OutcomeRequiresConfirmation,
		ProposedStatus: StatusPresent,
		Cutoff:         cutoff,
	}
}

func failed(err error, cutoff time.Time) Outcome {
	return Outcome{Kind: OutcomeFailed, Cause: err, Cutoff: cutoff}
}
