/*
reconcile.go - Finding late presents that nobody will pay

PURPOSE:
  A confirmed late present is written before its delayed payment request is
  submitted. If the submission fails the record stays present with
  DelayedPayment set and no request behind it. The Reconciler finds those
  records, reports each one as Critical and keeps a log of runs.

  Nothing is resubmitted automatically. An operator resolves a discrepancy
  through Service.Resubmit.

RUN LIFECYCLE:
  running ──▶ completed (Found = discrepancies seen)
          └─▶ failed    (Error set)
*/
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/report"
)

// Discrepancy is a present attendance record flagged for delayed payment
// that has no delayed payment request.
type Discrepancy struct {
	RecordID     attendance.RecordID
	FellowID     string
	SchoolID     string
	Label        attendance.SessionLabel
	SessionID    string
	SupervisorID string // from the fellow directory; may be empty
	RecordedAt   time.Time
	RecordedBy   string
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ReconciliationRun is one pass of the Reconciler.
type ReconciliationRun struct {
	ID          string
	Status      RunStatus
	Found       int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ReconciliationStore is the persistence the Reconciler needs.
type ReconciliationStore interface {
	// FindUnpaidLatePresent returns present records with DelayedPayment set
	// and no delayed payment request, oldest first.
	FindUnpaidLatePresent(ctx context.Context) ([]Discrepancy, error)

	// SaveReconciliationRun inserts or updates a run by ID.
	SaveReconciliationRun(ctx context.Context, run ReconciliationRun) error

	// GetReconciliationRuns returns runs newest first, filtered by status
	// when status is non-empty.
	GetReconciliationRuns(ctx context.Context, status RunStatus) ([]ReconciliationRun, error)
}

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	Store    ReconciliationStore
	Reporter report.Reporter
	Now      func() time.Time
}

func NewReconciler(store ReconciliationStore) *Reconciler {
	return &Reconciler{Store: store, Reporter: report.Discard, Now: time.Now}
}

func (r *Reconciler) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r *Reconciler) reporter() report.Reporter {
	if r.Reporter == nil {
		return report.Discard
	}
	return r.Reporter
}

// Run scans for discrepancies and records the run. The returned run reflects
// its final state even when err is non-nil.
func (r *Reconciler) Run(ctx context.Context) (ReconciliationRun, []Discrepancy, error) {
	run := ReconciliationRun{
		ID:        uuid.NewString(),
		Status:    RunRunning,
		StartedAt: r.now(),
	}
	if err := r.Store.SaveReconciliationRun(ctx, run); err != nil {
		return run, nil, fmt.Errorf("failed to record reconciliation run: %w", err)
	}

	found, err := r.Store.FindUnpaidLatePresent(ctx)
	completed := r.now()
	run.CompletedAt = &completed
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		r.reporter().Error("reconciliation scan failed", report.Fields{"run": run.ID}, err)
		if saveErr := r.Store.SaveReconciliationRun(ctx, run); saveErr != nil {
			r.reporter().Error("failed to record reconciliation run", report.Fields{"run": run.ID}, saveErr)
		}
		return run, nil, fmt.Errorf("failed to scan for unpaid late attendance: %w", err)
	}

	for _, d := range found {
		r.reporter().Critical("late present has no delayed payment request", report.Fields{
			"record":  d.RecordID,
			"fellow":  d.FellowID,
			"school":  d.SchoolID,
			"label":   d.Label,
			"session": d.SessionID,
		})
	}

	run.Status = RunCompleted
	run.Found = len(found)
	if err := r.Store.SaveReconciliationRun(ctx, run); err != nil {
		return run, found, fmt.Errorf("failed to record reconciliation run: %w", err)
	}
	return run, found, nil
}
