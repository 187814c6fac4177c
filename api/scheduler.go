/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically scans for late present marks that were persisted without
  their delayed payment request and records each scan as a run.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each check is one payments.Reconciler run (audited in reconciliation_runs)
  - Discrepancies are reported as Critical by the reconciler
  - Nothing is resubmitted automatically; an operator resolves each one via
    POST /api/reconciliation/{recordID}/resubmit

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(reconciler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - reconciliation.go: TriggerReconciliation endpoint (manual run)
  - payments/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shamiri/attendance-engine/payments"
)

// ReconciliationScheduler runs reconciliation on a fixed interval.
type ReconciliationScheduler struct {
	Reconciler    *payments.Reconciler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	// runMu guards lastRun and nextRun; mu is held across wg.Wait in Stop.
	runMu   sync.Mutex
	lastRun *payments.ReconciliationRun
	nextRun time.Time
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(reconciler *payments.Reconciler) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		Reconciler:    reconciler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.setNextRun(time.Now().Add(rs.CheckInterval))
	rs.stop = make(chan bool)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Scheduler] Started with check interval: %v", rs.CheckInterval)
}

// Stop stops the scheduler.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.setNextRun(time.Time{})
		log.Println("[Scheduler] Stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case tick := <-rs.ticker.C:
			rs.setNextRun(tick.Add(rs.CheckInterval))
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) checkAndProcess() {
	ctx := context.Background()

	log.Printf("[Scheduler] Checking for unpaid late attendance at %v", time.Now())

	run, found, err := rs.Reconciler.Run(ctx)
	rs.recordRun(run)
	if err != nil {
		log.Printf("[Scheduler] Reconciliation run %s failed: %v", run.ID, err)
		return
	}
	if len(found) > 0 {
		log.Printf("[Scheduler] Run %s found %d late present record(s) without a payment request", run.ID, len(found))
	}
	if next, ok := rs.NextRun(); ok {
		log.Printf("[Scheduler] Next check at %v", next)
	}
}

func (rs *ReconciliationScheduler) recordRun(run payments.ReconciliationRun) {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	rs.lastRun = &run
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *ReconciliationScheduler) RunNow() {
	rs.checkAndProcess()
}

// LastRun returns the most recent run this scheduler made, if any.
func (rs *ReconciliationScheduler) LastRun() (payments.ReconciliationRun, bool) {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	if rs.lastRun == nil {
		return payments.ReconciliationRun{}, false
	}
	return *rs.lastRun, true
}

// NextRun returns when the next tick is due. It is false while the scheduler
// is not running.
func (rs *ReconciliationScheduler) NextRun() (time.Time, bool) {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	return rs.nextRun, !rs.nextRun.IsZero()
}

func (rs *ReconciliationScheduler) setNextRun(t time.Time) {
	rs.runMu.Lock()
	defer rs.runMu.Unlock()
	rs.nextRun = t
}
