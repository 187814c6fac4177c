/*
Package payments handles delayed payment requests for late attendance.

PURPOSE:
  A session marked present after its payout cutoff missed the regular weekly
  batch. The fellow is still owed the session rate, so a delayed payment
  request is raised for the supervisor's approval queue. This package owns
  those requests and the reconciliation that finds late presents with no
  request behind them.

KEY CONCEPTS:
  - Amount: money value with a currency, backed by decimal.Decimal
  - DelayedPaymentRequest: one request, keyed by the attendance record it pays
  - Service: attendance.PaymentRequester implementation
  - Reconciler: finds and records unpaid late presents (reconcile.go)

IDEMPOTENCY:
  Every request carries IdempotencyKey "late-present-<attendanceRecordID>".
  Submitting twice for the same record returns the first request.

SEE ALSO:
  - attendance/engine.go: Calls SubmitDelayedPaymentRequest after a confirmed late present
  - store/sqlite, store/postgres: Persistence
*/
package payments

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shamiri/attendance-engine/attendance"
)

// =============================================================================
// AMOUNT - Money with a currency
// =============================================================================

// DefaultCurrency is the program's payout currency.
const DefaultCurrency = "KES"

type Amount struct {
	Value    decimal.Decimal
	Currency string
}

func NewAmount(value float64, currency string) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

// ParseAmount parses a decimal string such as "500.00".
func ParseAmount(value, currency string) (Amount, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	return Amount{Value: d, Currency: currency}, nil
}

func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) IsZero() bool        { return a.Value.IsZero() }
func (a Amount) IsPositive() bool    { return a.Value.IsPositive() }

func (a Amount) String() string {
	return a.Value.StringFixed(2) + " " + a.Currency
}

// =============================================================================
// DELAYED PAYMENT REQUEST
// =============================================================================

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestPaid     RequestStatus = "paid"
)

// ReasonLateAttendance is the reason recorded on requests raised for a
// session marked present after its payout cutoff.
const ReasonLateAttendance = "late-attendance"

type DelayedPaymentRequest struct {
	ID                 string
	FellowID           string
	SupervisorID       string
	SessionID          string
	AttendanceRecordID attendance.RecordID
	Amount             Amount
	Reason             string
	Status             RequestStatus
	IdempotencyKey     string
	CreatedAt          time.Time
}

// IdempotencyKey returns the key that makes one request per attendance record.
func IdempotencyKey(recordID attendance.RecordID) string {
	return "late-present-" + string(recordID)
}

// Filter narrows ListPaymentRequests. Empty fields match everything.
type Filter struct {
	FellowID     string
	SupervisorID string
	Status       RequestStatus
}

func (f Filter) Match(r DelayedPaymentRequest) bool {
	if f.FellowID != "" && r.FellowID != f.FellowID {
		return false
	}
	if f.SupervisorID != "" && r.SupervisorID != f.SupervisorID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
