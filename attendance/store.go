/*
store.go - Persistence interface for attendance records

PURPOSE:
  Defines the boundary between the engine and the database. Every transition
  is a single compare-and-swap on the record's status, so two toggles that
  started from the same observed status cannot both win.

COMPARE-AND-SWAP CONTRACT:
  CompareAndSwap(write):
  - no record for write.Key:
      expected == not-marked -> insert with write.Next
      otherwise              -> ErrConcurrentModification
  - record exists:
      record.Status == expected -> update to write.Next
      otherwise                 -> ErrConcurrentModification
  An Event is appended in the same transaction. On any error nothing is
  written.

NEVER DELETED:
  There is no Delete. Unmarking moves the record back to not-marked.

IMPLEMENTATIONS:
  - attendance/store/memory.go: In-memory for testing
  - store/sqlite: SQLite (default)
  - store/postgres: PostgreSQL
*/
package attendance

import (
	"context"
	"time"
)

// Write describes one conditional status change.
type Write struct {
	Key       Key
	SessionID string
	Expected  Status
	Next      Status
	At        time.Time
	ActorID   string

	// DelayedPayment flags the record as needing a delayed payment request.
	// Once set it stays set.
	DelayedPayment bool
}

// Store persists attendance records.
type Store interface {
	// Get returns the record for key, or nil if none exists yet.
	Get(ctx context.Context, key Key) (*Record, error)

	// CompareAndSwap applies write if the stored status equals write.Expected.
	CompareAndSwap(ctx context.Context, write Write) (Record, error)

	// History returns the transition events for key, oldest first.
	History(ctx context.Context, key Key) ([]Event, error)

	// ListByFellow returns every record for a fellow.
	ListByFellow(ctx context.Context, fellowID string) ([]Record, error)
}
