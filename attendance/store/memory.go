// Package store provides attendance.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shamiri/attendance-engine/attendance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[attendance.Key]attendance.Record
	events  map[attendance.RecordID][]attendance.Event
}

var _ attendance.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		records: make(map[attendance.Key]attendance.Record),
		events:  make(map[attendance.RecordID][]attendance.Event),
	}
}

func (m *Memory) Get(_ context.Context, key attendance.Key) (*attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// CompareAndSwap applies the write under the store lock, so the status check
// and the update are atomic.
func (m *Memory) CompareAndSwap(_ context.Context, w attendance.Write) (attendance.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.records[w.Key]
	from := attendance.StatusNotMarked
	if exists {
		from = current.Status
	} else {
		current = attendance.Record{
			ID:       attendance.RecordID(uuid.NewString()),
			FellowID: w.Key.FellowID,
			SchoolID: w.Key.SchoolID,
			Label:    w.Key.Label,
		}
	}
	if from != w.Expected {
		return attendance.Record{}, attendance.ErrConcurrentModification
	}

	next := current
	next.Status = w.Next
	next.RecordedAt = w.At
	next.RecordedBy = w.ActorID
	next.DelayedPayment = current.DelayedPayment || w.DelayedPayment
	next.Version = current.Version + 1
	if w.SessionID != "" {
		next.SessionID = w.SessionID
	}

	m.records[w.Key] = next
	m.events[next.ID] = append(m.events[next.ID], attendance.Event{
		ID:             uuid.NewString(),
		RecordID:       next.ID,
		From:           from,
		To:             w.Next,
		SessionID:      next.SessionID,
		ActorID:        w.ActorID,
		DelayedPayment: w.DelayedPayment,
		At:             w.At,
	})
	return next, nil
}

func (m *Memory) History(_ context.Context, key attendance.Key) ([]attendance.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	result := make([]attendance.Event, len(m.events[rec.ID]))
	copy(result, m.events[rec.ID])
	return result, nil
}

func (m *Memory) ListByFellow(_ context.Context, fellowID string) ([]attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.Record
	for _, rec := range m.records {
		if rec.FellowID == fellowID {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SchoolID != result[j].SchoolID {
			return result[i].SchoolID < result[j].SchoolID
		}
		return result[i].Label < result[j].Label
	})
	return result, nil
}
