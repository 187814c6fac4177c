package payments

import (
	"context"
	"sort"
	"sync"

	"github.com/shamiri/attendance-engine/attendance"
)

// Memory is an in-memory Store for tests and development.
type Memory struct {
	mu       sync.RWMutex
	requests map[string]DelayedPaymentRequest // by idempotency key
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{requests: make(map[string]DelayedPaymentRequest)}
}

func (m *Memory) SavePaymentRequest(_ context.Context, r DelayedPaymentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[r.IdempotencyKey]; exists {
		return ErrDuplicateIdempotencyKey
	}
	m.requests[r.IdempotencyKey] = r
	return nil
}

func (m *Memory) GetPaymentRequestByRecord(_ context.Context, recordID attendance.RecordID) (*DelayedPaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[IdempotencyKey(recordID)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) ListPaymentRequests(_ context.Context, f Filter) ([]DelayedPaymentRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []DelayedPaymentRequest
	for _, r := range m.requests {
		if f.Match(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}
