package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shamiri/attendance-engine/attendance"
	"github.com/shamiri/attendance-engine/attendance/store"
)

var key = attendance.Key{FellowID: "fellow-1", SchoolID: "school-1", Label: attendance.LabelS1}

func write(expected, next attendance.Status) attendance.Write {
	return attendance.Write{
		Key:      key,
		Expected: expected,
		Next:     next,
		At:       time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
		ActorID:  "sup-1",
	}
}

func TestMemory_FirstWriteCreatesRecord(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	rec, err := m.CompareAndSwap(ctx, write(attendance.StatusNotMarked, attendance.StatusPresent))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, attendance.StatusPresent, rec.Status)
	assert.Equal(t, int64(1), rec.Version)

	got, err := m.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
}

func TestMemory_StaleExpectedStatusConflicts(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	_, err := m.CompareAndSwap(ctx, write(attendance.StatusNotMarked, attendance.StatusPresent))
	require.NoError(t, err)

	// A second tab still believes the record is not-marked.
	_, err = m.CompareAndSwap(ctx, write(attendance.StatusNotMarked, attendance.StatusPresent))
	assert.ErrorIs(t, err, attendance.ErrConcurrentModification)

	got, _ := m.Get(ctx, key)
	assert.Equal(t, int64(1), got.Version, "failed write must not touch the record")
}

func TestMemory_MissingRecordRequiresNotMarked(t *testing.T) {
	m := store.NewMemory()

	_, err := m.CompareAndSwap(context.Background(), write(attendance.StatusAbsent, attendance.StatusNotMarked))
	assert.ErrorIs(t, err, attendance.ErrConcurrentModification)

	got, err := m.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemory_HistoryAndStickyDelayedPayment(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	w := write(attendance.StatusNotMarked, attendance.StatusPresent)
	w.DelayedPayment = true
	w.SessionID = "sess-1"
	_, err := m.CompareAndSwap(ctx, w)
	require.NoError(t, err)

	_, err = m.CompareAndSwap(ctx, write(attendance.StatusPresent, attendance.StatusAbsent))
	require.NoError(t, err)

	got, _ := m.Get(ctx, key)
	assert.True(t, got.DelayedPayment)
	assert.Equal(t, "sess-1", got.SessionID, "session id is kept when a later write omits it")

	events, err := m.History(ctx, key)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, attendance.StatusNotMarked, events[0].From)
	assert.Equal(t, attendance.StatusPresent, events[0].To)
	assert.Equal(t, attendance.StatusAbsent, events[1].To)
}

func TestMemory_ConcurrentTogglesOnlyOneWins(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	const clicks = 20
	var wg sync.WaitGroup
	results := make(chan error, clicks)
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.CompareAndSwap(ctx, write(attendance.StatusNotMarked, attendance.StatusPresent))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, attendance.ErrConcurrentModification)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestMemory_ListByFellow(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	for _, label := range []attendance.SessionLabel{attendance.LabelS2, attendance.LabelPre} {
		w := write(attendance.StatusNotMarked, attendance.StatusPresent)
		w.Key.Label = label
		_, err := m.CompareAndSwap(ctx, w)
		require.NoError(t, err)
	}

	recs, err := m.ListByFellow(ctx, "fellow-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, attendance.LabelPre, recs[0].Label)

	none, err := m.ListByFellow(ctx, "fellow-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}
