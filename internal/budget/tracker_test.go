package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantscope/grantscope/internal/fault"
)

func TestReserveCommit(t *testing.T) {
	tr := NewTracker(Limits{Run: FromDollars(0.10)})

	require.NoError(t, tr.Reserve(FromDollars(0.06)))
	tr.Commit(FromDollars(0.06))

	// Second reservation would exceed the run cap.
	err := tr.Reserve(FromDollars(0.05))
	require.Error(t, err)
	assert.Equal(t, fault.KindBudgetExceeded, fault.KindOf(err))

	// A smaller one still fits.
	require.NoError(t, tr.Reserve(FromDollars(0.04)))
	tr.Commit(FromDollars(0.04))
	assert.Equal(t, FromDollars(0.10), tr.Committed())
}

func TestReservationsCountTowardHeadroom(t *testing.T) {
	tr := NewTracker(Limits{Run: FromDollars(1)})
	require.NoError(t, tr.Reserve(FromDollars(0.7)))

	// In-flight reservation blocks the second caller.
	err := tr.Reserve(FromDollars(0.5))
	require.Error(t, err)

	tr.Refund(FromDollars(0.7))
	require.NoError(t, tr.Reserve(FromDollars(0.5)))
}

func TestCommittedNeverExceedsCeiling(t *testing.T) {
	tr := NewTracker(Limits{Run: FromDollars(0.01)})
	var committed Micros
	for i := 0; i < 100; i++ {
		if err := tr.Reserve(FromDollars(0.0005)); err != nil {
			break
		}
		tr.Commit(FromDollars(0.0005))
		committed += FromDollars(0.0005)
	}
	assert.LessOrEqual(t, tr.Committed(), FromDollars(0.01))
	assert.Equal(t, committed, tr.Committed())
}

func TestDailyRollover(t *testing.T) {
	clock := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	tr := newTrackerAt(Limits{Day: FromDollars(1)}, func() time.Time { return clock })

	require.NoError(t, tr.Reserve(FromDollars(1)))
	tr.Commit(FromDollars(1))
	require.Error(t, tr.Reserve(FromDollars(0.01)))

	// Past midnight UTC the daily counter resets; March 2 is still the
	// same month, so a month cap would have carried over.
	clock = time.Date(2026, 3, 2, 0, 10, 0, 0, time.UTC)
	require.NoError(t, tr.Reserve(FromDollars(0.01)))
}

func TestMonthlyRollover(t *testing.T) {
	clock := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	tr := newTrackerAt(Limits{Month: FromDollars(2)}, func() time.Time { return clock })

	require.NoError(t, tr.Reserve(FromDollars(2)))
	tr.Commit(FromDollars(2))
	require.Error(t, tr.Reserve(FromDollars(0.5)))

	clock = time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC)
	require.NoError(t, tr.Reserve(FromDollars(0.5)))
}

func TestZeroCostIsFree(t *testing.T) {
	tr := NewTracker(Limits{Run: 1})
	for i := 0; i < 10; i++ {
		require.NoError(t, tr.Reserve(0))
	}
	tr.Commit(0)
	assert.Equal(t, Micros(0), tr.Committed())
}
