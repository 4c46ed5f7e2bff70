// Package budget meters external inference spend. Costs are tracked
// in integer micro-dollars under one lock so a reservation is checked
// against every window together; daily and monthly windows roll over
// at wall-clock midnight UTC.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/grantscope/grantscope/internal/fault"
)

// Micros is a cost in millionths of a dollar.
type Micros int64

// FromDollars converts a dollar amount to micro-units.
func FromDollars(d float64) Micros { return Micros(d * 1e6) }

// Dollars converts back for reporting.
func (m Micros) Dollars() float64 { return float64(m) / 1e6 }

// Limits caps spend per run, per UTC day, and per UTC month.
// A zero limit means unlimited for that window.
type Limits struct {
	Run   Micros
	Day   Micros
	Month Micros
}

// DeniedError reports which window rejected a reservation.
type DeniedError struct {
	Window string
	Used   Micros
	Asked  Micros
	Limit  Micros
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("budget denied (%s): %.4f used + %.4f asked > %.4f limit",
		e.Window, e.Used.Dollars(), e.Asked.Dollars(), e.Limit.Dollars())
}

// Tracker is the shared cost meter threaded through tool invocations.
// Reserve holds budget ahead of an external call, Commit finalizes it,
// Refund releases a reservation after a failed call.
type Tracker struct {
	mu     sync.Mutex
	limits Limits
	now    func() time.Time

	runUsed   Micros
	dayUsed   Micros
	monthUsed Micros
	dayStart  time.Time
	monStart  time.Time

	reserved Micros
}

// NewTracker creates a tracker with the given limits.
func NewTracker(limits Limits) *Tracker {
	return newTrackerAt(limits, time.Now)
}

func newTrackerAt(limits Limits, now func() time.Time) *Tracker {
	n := now().UTC()
	return &Tracker{
		limits:   limits,
		now:      now,
		dayStart: dayStart(n),
		monStart: monthStart(n),
	}
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// rollover must be called with mu held.
func (t *Tracker) rollover() {
	n := t.now().UTC()
	if d := dayStart(n); d.After(t.dayStart) {
		t.dayStart = d
		t.dayUsed = 0
	}
	if m := monthStart(n); m.After(t.monStart) {
		t.monStart = m
		t.monthUsed = 0
	}
}

// Reserve holds cost against every window. On denial it returns a
// BudgetExceeded taxonomy error wrapping a DeniedError; nothing is held.
func (t *Tracker) Reserve(cost Micros) error {
	if cost <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	inFlight := t.reserved + cost
	if t.limits.Run > 0 && t.runUsed+inFlight > t.limits.Run {
		return fault.Wrap(fault.KindBudgetExceeded,
			&DeniedError{Window: "run", Used: t.runUsed + t.reserved, Asked: cost, Limit: t.limits.Run},
			"cost reservation denied")
	}
	if t.limits.Day > 0 && t.dayUsed+inFlight > t.limits.Day {
		return fault.Wrap(fault.KindBudgetExceeded,
			&DeniedError{Window: "day", Used: t.dayUsed + t.reserved, Asked: cost, Limit: t.limits.Day},
			"cost reservation denied")
	}
	if t.limits.Month > 0 && t.monthUsed+inFlight > t.limits.Month {
		return fault.Wrap(fault.KindBudgetExceeded,
			&DeniedError{Window: "month", Used: t.monthUsed + t.reserved, Asked: cost, Limit: t.limits.Month},
			"cost reservation denied")
	}
	t.reserved += cost
	return nil
}

// Commit converts a prior reservation into spend.
func (t *Tracker) Commit(cost Micros) {
	if cost <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	if t.reserved >= cost {
		t.reserved -= cost
	} else {
		t.reserved = 0
	}
	t.runUsed += cost
	t.dayUsed += cost
	t.monthUsed += cost
}

// Refund releases a reservation after a post-hoc failure.
func (t *Tracker) Refund(cost Micros) {
	if cost <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reserved >= cost {
		t.reserved -= cost
	} else {
		t.reserved = 0
	}
}

// Committed returns total spend in the current run.
func (t *Tracker) Committed() Micros {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runUsed
}

// Remaining returns headroom in the run window, or -1 when unlimited.
func (t *Tracker) Remaining() Micros {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limits.Run <= 0 {
		return -1
	}
	r := t.limits.Run - t.runUsed - t.reserved
	if r < 0 {
		r = 0
	}
	return r
}
