package tsch

import (
	"sync"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Monotonic radio-timer tick abstraction (component C1).
 *
 * Description:	Everything in the slot state machine is scheduled in
 *		Tick units rather than wall-clock time, and every deadline
 *		comparison must be overflow-safe: a Tick counter that has
 *		wrapped must still compare correctly against one that
 *		hasn't. Before() implements that modular comparison.
 *
 *------------------------------------------------------------------*/

// Tick is a radio-timer tick count. It wraps silently; comparisons must
// always go through Before, never through plain `<`.
type Tick uint32

// MaxAllowableDelta bounds how far in the future a deadline may be
// scheduled before the caller must treat the request as already missed.
// Chosen generously relative to one slotframe so that legitimate
// end-of-slotframe rescheduling never trips it, per §4.1.
const MaxAllowableDelta Tick = 1 << 20

// Before reports whether a is before b, using wrap-safe signed
// subtraction: a < b iff (int32)(a-b) < 0.
func Before(a, b Tick) bool {
	return int32(a-b) < 0
}

// Add returns t+d, wrapping per the Tick type's width.
func (t Tick) Add(d Tick) Tick { return t + d }

// Sub returns the signed distance from b to t (t-b), valid even across
// a wraparound, as a plain int32 for use in duration arithmetic.
func (t Tick) Sub(b Tick) int32 { return int32(t - b) }

// ScheduleStatus is returned by Clock.ScheduleAt.
type ScheduleStatus int

const (
	ScheduleOK ScheduleStatus = iota
	ScheduleMissed
	ScheduleHardwareErr
)

func (s ScheduleStatus) String() string {
	switch s {
	case ScheduleOK:
		return "OK"
	case ScheduleMissed:
		return "MISSED"
	case ScheduleHardwareErr:
		return "HARDWARE_ERR"
	default:
		return "UNKNOWN"
	}
}

// Clock is the radio-timer clock and deadline scheduler consumed by the
// slot state machine. RealClock keeps at most one scheduled callback
// outstanding (a new ScheduleAt supersedes the previous one); FakeClock
// runs every callback scheduled on it. The powercycle keeps a single
// deadline chain under either: a callback it supersedes does nothing.
type Clock interface {
	// Now returns the current tick count.
	Now() Tick

	// ScheduleAt arranges for cb to run at approximately deadline. If
	// deadline is further away than MaxAllowableDelta (or is already
	// in the past), the implementation must
	// not silently honor it: it schedules cb for Now()+smallDelta
	// instead and returns ScheduleMissed so the caller can re-anchor.
	ScheduleAt(deadline Tick, cb func()) ScheduleStatus
}

// smallDelta is the re-anchoring offset used after a missed deadline.
const smallDelta Tick = 16

// TicksPerSecond is the nominal radio-timer rate, matching the ~32.768kHz
// crystal assumed by the µs<->tick conversion in the Sync IE codec.
const TicksPerSecond = 32768

// FakeClock is a deterministic, manually-advanced Clock for tests. It has
// no wall-clock dependency: Advance(n) moves time forward by n ticks and
// fires any callbacks whose deadline has been reached, in deadline order.
type FakeClock struct {
	mu      sync.Mutex
	now     Tick
	pending []fakeDeadline
}

type fakeDeadline struct {
	at Tick
	cb func()
}

func NewFakeClock(start Tick) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) ScheduleAt(deadline Tick, cb func()) ScheduleStatus {
	c.mu.Lock()
	now := c.now
	status := ScheduleOK
	if delta := deadline.Sub(now); delta < 0 || Tick(delta) > MaxAllowableDelta {
		deadline = now + smallDelta
		status = ScheduleMissed
	}
	c.pending = append(c.pending, fakeDeadline{at: deadline, cb: cb})
	c.mu.Unlock()
	return status
}

// Advance moves the fake clock forward by d ticks, running any callback
// whose deadline falls at or before the new time, in deadline order.
// Callbacks that schedule further callbacks are themselves eligible to
// run within the same Advance call.
func (c *FakeClock) Advance(d Tick) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *fakeDeadline
		idx := -1
		for i := range c.pending {
			if !Before(target, c.pending[i].at) {
				if due == nil || Before(c.pending[i].at, due.at) {
					d := c.pending[i]
					due = &d
					idx = i
				}
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.pending = append(c.pending[:idx], c.pending[idx+1:]...)
		c.now = due.at
		cb := due.cb
		c.mu.Unlock()
		cb()
	}
}

