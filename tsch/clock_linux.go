//go:build linux

package tsch

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Production Clock backed by a Linux timerfd.
 *
 * Description:	Uses golang.org/x/sys/unix (timerfd_create/settime)
 *		rather than a bare time.Timer so the radio-timer deadline
 *		is delivered through the same kind of OS-scheduled,
 *		file-descriptor-backed wakeup a real TSCH stack gets from
 *		its hardware timer/capture peripheral. A real embedded
 *		target would back Tick with the radio's own timer register
 *		instead; this is the nearest a host Linux process gets.
 *
 *------------------------------------------------------------------*/

type RealClock struct {
	epoch time.Time
	mu    sync.Mutex
	fd    int
	gen   uint64 // invalidates an in-flight waiter when re-scheduled
}

func NewRealClock() (*RealClock, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return nil, err
	}
	return &RealClock{epoch: time.Now(), fd: fd}, nil
}

func (c *RealClock) Now() Tick {
	elapsed := time.Since(c.epoch)
	return Tick(elapsed.Seconds() * TicksPerSecond)
}

func (c *RealClock) ScheduleAt(deadline Tick, cb func()) ScheduleStatus {
	now := c.Now()
	status := ScheduleOK
	delta := deadline.Sub(now)
	if delta < 0 || Tick(delta) > MaxAllowableDelta {
		deadline = now + smallDelta
		delta = int32(smallDelta)
		status = ScheduleMissed
	}

	d := time.Duration(delta) * time.Second / TicksPerSecond
	if d <= 0 {
		d = time.Microsecond
	}

	c.mu.Lock()
	c.gen++
	myGen := c.gen
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(c.fd, 0, &spec, nil); err != nil {
		c.mu.Unlock()
		return ScheduleHardwareErr
	}
	fd := c.fd
	c.mu.Unlock()

	go func() {
		var buf [8]byte
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
		c.mu.Lock()
		stale := myGen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}
		cb()
	}()

	return status
}

// Close releases the underlying timerfd.
func (c *RealClock) Close() error {
	return unix.Close(c.fd)
}
