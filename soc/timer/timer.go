// Package timer provides the monotonic time base used for all bounded waits.
//
// Drivers never count loop iterations to implement timeouts. They compute a
// [Deadline] from a [Clock] and poll until the condition holds or the
// deadline expires, which keeps timeouts independent of the CPU frequency.
package timer

import "time"

// Clock is a monotonic time source.
type Clock interface {
	// Nanotime returns the time elapsed since an arbitrary fixed point.
	Nanotime() time.Duration

	// Delay busy-waits for at least d. It must not yield to other
	// goroutines, since it's used for protocol settle times.
	Delay(d time.Duration)
}

// Deadline is a point in time on a specific Clock.
type Deadline struct {
	clock Clock
	at    time.Duration
}

// After returns the Deadline d from now.
func After(c Clock, d time.Duration) Deadline {
	return Deadline{c, c.Nanotime() + d}
}

// Expired reports whether the deadline has passed.
func (d Deadline) Expired() bool {
	return d.clock.Nanotime() >= d.at
}

// Remaining returns the time left until the deadline, or zero.
func (d Deadline) Remaining() time.Duration {
	return max(d.at-d.clock.Nanotime(), 0)
}

// Poll calls cond until it returns true or d expires. The condition is
// always evaluated at least once, and once more after expiry, so that a
// condition that became true while the caller was descheduled is not
// reported as a timeout.
func Poll(d Deadline, cond func() bool) bool {
	for !d.Expired() {
		if cond() {
			return true
		}
	}
	return cond()
}
