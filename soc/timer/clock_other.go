//go:build !noos

package timer

import "time"

type systemClock struct {
	start time.Time
}

// System is the monotonic clock of the hosting operating system.
var System Clock = &systemClock{time.Now()}

func (c *systemClock) Nanotime() time.Duration {
	return time.Since(c.start)
}

func (c *systemClock) Delay(d time.Duration) {
	end := c.Nanotime() + d
	for c.Nanotime() < end {
	}
}
