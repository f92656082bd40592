//go:build noos

package timer

import (
	"embedded/rtos"
	"time"
)

type systemClock struct{}

// System is the rtos system timer. It must be set up by the board before
// the first driver call.
var System Clock = systemClock{}

func (systemClock) Nanotime() time.Duration {
	return time.Duration(rtos.Nanotime())
}

func (c systemClock) Delay(d time.Duration) {
	end := c.Nanotime() + d
	for c.Nanotime() < end {
	}
}
