package sdsim

import (
	"io"
	"time"
)

// Clock is a deterministic [timer.Clock]. Time only advances by Tick on
// every call to Nanotime and by the requested duration on Delay, so that
// timeouts expire after a reproducible number of polls.
type Clock struct {
	Now  time.Duration
	Tick time.Duration
}

// NewClock returns a Clock advancing by 1µs per poll.
func NewClock() *Clock {
	return &Clock{Tick: time.Microsecond}
}

func (c *Clock) Nanotime() time.Duration {
	c.Now += c.Tick
	return c.Now
}

func (c *Clock) Delay(d time.Duration) {
	c.Now += d
}

// Image is an in-memory card image.
type Image []byte

func (m Image) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off >= int64(len(m)) {
		return 0, io.EOF
	}
	n = copy(p, m[off:])
	if n < len(p) {
		err = io.EOF
	}
	return
}

func (m Image) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off >= int64(len(m)) {
		return 0, io.ErrShortWrite
	}
	n = copy(m[off:], p)
	if n < len(p) {
		err = io.ErrShortWrite
	}
	return
}
