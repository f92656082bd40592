package timer_test

import (
	"testing"
	"time"

	"github.com/clktmr/sdhc/soc/timer"
)

// stepClock advances by step on every read.
type stepClock struct {
	now, step time.Duration
}

func (c *stepClock) Nanotime() time.Duration {
	c.now += c.step
	return c.now
}

func (c *stepClock) Delay(d time.Duration) { c.now += d }

func TestPoll(t *testing.T) {
	c := &stepClock{step: time.Millisecond}

	calls := 0
	ok := timer.Poll(timer.After(c, 10*time.Millisecond), func() bool {
		calls++
		return false
	})
	if ok {
		t.Fatal("expected timeout")
	}
	if calls < 9 || calls > 11 {
		t.Fatalf("expected about 10 polls, got %d", calls)
	}

	calls = 0
	ok = timer.Poll(timer.After(c, time.Second), func() bool {
		calls++
		return calls == 3
	})
	if !ok || calls != 3 {
		t.Fatalf("expected success after 3 polls, got %v after %d", ok, calls)
	}
}

func TestDeadline(t *testing.T) {
	c := &stepClock{}
	d := timer.After(c, 5*time.Millisecond)
	if d.Expired() {
		t.Fatal("expired too early")
	}
	c.Delay(3 * time.Millisecond)
	if got := d.Remaining(); got != 2*time.Millisecond {
		t.Fatalf("expected 2ms remaining, got %v", got)
	}
	c.Delay(2 * time.Millisecond)
	if !d.Expired() || d.Remaining() != 0 {
		t.Fatal("expected deadline to be expired")
	}
}

func TestSystemDelay(t *testing.T) {
	start := timer.System.Nanotime()
	timer.System.Delay(2 * time.Millisecond)
	if elapsed := timer.System.Nanotime() - start; elapsed < 2*time.Millisecond {
		t.Fatalf("delay returned after %v", elapsed)
	}
}
