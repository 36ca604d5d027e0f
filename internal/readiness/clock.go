package readiness

import (
	"sort"
	"sync"
	"time"
)

// Stopper cancels a scheduled callback. Stop reports whether the call
// prevented the callback from running.
type Stopper interface {
	Stop() bool
}

// Clock schedules deferred callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

// SystemClock schedules callbacks on the runtime timer.
type SystemClock struct{}

// AfterFunc implements Clock.
func (SystemClock) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// FakeClock is a manually advanced Clock. Callbacks run synchronously inside
// Advance, in deadline order.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *FakeClock
	at    time.Duration
	seq   int
	f     func()
	done  bool
}

// NewFakeClock returns a clock positioned at zero.
func NewFakeClock() *FakeClock {
	return &FakeClock{}
}

// AfterFunc implements Clock.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, at: c.now + d, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Now returns the elapsed fake time.
func (c *FakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns the number of callbacks that have neither fired nor been
// stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, running every callback that becomes
// due, including callbacks scheduled by earlier callbacks.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDue(target)
		if next == nil {
			c.now = target
			c.compact()
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.done = true
		c.mu.Unlock()

		next.f()
	}
}

func (c *FakeClock) nextDue(target time.Duration) *fakeTimer {
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && t.at <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at == due[j].at {
			return due[i].seq < due[j].seq
		}
		return due[i].at < due[j].at
	})
	return due[0]
}

func (c *FakeClock) compact() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	c.timers = live
}
