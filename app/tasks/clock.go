package tasks

import (
	"sync"
	"time"
)

// RealClock is the wall clock. Each recurring timer runs on its own goroutine.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) Every(first time.Time, interval time.Duration, fn func(scheduled time.Time)) Timer {
	t := &realTimer{done: make(chan struct{})}
	go t.run(first, interval, fn)
	return t
}

type realTimer struct {
	done chan struct{}
	once sync.Once
}

func (t *realTimer) Stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *realTimer) run(next time.Time, interval time.Duration, fn func(time.Time)) {
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-timer.C:
		}

		select {
		case <-t.done:
			return
		default:
		}

		fn(next)

		// Fixed rate: the next slot follows the previous scheduled time.
		// Slots that already passed while the driver was stalled are coalesced.
		next = next.Add(interval)
		if now := time.Now(); !next.After(now) {
			skipped := int64(now.Sub(next)/interval) + 1
			next = next.Add(time.Duration(skipped) * interval)
		}
		timer.Reset(time.Until(next))
	}
}

// ManualClock is a virtual clock. Time only moves when Advance is called, and
// due timers fire synchronously on the caller's goroutine in scheduled order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
	seq    int
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Every(first time.Time, interval time.Duration, fn func(scheduled time.Time)) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &manualTimer{
		clock:    c,
		seq:      c.seq,
		next:     first,
		interval: interval,
		fn:       fn,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer slot that falls
// within the window. Each firing happens with Now() equal to its slot.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		due := c.earliestDue(target)
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}

		scheduled := due.next
		if scheduled.After(c.now) {
			c.now = scheduled
		}
		due.next = due.next.Add(due.interval)
		fn := due.fn
		c.mu.Unlock()

		fn(scheduled)
	}
}

// ActiveTimers reports how many timers are armed.
func (c *ManualClock) ActiveTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *ManualClock) earliestDue(target time.Time) *manualTimer {
	var due *manualTimer
	for _, t := range c.timers {
		if t.next.After(target) {
			continue
		}
		if due == nil || t.next.Before(due.next) || (t.next.Equal(due.next) && t.seq < due.seq) {
			due = t
		}
	}
	return due
}

type manualTimer struct {
	clock    *ManualClock
	seq      int
	next     time.Time
	interval time.Duration
	fn       func(time.Time)
}

func (t *manualTimer) Stop() {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}
