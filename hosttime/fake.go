package hosttime

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for tests. Time only moves on Advance
// or Set. AfterFunc callbacks run synchronously inside Advance, in deadline
// order, without the clock lock held.
type FakeClock struct {
	mu      sync.Mutex
	now     uint64
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline uint64
	f        func()
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial uint64) *FakeClock {
	return &FakeClock{now: initial}
}

func (c *FakeClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	w := &fakeWaiter{deadline: AddSigned(c.now, int64(d)), f: f}
	if d <= 0 {
		w.fired = true
		c.mu.Unlock()
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		return true
	}}
}

// Advance moves the clock forward by d and fires every timer whose deadline
// has been reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = AddSigned(c.now, int64(d))
	c.mu.Unlock()
	c.fire()
}

// Set jumps the clock to t. Moving backwards is allowed; timers only fire
// when their deadline is reached.
func (c *FakeClock) Set(t uint64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
	c.fire()
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

func (c *FakeClock) fire() {
	for {
		c.mu.Lock()
		var due []*fakeWaiter
		kept := c.waiters[:0]
		for _, w := range c.waiters {
			switch {
			case w.stopped || w.fired:
			case w.deadline <= c.now:
				w.fired = true
				due = append(due, w)
			default:
				kept = append(kept, w)
			}
		}
		c.waiters = kept
		c.mu.Unlock()

		if len(due) == 0 {
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].deadline < due[j].deadline })
		// callbacks may register new timers, so loop until nothing is due
		for _, w := range due {
			w.f()
		}
	}
}
