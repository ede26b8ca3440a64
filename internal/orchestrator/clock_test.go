package orchestrator

import (
	"sort"
	"sync"
	"time"
)

// fakeClock is a manually advanced Clock used across the package tests.
// Advance fires due callbacks synchronously, outside the clock's own lock,
// so callbacks are free to arm new timers or call back into the code under
// test.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	id      int
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		timers: make(map[int]*fakeTimer),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, id: c.seq, at: c.now.Add(d), fn: fn}
	c.timers[t.id] = t
	return t
}

// Advance moves the clock forward and runs every callback whose deadline
// has passed, in deadline order. Callbacks scheduled during the advance are
// themselves fired if they fall within the new time.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.nextDue()
		if t == nil {
			return
		}
		t.fn()
	}
}

// nextDue pops the earliest due timer, or nil if none are due
func (c *fakeClock) nextDue() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	due := make([]*fakeTimer, 0, len(c.timers))
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	picked := due[0]
	picked.fired = true
	delete(c.timers, picked.id)
	return picked
}

// pendingTimers reports how many timers are armed and not yet fired
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	delete(t.clock.timers, t.id)
	return true
}
