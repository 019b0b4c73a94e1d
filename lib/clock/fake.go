// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a Clock with manually controlled time. Advance moves the
// clock forward and fires any AfterFunc callbacks whose deadline has
// been reached, synchronously and in deadline order. Safe for
// concurrent use.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	nextID  int
}

type fakeTimer struct {
	id       int
	deadline time.Time
	f        func()
	stopped  bool
}

// NewFake returns a Fake clock starting at a fixed, arbitrary instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the fake current time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run when the fake clock reaches now+d.
// If d <= 0, f runs synchronously before AfterFunc returns.
func (c *Fake) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	timer := &fakeTimer{id: c.nextID, deadline: c.now.Add(d), f: f}
	c.nextID++
	c.pending = append(c.pending, timer)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if timer.stopped {
			return false
		}
		timer.stopped = true
		return true
	}}
}

// Sleep advances the fake clock by d. Unlike a real clock this never
// blocks: the fake has no notion of other goroutines making progress.
func (c *Fake) Sleep(d time.Duration) { c.Advance(d) }

// Advance moves the clock forward by d, firing due timers in deadline
// order. Callbacks run synchronously on the calling goroutine, without
// the clock lock held, so a callback may schedule further timers.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		timer := c.popDue(target)
		if timer == nil {
			return
		}
		timer.f()
	}
}

// popDue removes and returns the earliest unstopped timer with a
// deadline at or before target, or nil when none remain.
func (c *Fake) popDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.SliceStable(c.pending, func(i, j int) bool {
		return c.pending[i].deadline.Before(c.pending[j].deadline)
	})
	for i, timer := range c.pending {
		if timer.stopped {
			continue
		}
		if timer.deadline.After(target) {
			break
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		// Mark fired so a later Stop reports false, matching
		// time.AfterFunc.
		timer.stopped = true
		return timer
	}
	return nil
}
