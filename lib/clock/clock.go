// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for components that expire
// or defer work: the update lock's TTL, and the delayed service reload
// after a successful build. Production code injects Real(); tests
// inject a Fake and advance it deterministically.
//
// Subprocess timeouts are the one deliberate exception: waiting on a
// child OS process is inherently wall-clock bound, so lib/proc uses
// the time package directly.
package clock

import "time"

// Clock is the time source injected into time-dependent components.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine. The returned Timer can cancel the pending call with
	// Stop. If d <= 0, f runs immediately.
	AfterFunc(d time.Duration, f func()) *Timer

	// Sleep pauses the current goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Timer represents a scheduled call created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns true if the call stops
// the timer, false if the timer has already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
