// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	t.Parallel()

	fake := NewFake()
	var fired []string
	fake.AfterFunc(2*time.Minute, func() { fired = append(fired, "later") })
	fake.AfterFunc(1*time.Minute, func() { fired = append(fired, "sooner") })

	fake.Advance(30 * time.Second)
	if len(fired) != 0 {
		t.Fatalf("fired %v before any deadline", fired)
	}

	fake.Advance(2 * time.Minute)
	if len(fired) != 2 || fired[0] != "sooner" || fired[1] != "later" {
		t.Fatalf("fired = %v, want [sooner later]", fired)
	}
}

func TestFake_StopPreventsFiring(t *testing.T) {
	t.Parallel()

	fake := NewFake()
	fired := false
	timer := fake.AfterFunc(time.Minute, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	fake.Advance(2 * time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
}

func TestFake_StopAfterFireReportsFalse(t *testing.T) {
	t.Parallel()

	fake := NewFake()
	timer := fake.AfterFunc(time.Minute, func() {})
	fake.Advance(time.Minute)
	if timer.Stop() {
		t.Fatal("Stop returned true for a timer that already fired")
	}
}

func TestFake_ZeroDurationRunsImmediately(t *testing.T) {
	t.Parallel()

	fake := NewFake()
	fired := false
	fake.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Fatal("AfterFunc(0) did not run synchronously")
	}
}

func TestFake_CallbackMaySchedule(t *testing.T) {
	t.Parallel()

	fake := NewFake()
	second := false
	fake.AfterFunc(time.Minute, func() {
		fake.AfterFunc(time.Minute, func() { second = true })
	})

	fake.Advance(time.Minute)
	if second {
		t.Fatal("nested timer fired early")
	}
	fake.Advance(time.Minute)
	if !second {
		t.Fatal("nested timer never fired")
	}
}
