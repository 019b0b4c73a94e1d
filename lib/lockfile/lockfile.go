// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockfile provides the cross-process mutual exclusion that
// protects the working copy, dependency tree, and build output during
// an update attempt. A Lock combines an in-process held flag (fast
// rejection of a second attempt inside the same service) with an
// exclusively-created lock file recording the holder's pid and
// acquisition time.
//
// Stale locks left by a crashed holder are recovered two ways: a TTL
// on the recorded timestamp, and a liveness probe (signal 0) against
// the recorded pid. A lock whose holder cannot be positively shown to
// be dead is treated as busy — the lock fails closed.
//
// Supersede decisions run under an exclusive flock on a guard file
// next to the lock, so inspecting a stale lock and removing it is one
// atomic step: a competitor that judged the same file stale can never
// delete a replacement another acquirer just created.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/halyard-systems/halyard/lib/clock"
)

// DefaultTTL is how long a lock file is honored before it is presumed
// abandoned regardless of liveness. Thirty minutes comfortably covers
// the slowest legitimate update (fetch + install + build).
const DefaultTTL = 30 * time.Minute

// acquireAttempts bounds the delete-stale-and-retry loop. Each retry
// follows a state change we made ourselves (removing a corrupt or
// stale file), so two retries suffice in practice; the bound prevents
// livelock against a pathological competitor.
const acquireAttempts = 3

// ErrBusy is returned when another update attempt holds the lock, or
// when the lock's state cannot be determined safely.
var ErrBusy = errors.New("update lock held by another attempt")

// Record is the lock file payload.
type Record struct {
	// PID is the holder process id, probed for liveness by competing
	// acquirers.
	PID int `json:"pid"`

	// AcquiredAt is when the holder created the file; drives the TTL.
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a single named lock. One Lock value guards one target path;
// the in-process flag makes a second Acquire from the same process
// fail fast without touching the filesystem.
type Lock struct {
	path  string
	ttl   time.Duration
	clock clock.Clock

	held bool
}

// New returns a Lock over the given lock file path. A non-positive
// ttl means DefaultTTL.
func New(path string, ttl time.Duration, clk clock.Clock) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{path: path, ttl: ttl, clock: clk}
}

// Acquire takes the lock or returns ErrBusy with zero side effects on
// a live competitor's lock file. Of N concurrent acquirers exactly one
// succeeds: creation uses O_EXCL, and the guard flock makes the
// stale-file supersede (judge, then remove) atomic against competing
// acquirers.
//
// Acquire is not safe for concurrent use on the same Lock value; the
// update coordinator serializes access to it.
func (l *Lock) Acquire() error {
	if l.held {
		return ErrBusy
	}

	guard, err := l.acquireGuard()
	if err != nil {
		return err
	}
	defer guard.Close()

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		created, err := l.tryCreate()
		if err != nil {
			return err
		}
		if created {
			l.held = true
			return nil
		}

		// The file exists. Decide whether the holder is live.
		stale, err := l.holderStale()
		if err != nil {
			return err
		}
		if !stale {
			return ErrBusy
		}
		// Stale or corrupt: remove and retry. The guard flock is held,
		// so no competitor can have replaced the file since the
		// staleness judgment above.
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale lock file: %w", err)
		}
	}

	return ErrBusy
}

// acquireGuard takes an exclusive flock on the guard file beside the
// lock. Without it, two acquirers can both judge the same lock file
// stale; the slower one's remove then lands after the faster one's
// fresh O_EXCL create, deleting a live lock and letting a third
// acquirer win a second time. The guard file is created once and never
// removed, so every flock lands on the same inode. Closing the
// returned file releases the flock.
func (l *Lock) acquireGuard() (*os.File, error) {
	guard, err := os.OpenFile(l.path+".guard", os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock guard: %w", err)
	}
	if err := unix.Flock(int(guard.Fd()), unix.LOCK_EX); err != nil {
		guard.Close()
		return nil, fmt.Errorf("locking lock guard: %w", err)
	}
	return guard, nil
}

// tryCreate attempts the exclusive create. Returns created=false when
// the file already exists.
func (l *Lock) tryCreate() (bool, error) {
	file, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("creating lock file: %w", err)
	}

	record := Record{PID: os.Getpid(), AcquiredAt: l.clock.Now()}
	data, err := json.Marshal(record)
	if err != nil {
		file.Close()
		os.Remove(l.path)
		return false, fmt.Errorf("marshaling lock record: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		file.Close()
		os.Remove(l.path)
		return false, fmt.Errorf("writing lock record: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(l.path)
		return false, fmt.Errorf("closing lock file: %w", err)
	}
	return true, nil
}

// holderStale inspects the existing lock file and reports whether it
// may be safely superseded. Unparsable files are stale (a permanently
// corrupt lock must not deadlock updates forever). Within the TTL the
// recorded pid is probed: a pid that no longer exists is stale; a live
// pid, a pid owned by another user (EPERM proves existence), or any
// other probe failure is busy. Past the TTL the file is stale
// unconditionally.
func (l *Lock) holderStale() (bool, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between our create attempt and now.
			return true, nil
		}
		return false, fmt.Errorf("reading lock file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil || record.PID <= 0 {
		return true, nil
	}

	if l.clock.Now().Sub(record.AcquiredAt) > l.ttl {
		return true, nil
	}

	switch probeErr := unix.Kill(record.PID, 0); probeErr {
	case nil:
		return false, nil // alive
	case unix.ESRCH:
		return true, nil // no such process
	case unix.EPERM:
		return false, nil // exists, foreign owner: fail closed
	default:
		return false, nil // indeterminate: fail closed
	}
}

// Release drops the lock. The file is deleted only when its recorded
// pid is our own — a lock superseded by another process after our TTL
// expired must never be released out from under its new holder. The
// read-check-remove runs under the guard flock for the same reason the
// supersede does.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false

	guard, err := l.acquireGuard()
	if err != nil {
		return err
	}
	defer guard.Close()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading lock file for release: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil // corrupt: leave for the next acquirer's cleanup
	}
	if record.PID != os.Getpid() {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

// Held reports the in-process flag.
func (l *Lock) Held() bool { return l.held }
