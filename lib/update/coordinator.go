// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"sync"

	"github.com/halyard-systems/halyard/lib/lockfile"
)

// Coordinator enforces the single-attempt invariant at both scopes:
// an in-process flag rejects concurrent calls within one process
// cheaply, and the cross-process lock file rejects attempts from other
// processes. The in-process check runs first so a busy process never
// touches the lock file at all.
type Coordinator struct {
	mu     sync.Mutex
	active bool
	lock   *lockfile.Lock
}

// NewCoordinator returns a Coordinator over the given lock.
func NewCoordinator(lock *lockfile.Lock) *Coordinator {
	return &Coordinator{lock: lock}
}

// Begin claims the right to run an attempt. Returns
// lockfile.ErrBusy when another attempt — in this process or any
// other — is already running.
func (c *Coordinator) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return lockfile.ErrBusy
	}
	if err := c.lock.Acquire(); err != nil {
		return err
	}
	c.active = true
	return nil
}

// Release ends the current attempt and frees both scopes. Safe to
// call when nothing is active.
func (c *Coordinator) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil
	}
	c.active = false
	return c.lock.Release()
}

// Active reports whether an attempt currently holds the coordinator.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
