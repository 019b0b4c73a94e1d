// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"context"
	"errors"
	"os"
)

// Info is a point-in-time diagnostic snapshot of the update target.
// Collecting it never takes the update lock, so it is safe to call
// while an attempt is running.
type Info struct {
	// Path is the managed working tree.
	Path string

	// IsValid reports whether the path exists and is a git working
	// tree.
	IsValid bool

	// Message explains IsValid=false.
	Message string

	// InProgress reports whether an attempt is running in this
	// process, and Step its current phase.
	InProgress bool
	Step       Step

	// LastAttempt is the persisted record of the most recent attempt,
	// nil when none has run.
	LastAttempt *Record
}

// Info collects the diagnostic snapshot.
func (u *Updater) Info(ctx context.Context) Info {
	info := Info{Path: u.targetDir}

	if stat, err := os.Stat(u.targetDir); err != nil || !stat.IsDir() {
		info.Message = "target directory does not exist"
	} else if !u.repo.IsRepository(ctx) {
		info.Message = "target is not a git working tree"
	} else {
		info.IsValid = true
	}

	if attempt := u.current.Load(); attempt != nil {
		info.InProgress = true
		info.Step = attempt.Step()
	}

	if record, err := ReadLastRecord(u.stateDir); err == nil {
		info.LastAttempt = &record
	} else if !errors.Is(err, os.ErrNotExist) {
		u.logger.Warn("reading last attempt record failed", "error", err)
	}

	return info
}
