// Copyright 2026 The Halyard Authors
// SPDX-License-Identifier: Apache-2.0

package update

import "context"

// rollback restores the working tree to the backup commit after a
// post-checkout failure: check the backup out again, purge the
// dependency directory, and reinstall against the restored lockfile.
// The live build output is never touched here — only a successful
// build swaps it, so it still matches the backup commit.
//
// Rollback is best effort. Each step that fails is logged into the
// attempt transcript and the remaining steps still run; the return
// value reports whether every step succeeded. A false return means
// the tree is in a degraded state that needs an operator.
func (u *Updater) rollback(ctx context.Context, attempt *Attempt, backup string) bool {
	attempt.logf("rolling back to %s", backup)
	restored := true

	if err := u.repo.CheckoutCommit(ctx, backup); err != nil {
		attempt.logf("rollback: restoring commit %s failed: %v", backup, err)
		u.logger.Error("rollback could not restore previous commit",
			"commit", backup, "error", err)
		restored = false
	}

	if err := u.installer.Purge(); err != nil {
		attempt.logf("rollback: purging dependencies failed: %v", err)
		u.logger.Warn("rollback could not purge dependency directory", "error", err)
		restored = false
	}

	if _, err := u.installer.Install(ctx); err != nil {
		attempt.logf("rollback: reinstalling dependencies failed: %v", err)
		u.logger.Error("rollback could not reinstall dependencies",
			"commit", backup, "error", err)
		restored = false
	}

	if restored {
		attempt.logf("rollback to %s complete", backup)
		u.logger.Info("rolled back to previous commit", "commit", backup)
	}
	return restored
}
